package recommend

import (
	"math"

	"github.com/quyetvm183/Encybara/internal/models"
)

// Completion-rate thresholds, in percent
const (
	ProgressionRate  = 60.0
	RemediationRate  = 50.0
	bandRadius       = 0.5
	progressionReach = 1.0
)

// CalculateBand turns one axis score, its previous value and the trailing
// completion rate (nil when there is no history) into a difficulty band.
// The result always satisfies MinScore <= Lower <= Upper <= MaxScore.
func CalculateBand(current, previous float64, rate *float64) models.Band {
	s := models.ClampScore(current)

	lower, upper := s-bandRadius, s+bandRadius

	if rate != nil {
		switch {
		case *rate >= ProgressionRate:
			upper = s + progressionReach
		case *rate < RemediationRate:
			lower, upper = s-progressionReach, s
		}
	}

	// Stagnation wins over progression and remediation
	stagnant := current <= previous || (rate != nil && *rate < ProgressionRate)
	if stagnant {
		upper = s
		lower = math.Max(models.MinScore, s-bandRadius)
	}

	return models.NewBand(lower, upper)
}

// AxisBand computes the band for one axis of a profile. ALLSKILLS uses the
// half-rounded average of the four scores and is pinned to half a point
// either side of it.
func AxisBand(profile *models.SkillProfile, axis models.SkillAxis, rate *float64) models.Band {
	current := profile.Level(axis)
	band := CalculateBand(current, profile.PreviousLevel(axis), rate)

	if axis.IsComposite() {
		s := models.ClampScore(current)
		band = models.NewBand(
			math.Max(band.Lower, s-bandRadius),
			math.Min(band.Upper, s+bandRadius),
		)
	}

	return band
}
