package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/storage"
)

// DefaultCompletionWindow is how far back completion history is averaged
const DefaultCompletionWindow = 30 * 24 * time.Hour

// readinessSpread is the widest current-score spread that still counts as balanced
const readinessSpread = 1.0

// Orchestrator computes ranked recommendations for one learner
type Orchestrator struct {
	catalog storage.CatalogStore
	history storage.CompletionHistory
	window  time.Duration
	now     func() time.Time
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithCompletionWindow sets the trailing completion window
func WithCompletionWindow(window time.Duration) Option {
	return func(o *Orchestrator) {
		if window > 0 {
			o.window = window
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(catalog storage.CatalogStore, history storage.CompletionHistory, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog: catalog,
		history: history,
		window:  DefaultCompletionWindow,
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// ValidateProfile checks that every score lies in [0, 7]
func ValidateProfile(profile *models.SkillProfile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile is nil", ErrInvalidProfile)
	}

	for _, axis := range models.SingleAxes {
		for _, v := range []float64{profile.Current.Get(axis), profile.Previous.Get(axis)} {
			if !(v >= 0 && v <= models.MaxScore) {
				return fmt.Errorf("%w: %s score %v out of range", ErrInvalidProfile, axis, v)
			}
		}
	}

	return nil
}

// CompletionRates returns the trailing completion rate per axis. Axes with
// no history are absent from the map.
func (o *Orchestrator) CompletionRates(ctx context.Context, userID string) (map[models.SkillAxis]float64, error) {
	since := o.now().Add(-o.window)
	rates := make(map[models.SkillAxis]float64, len(models.AllAxes))

	for _, axis := range models.AllAxes {
		rate, err := o.history.AverageCompletionRate(ctx, userID, axis, since)
		if err != nil {
			return nil, fmt.Errorf("failed to load completion rate for %s: %w", axis, err)
		}
		if rate != nil {
			rates[axis] = *rate
		}
	}

	return rates, nil
}

// ReadyForAllSkills reports whether the learner's skills are balanced,
// all improving, and well completed wherever there is history.
func ReadyForAllSkills(profile *models.SkillProfile, rates map[models.SkillAxis]float64) bool {
	_, high := profile.Current.Max()
	if high-profile.Current.Min() > readinessSpread {
		return false
	}

	for _, axis := range models.SingleAxes {
		if profile.Level(axis) <= profile.PreviousLevel(axis) {
			return false
		}
		if rate, ok := rates[axis]; ok && rate < ProgressionRate {
			return false
		}
	}

	return true
}

// Recommend computes a band per axis, filters the catalog and returns the
// ranked aggregate. ALLSKILLS is considered only for ready learners.
func (o *Orchestrator) Recommend(ctx context.Context, profile *models.SkillProfile) ([]models.CourseCandidate, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}

	rates, err := o.CompletionRates(ctx, profile.UserID)
	if err != nil {
		return nil, err
	}

	ready := ReadyForAllSkills(profile, rates)

	axes := models.SingleAxes
	if ready {
		axes = models.AllAxes
	}

	var aggregate []models.CourseCandidate
	for _, axis := range axes {
		var rate *float64
		if r, ok := rates[axis]; ok {
			rate = &r
		}

		band := AxisBand(profile, axis, rate)

		courses, err := o.catalog.FindPublicByAxisAndRange(ctx, axis, band.Lower, band.Upper)
		if err != nil {
			return nil, fmt.Errorf("failed to query catalog for %s: %w", axis, err)
		}

		matched := FilterCandidates(profile, axis, band, courses)

		slog.Debug("axis band computed",
			"user_id", profile.UserID,
			"axis", axis,
			"lower", band.Lower,
			"upper", band.Upper,
			"matched", len(matched),
		)

		aggregate = append(aggregate, matched...)
	}

	if len(aggregate) == 0 {
		return nil, fmt.Errorf("%w: user %s", ErrNoSuitableCandidates, profile.UserID)
	}

	return RankCandidates(profile, aggregate, ready), nil
}

// RecommendWithinBand replaces per-axis band computation with an explicit
// band queried on each axis (the four single axes by default). Candidates
// still pass the suitability filter for their own axis.
func (o *Orchestrator) RecommendWithinBand(ctx context.Context, profile *models.SkillProfile, band models.Band, axes ...models.SkillAxis) ([]models.CourseCandidate, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}

	if len(axes) == 0 {
		axes = models.SingleAxes
	}

	rates, err := o.CompletionRates(ctx, profile.UserID)
	if err != nil {
		return nil, err
	}

	band = models.NewBand(band.Lower, band.Upper)

	var aggregate []models.CourseCandidate
	for _, axis := range axes {
		courses, err := o.catalog.FindPublicByAxisAndRange(ctx, axis, band.Lower, band.Upper)
		if err != nil {
			return nil, fmt.Errorf("failed to query catalog for %s: %w", axis, err)
		}
		aggregate = append(aggregate, FilterCandidates(profile, axis, band, courses)...)
	}

	if len(aggregate) == 0 {
		return nil, fmt.Errorf("%w: user %s band [%.1f, %.1f]", ErrNoSuitableCandidates, profile.UserID, band.Lower, band.Upper)
	}

	return RankCandidates(profile, aggregate, ReadyForAllSkills(profile, rates)), nil
}
