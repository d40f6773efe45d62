package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Score scale bounds shared by profiles, courses and difficulty bands
const (
	MinScore = 1.0
	MaxScore = 7.0
)

// SkillAxis identifies one measurable competency or the composite of all four
type SkillAxis string

const (
	AxisListening SkillAxis = "LISTENING"
	AxisSpeaking  SkillAxis = "SPEAKING"
	AxisReading   SkillAxis = "READING"
	AxisWriting   SkillAxis = "WRITING"
	AxisAllSkills SkillAxis = "ALLSKILLS"
)

// SingleAxes lists the four individual skills in canonical order
var SingleAxes = []SkillAxis{AxisListening, AxisSpeaking, AxisReading, AxisWriting}

// AllAxes lists every axis, composite last
var AllAxes = []SkillAxis{AxisListening, AxisSpeaking, AxisReading, AxisWriting, AxisAllSkills}

// ParseSkillAxis converts a case-insensitive name into a SkillAxis
func ParseSkillAxis(s string) (SkillAxis, error) {
	axis := SkillAxis(strings.ToUpper(strings.TrimSpace(s)))
	if !axis.Valid() {
		return "", fmt.Errorf("unknown skill axis: %q", s)
	}
	return axis, nil
}

// Valid reports whether the axis is one of the known values
func (a SkillAxis) Valid() bool {
	switch a {
	case AxisListening, AxisSpeaking, AxisReading, AxisWriting, AxisAllSkills:
		return true
	}
	return false
}

// IsComposite returns true for ALLSKILLS
func (a SkillAxis) IsComposite() bool {
	return a == AxisAllSkills
}

// SkillScores holds one score per individual skill
type SkillScores struct {
	Listening float64 `json:"listening"`
	Speaking  float64 `json:"speaking"`
	Reading   float64 `json:"reading"`
	Writing   float64 `json:"writing"`
}

// Get returns the score for an axis. ALLSKILLS resolves to the average
// rounded to the nearest half point.
func (s SkillScores) Get(axis SkillAxis) float64 {
	switch axis {
	case AxisListening:
		return s.Listening
	case AxisSpeaking:
		return s.Speaking
	case AxisReading:
		return s.Reading
	case AxisWriting:
		return s.Writing
	case AxisAllSkills:
		return RoundHalf(s.Average())
	}
	return 0
}

// Average returns the unrounded mean of the four skills
func (s SkillScores) Average() float64 {
	return (s.Listening + s.Speaking + s.Reading + s.Writing) / 4.0
}

// Max returns the highest individual score and its axis. Ties keep the
// earlier axis in SingleAxes order.
func (s SkillScores) Max() (SkillAxis, float64) {
	best := SingleAxes[0]
	bestScore := s.Get(best)
	for _, axis := range SingleAxes[1:] {
		if v := s.Get(axis); v > bestScore {
			best, bestScore = axis, v
		}
	}
	return best, bestScore
}

// Min returns the lowest individual score
func (s SkillScores) Min() float64 {
	low := s.Listening
	for _, axis := range SingleAxes[1:] {
		low = math.Min(low, s.Get(axis))
	}
	return low
}

// SkillProfile is a learner's current and previous evaluation. Scores are
// written by the completion evaluator; the recommender only reads them.
type SkillProfile struct {
	ID                         string      `json:"id"`
	UserID                     string      `json:"user_id"`
	Current                    SkillScores `json:"current"`
	Previous                   SkillScores `json:"previous"`
	LastUpdated                time.Time   `json:"last_updated"`
	RecommendationsRefreshedAt *time.Time  `json:"recommendations_refreshed_at,omitempty"`
}

// Level returns the current score for an axis
func (p *SkillProfile) Level(axis SkillAxis) float64 {
	return p.Current.Get(axis)
}

// PreviousLevel returns the previous score for an axis
func (p *SkillProfile) PreviousLevel(axis SkillAxis) float64 {
	return p.Previous.Get(axis)
}

// Improvement returns current minus previous for an axis
func (p *SkillProfile) Improvement(axis SkillAxis) float64 {
	return p.Level(axis) - p.PreviousLevel(axis)
}

// RoundHalf rounds to the nearest 0.5
func RoundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}

// ClampScore pins v into [MinScore, MaxScore]
func ClampScore(v float64) float64 {
	return math.Max(MinScore, math.Min(MaxScore, v))
}
