package models

import "strings"

// PublicationStatus is the catalog visibility of a course
type PublicationStatus string

const (
	CoursePending PublicationStatus = "PENDING"
	CoursePublic  PublicationStatus = "PUBLIC"
	CoursePrivate PublicationStatus = "PRIVATE"
)

// placementMarker tags courses that exist only to place new learners
const placementMarker = "(Placement)"

// CourseCandidate is the read-only view of a catalog course used for recommendation
type CourseCandidate struct {
	ID               string            `json:"id" yaml:"id"`
	Name             string            `json:"name" yaml:"name"`
	Axis             SkillAxis         `json:"skill_axis" yaml:"skill_axis"`
	DifficultyLevel  float64           `json:"difficulty_level" yaml:"difficulty_level"`
	RecommendedLevel float64           `json:"recommended_level" yaml:"recommended_level"`
	Status           PublicationStatus `json:"status" yaml:"status"`
}

// IsPublic returns true if learners can see the course
func (c *CourseCandidate) IsPublic() bool {
	return c.Status == CoursePublic
}

// IsPlacement returns true for placement-test courses
func (c *CourseCandidate) IsPlacement() bool {
	return strings.Contains(c.Name, placementMarker)
}

// Band is a closed interval of acceptable course difficulty
type Band struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// NewBand builds a band clamped to the score scale
func NewBand(lower, upper float64) Band {
	return Band{Lower: ClampScore(lower), Upper: ClampScore(upper)}
}

// Window returns [center-radius, center+radius] clamped to the score scale
func Window(center, radius float64) Band {
	return NewBand(center-radius, center+radius)
}

// Contains reports whether v lies inside the band
func (b Band) Contains(v float64) bool {
	return v >= b.Lower && v <= b.Upper
}

// RecommendationRequest asks the catalog for one axis within one band
type RecommendationRequest struct {
	Axis SkillAxis
	Band Band
}
