package models

import "time"

// Enrollment links a learner to a course. Inactive rows are system
// recommendations; the learner opting in flips Active to true.
type Enrollment struct {
	ID                     string    `json:"id"`
	UserID                 string    `json:"user_id"`
	CourseID               string    `json:"course_id"`
	EnrollDate             time.Time `json:"enroll_date"`
	Active                 bool      `json:"active"`
	CompletionLevel        float64   `json:"completion_level"`
	TotalPoints            int       `json:"total_points"`
	SkillScoreAtCompletion *float64  `json:"skill_score_at_completion,omitempty"`
	ProfileID              string    `json:"profile_id,omitempty"`
}

// IsRecommendation returns true for rows the learner has not opted into
func (e *Enrollment) IsRecommendation() bool {
	return !e.Active
}

// NewRecommendation builds a fresh inactive enrollment for a profile
func NewRecommendation(id string, profile *SkillProfile, courseID string, now time.Time) *Enrollment {
	return &Enrollment{
		ID:              id,
		UserID:          profile.UserID,
		CourseID:        courseID,
		EnrollDate:      now,
		Active:          false,
		CompletionLevel: 0,
		TotalPoints:     0,
		ProfileID:       profile.ID,
	}
}
