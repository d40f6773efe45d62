package storage

import (
	"context"
	"errors"
	"time"

	"github.com/quyetvm183/Encybara/internal/models"
)

// ErrDuplicateEnrollment is returned by Upsert when another row already
// holds the (user, course) pair.
var ErrDuplicateEnrollment = errors.New("enrollment already exists for user and course")

// CatalogStore reads the course catalog
type CatalogStore interface {
	// FindPublicByAxisAndRange returns PUBLIC courses of one axis whose
	// difficulty lies in [lower, upper], ordered by difficulty then id.
	FindPublicByAxisAndRange(ctx context.Context, axis models.SkillAxis, lower, upper float64) ([]models.CourseCandidate, error)

	// FindAll returns every course regardless of status, oldest first.
	FindAll(ctx context.Context) ([]models.CourseCandidate, error)
}

// CatalogWriter inserts or replaces catalog courses
type CatalogWriter interface {
	UpsertCourses(ctx context.Context, courses []models.CourseCandidate) error
}

// EnrollmentStore persists enrollments. Implementations must enforce
// uniqueness of (user_id, course_id) across all writers.
type EnrollmentStore interface {
	FindActive(ctx context.Context, userID, courseID string) (*models.Enrollment, error)
	FindInactive(ctx context.Context, userID, courseID string) (*models.Enrollment, error)

	// Upsert inserts e, or when a row with e.ID exists refreshes its
	// enroll date and profile reference. A (user, course) collision with a
	// different row yields ErrDuplicateEnrollment.
	Upsert(ctx context.Context, e *models.Enrollment) error

	DeleteAllInactive(ctx context.Context, userID string) (int64, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Enrollment, error)
}

// CompletionHistory exposes trailing completion data
type CompletionHistory interface {
	// AverageCompletionRate returns the mean completion percentage of the
	// learner's active enrollments on axis enrolled since the given time,
	// or nil when there are none.
	AverageCompletionRate(ctx context.Context, userID string, axis models.SkillAxis, since time.Time) (*float64, error)
}

// ProfileStore reads skill profiles
type ProfileStore interface {
	FindByUser(ctx context.Context, userID string) (*models.SkillProfile, error)
	ListUserIDs(ctx context.Context) ([]string, error)
	MarkRefreshed(ctx context.Context, userID string, at time.Time) error
}

// ProfileWriter stores profiles; used by seeding and tests only
type ProfileWriter interface {
	SaveProfile(ctx context.Context, p *models.SkillProfile) error
}

// Repository defines the full persistence surface
type Repository interface {
	CatalogStore
	CatalogWriter
	EnrollmentStore
	CompletionHistory
	ProfileStore
	ProfileWriter

	// Health
	Ping(ctx context.Context) error
	Close() error
}
