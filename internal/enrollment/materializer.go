package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quyetvm183/Encybara/internal/metrics"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/storage"
)

// ErrTransientWriteConflict means a (user, course) race outlasted every retry
var ErrTransientWriteConflict = errors.New("transient enrollment write conflict")

// DefaultProgressiveLimit caps rows written per progressive call
const DefaultProgressiveLimit = 3

// Action describes what happened to one candidate
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionSkipped Action = "skipped"
)

// Materializer writes recommendations as inactive enrollments
type Materializer struct {
	store  storage.EnrollmentStore
	limit  int
	policy RetryPolicy
	now    func() time.Time
	newID  func() string
}

// Option configures the materializer
type Option func(*Materializer)

// WithLimit sets the progressive cap; values <= 0 keep the default
func WithLimit(limit int) Option {
	return func(m *Materializer) {
		if limit > 0 {
			m.limit = limit
		}
	}
}

// WithRetryPolicy replaces the conflict retry policy
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(m *Materializer) {
		m.policy = policy.withDefaults()
	}
}

// WithClock replaces time.Now for enroll dates
func WithClock(now func() time.Time) Option {
	return func(m *Materializer) {
		m.now = now
	}
}

// NewMaterializer creates a new materializer
func NewMaterializer(store storage.EnrollmentStore, opts ...Option) *Materializer {
	m := &Materializer{
		store:  store,
		limit:  DefaultProgressiveLimit,
		policy: DefaultRetryPolicy(),
		now:    time.Now,
		newID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Limit returns the progressive cap
func (m *Materializer) Limit() int {
	return m.limit
}

// Materialize writes candidates in order, stopping once the progressive
// cap of created or updated rows is reached.
func (m *Materializer) Materialize(ctx context.Context, profile *models.SkillProfile, candidates []models.CourseCandidate) (int, error) {
	return m.MaterializeUpTo(ctx, profile, candidates, m.limit)
}

// MaterializeAll processes the whole candidate list
func (m *Materializer) MaterializeAll(ctx context.Context, profile *models.SkillProfile, candidates []models.CourseCandidate) (int, error) {
	return m.MaterializeUpTo(ctx, profile, candidates, 0)
}

// MaterializeUpTo writes at most limit rows; limit <= 0 means no cap.
// Candidates already active for the learner are skipped and not counted.
func (m *Materializer) MaterializeUpTo(ctx context.Context, profile *models.SkillProfile, candidates []models.CourseCandidate, limit int) (int, error) {
	count := 0

	for _, course := range candidates {
		if limit > 0 && count >= limit {
			break
		}

		action, err := m.materializeOne(ctx, profile, course)
		if err != nil {
			return count, err
		}

		metrics.RecordMaterialize(string(action))
		if action != ActionSkipped {
			count++
		}
	}

	return count, nil
}

// materializeOne retries on uniqueness conflicts. Each attempt re-reads the
// pair so a row inserted by a racing writer turns into an update or skip.
func (m *Materializer) materializeOne(ctx context.Context, profile *models.SkillProfile, course models.CourseCandidate) (Action, error) {
	for attempt := 1; ; attempt++ {
		action, err := m.write(ctx, profile, course)
		if err == nil {
			return action, nil
		}

		if !errors.Is(err, storage.ErrDuplicateEnrollment) {
			return "", err
		}

		if attempt >= m.policy.MaxAttempts {
			metrics.RecordWriteConflict("exhausted")
			slog.Error("enrollment conflict retries exhausted",
				"user_id", profile.UserID,
				"course_id", course.ID,
				"attempts", attempt,
			)
			return "", fmt.Errorf("%w: user %s course %s after %d attempts", ErrTransientWriteConflict, profile.UserID, course.ID, attempt)
		}

		metrics.RecordWriteConflict("retried")
		wait := m.policy.Backoff(attempt)
		slog.Warn("enrollment write conflict, retrying",
			"user_id", profile.UserID,
			"course_id", course.ID,
			"attempt", attempt,
			"backoff", wait,
		)

		if err := m.policy.Sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

func (m *Materializer) write(ctx context.Context, profile *models.SkillProfile, course models.CourseCandidate) (Action, error) {
	active, err := m.store.FindActive(ctx, profile.UserID, course.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check active enrollment: %w", err)
	}
	if active != nil {
		return ActionSkipped, nil
	}

	now := m.now()

	existing, err := m.store.FindInactive(ctx, profile.UserID, course.ID)
	if err != nil {
		return "", fmt.Errorf("failed to check recommendation: %w", err)
	}

	if existing != nil {
		existing.EnrollDate = now
		existing.ProfileID = profile.ID
		if err := m.store.Upsert(ctx, existing); err != nil {
			return "", err
		}
		return ActionUpdated, nil
	}

	if err := m.store.Upsert(ctx, models.NewRecommendation(m.newID(), profile, course.ID, now)); err != nil {
		return "", err
	}

	slog.Debug("recommendation created", "user_id", profile.UserID, "course_id", course.ID)
	return ActionCreated, nil
}
