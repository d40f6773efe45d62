package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quyetvm183/Encybara/internal/models"
)

// MemoryRepository is an in-process Repository. It enforces the same
// (user, course) uniqueness as the SQL schemas so callers see identical
// conflict behaviour.
type MemoryRepository struct {
	mu          sync.RWMutex
	courses     map[string]models.CourseCandidate
	courseOrder []string
	enrollments map[string]*models.Enrollment
	profiles    map[string]*models.SkillProfile
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		courses:     make(map[string]models.CourseCandidate),
		enrollments: make(map[string]*models.Enrollment),
		profiles:    make(map[string]*models.SkillProfile),
	}
}

func (r *MemoryRepository) Ping(ctx context.Context) error { return ctx.Err() }

func (r *MemoryRepository) Close() error { return nil }

func (r *MemoryRepository) FindPublicByAxisAndRange(ctx context.Context, axis models.SkillAxis, lower, upper float64) ([]models.CourseCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.CourseCandidate
	for _, id := range r.courseOrder {
		c := r.courses[id]
		if c.IsPublic() && c.Axis == axis && c.DifficultyLevel >= lower && c.DifficultyLevel <= upper {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DifficultyLevel != out[j].DifficultyLevel {
			return out[i].DifficultyLevel < out[j].DifficultyLevel
		}
		return out[i].ID < out[j].ID
	})

	return out, nil
}

func (r *MemoryRepository) FindAll(ctx context.Context) ([]models.CourseCandidate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.CourseCandidate, 0, len(r.courseOrder))
	for _, id := range r.courseOrder {
		out = append(out, r.courses[id])
	}
	return out, nil
}

func (r *MemoryRepository) UpsertCourses(ctx context.Context, courses []models.CourseCandidate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range courses {
		if _, exists := r.courses[c.ID]; !exists {
			r.courseOrder = append(r.courseOrder, c.ID)
		}
		r.courses[c.ID] = c
	}
	return nil
}

func (r *MemoryRepository) FindActive(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	return r.findEnrollment(userID, courseID, true), nil
}

func (r *MemoryRepository) FindInactive(ctx context.Context, userID, courseID string) (*models.Enrollment, error) {
	return r.findEnrollment(userID, courseID, false), nil
}

func (r *MemoryRepository) findEnrollment(userID, courseID string, active bool) *models.Enrollment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.enrollments {
		if e.UserID == userID && e.CourseID == courseID && e.Active == active {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, e *models.Enrollment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.enrollments[e.ID]; ok {
		existing.EnrollDate = e.EnrollDate
		existing.ProfileID = e.ProfileID
		return nil
	}

	for _, other := range r.enrollments {
		if other.UserID == e.UserID && other.CourseID == e.CourseID {
			return fmt.Errorf("%w: user %s course %s", ErrDuplicateEnrollment, e.UserID, e.CourseID)
		}
	}

	cp := *e
	r.enrollments[e.ID] = &cp
	return nil
}

func (r *MemoryRepository) DeleteAllInactive(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, e := range r.enrollments {
		if e.UserID == userID && !e.Active {
			delete(r.enrollments, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*models.Enrollment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Enrollment
	for _, e := range r.enrollments {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrollDate.Equal(out[j].EnrollDate) {
			return out[i].EnrollDate.After(out[j].EnrollDate)
		}
		return out[i].CourseID < out[j].CourseID
	})

	return out, nil
}

func (r *MemoryRepository) AverageCompletionRate(ctx context.Context, userID string, axis models.SkillAxis, since time.Time) (*float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sum float64
	var n int
	for _, e := range r.enrollments {
		if e.UserID != userID || !e.Active || e.EnrollDate.Before(since) {
			continue
		}
		c, ok := r.courses[e.CourseID]
		if !ok || c.Axis != axis {
			continue
		}
		sum += e.CompletionLevel
		n++
	}

	if n == 0 {
		return nil, nil
	}
	avg := sum / float64(n)
	return &avg, nil
}

func (r *MemoryRepository) FindByUser(ctx context.Context, userID string) (*models.SkillProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepository) MarkRefreshed(ctx context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.profiles[userID]; ok {
		t := at
		p.RecommendationsRefreshedAt = &t
	}
	return nil
}

func (r *MemoryRepository) SaveProfile(ctx context.Context, p *models.SkillProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *p
	if existing, ok := r.profiles[p.UserID]; ok {
		cp.RecommendationsRefreshedAt = existing.RecommendationsRefreshedAt
	}
	r.profiles[p.UserID] = &cp
	return nil
}

// SetActive flips an enrollment to the opted-in state with the given
// completion, mirroring what the learner-facing application does.
func (r *MemoryRepository) SetActive(userID, courseID string, completion float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.enrollments {
		if e.UserID == userID && e.CourseID == courseID {
			e.Active = true
			e.CompletionLevel = completion
		}
	}
}

var _ Repository = (*MemoryRepository)(nil)
var _ Repository = (*SQLiteRepository)(nil)
var _ Repository = (*PostgresRepository)(nil)
