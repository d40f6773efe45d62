package enrollment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/storage"
)

type fakeSleeper struct {
	waits []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	return nil
}

// racingStore inserts a competing row right before the first Upsert of
// each new enrollment, the way a concurrent refresh would.
type racingStore struct {
	*storage.MemoryRepository
	races int
}

func (s *racingStore) Upsert(ctx context.Context, e *models.Enrollment) error {
	if s.races > 0 {
		s.races--
		rival := *e
		rival.ID = "rival-" + e.CourseID
		if err := s.MemoryRepository.Upsert(ctx, &rival); err != nil {
			return err
		}
	}
	return s.MemoryRepository.Upsert(ctx, e)
}

// conflictStore always reports a duplicate but never shows the row
type conflictStore struct {
	*storage.MemoryRepository
	upserts int
}

func (s *conflictStore) Upsert(ctx context.Context, e *models.Enrollment) error {
	s.upserts++
	return fmt.Errorf("%w: injected", storage.ErrDuplicateEnrollment)
}

func testProfile() *models.SkillProfile {
	return &models.SkillProfile{
		ID:      "p-1",
		UserID:  "u-1",
		Current: models.SkillScores{Listening: 4, Speaking: 4, Reading: 4, Writing: 4},
	}
}

func testCourses(n int) []models.CourseCandidate {
	out := make([]models.CourseCandidate, n)
	for i := range out {
		out[i] = models.CourseCandidate{
			ID:               fmt.Sprintf("c-%d", i),
			Name:             fmt.Sprintf("Course %d", i),
			Axis:             models.AxisReading,
			DifficultyLevel:  4,
			RecommendedLevel: 4,
			Status:           models.CoursePublic,
		}
	}
	return out
}

func seededRepo(t *testing.T, courses []models.CourseCandidate) *storage.MemoryRepository {
	t.Helper()
	repo := storage.NewMemoryRepository()
	require.NoError(t, repo.UpsertCourses(context.Background(), courses))
	return repo
}

func TestMaterializer_ProgressiveCap(t *testing.T) {
	ctx := context.Background()
	courses := testCourses(5)
	repo := seededRepo(t, courses)
	m := NewMaterializer(repo)

	n, err := m.Materialize(ctx, testProfile(), courses)
	require.NoError(t, err)
	assert.Equal(t, DefaultProgressiveLimit, n)

	rows, err := repo.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	for _, e := range rows {
		assert.False(t, e.Active)
		assert.Zero(t, e.CompletionLevel)
		assert.Zero(t, e.TotalPoints)
		assert.Equal(t, "p-1", e.ProfileID)
	}
}

func TestMaterializer_MaterializeAll(t *testing.T) {
	courses := testCourses(5)
	repo := seededRepo(t, courses)
	m := NewMaterializer(repo, WithLimit(2))
	assert.Equal(t, 2, m.Limit())

	n, err := m.MaterializeAll(context.Background(), testProfile(), courses)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestMaterializer_SkipsActiveAndUpdatesInactive(t *testing.T) {
	ctx := context.Background()
	courses := testCourses(3)
	repo := seededRepo(t, courses)
	profile := testProfile()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, models.NewRecommendation("active", profile, "c-0", old)))
	repo.SetActive("u-1", "c-0", 50)
	require.NoError(t, repo.Upsert(ctx, models.NewRecommendation("stale", profile, "c-1", old)))

	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	profile.ID = "p-2"
	m := NewMaterializer(repo, WithClock(func() time.Time { return now }))

	n, err := m.Materialize(ctx, profile, courses)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	updated, err := repo.FindInactive(ctx, "u-1", "c-1")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, "stale", updated.ID)
	assert.True(t, updated.EnrollDate.Equal(now))
	assert.Equal(t, "p-2", updated.ProfileID)

	active, err := repo.FindActive(ctx, "u-1", "c-0")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.True(t, active.EnrollDate.Equal(old))

	rows, err := repo.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestMaterializer_RetriesRacingInsert(t *testing.T) {
	ctx := context.Background()
	courses := testCourses(1)
	store := &racingStore{MemoryRepository: seededRepo(t, courses), races: 1}
	sleeper := &fakeSleeper{}

	m := NewMaterializer(store, WithRetryPolicy(RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(100 * time.Millisecond),
		Sleep:       sleeper.Sleep,
	}))

	n, err := m.Materialize(ctx, testProfile(), courses)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []time.Duration{100 * time.Millisecond}, sleeper.waits)

	rows, err := store.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "rival-c-0", rows[0].ID)
}

func TestMaterializer_ConflictExhaustion(t *testing.T) {
	courses := testCourses(1)
	store := &conflictStore{MemoryRepository: seededRepo(t, courses)}
	sleeper := &fakeSleeper{}

	m := NewMaterializer(store, WithRetryPolicy(RetryPolicy{Sleep: sleeper.Sleep}))

	n, err := m.Materialize(context.Background(), testProfile(), courses)
	assert.Zero(t, n)
	assert.True(t, errors.Is(err, ErrTransientWriteConflict))
	assert.Equal(t, 3, store.upserts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.waits)
}

func TestMaterializer_ConcurrentWritersKeepPairsUnique(t *testing.T) {
	ctx := context.Background()
	courses := testCourses(4)
	repo := seededRepo(t, courses)
	noSleep := RetryPolicy{Sleep: func(context.Context, time.Duration) error { return nil }}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := NewMaterializer(repo, WithRetryPolicy(noSleep))
			_, err := m.MaterializeAll(ctx, testProfile(), courses)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rows, err := repo.ListByUser(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	seen := map[string]bool{}
	for _, e := range rows {
		assert.False(t, seen[e.CourseID], "duplicate row for %s", e.CourseID)
		seen[e.CourseID] = true
	}
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 300*time.Millisecond, b(3))
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
