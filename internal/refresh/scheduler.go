package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quyetvm183/Encybara/internal/enrollment"
	"github.com/quyetvm183/Encybara/internal/metrics"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/recommend"
	"github.com/quyetvm183/Encybara/internal/storage"
)

// ErrProfileNotFound means the learner has no skill profile yet
var ErrProfileNotFound = errors.New("skill profile not found")

// CycleHook runs once at the start of every bulk refresh
type CycleHook interface {
	BeginCycle(ctx context.Context) error
}

// Summary reports the outcome of one bulk refresh
type Summary struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler rebuilds recommendations for learners, one at a time
type Scheduler struct {
	profiles     storage.ProfileStore
	enrollments  storage.EnrollmentStore
	orchestrator *recommend.Orchestrator
	cascade      *recommend.Cascade
	materializer *enrollment.Materializer
	interval     time.Duration
	runOnStart   bool
	hooks        []CycleHook
	now          func() time.Time
}

// Option configures the scheduler
type Option func(*Scheduler)

// WithInterval sets the period of the background loop
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithRunOnStart makes Start refresh immediately instead of waiting one interval
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// WithCycleHook registers a hook called before each bulk refresh
func WithCycleHook(hook CycleHook) Option {
	return func(s *Scheduler) {
		s.hooks = append(s.hooks, hook)
	}
}

// WithClock replaces time.Now for refresh bookkeeping
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a new refresh scheduler
func NewScheduler(
	profiles storage.ProfileStore,
	enrollments storage.EnrollmentStore,
	orchestrator *recommend.Orchestrator,
	materializer *enrollment.Materializer,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		profiles:     profiles,
		enrollments:  enrollments,
		orchestrator: orchestrator,
		cascade:      recommend.NewCascade(orchestrator),
		materializer: materializer,
		interval:     24 * time.Hour,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start begins the periodic refresh loop in a goroutine
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) {
	slog.Info("refresh scheduler started", "interval", s.interval, "run_on_start", s.runOnStart)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if s.runOnStart {
		s.RefreshAll(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.RefreshAll(ctx)
		}
	}
}

// RefreshAll refreshes every learner. A failure for one learner is logged
// and counted; it never stops the batch.
func (s *Scheduler) RefreshAll(ctx context.Context) Summary {
	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: s.now(),
	}
	start := time.Now()

	log := slog.With("run_id", summary.RunID)
	log.Info("bulk refresh started")

	for _, hook := range s.hooks {
		if err := hook.BeginCycle(ctx); err != nil {
			log.Warn("refresh cycle hook failed", "error", err)
		}
	}

	userIDs, err := s.profiles.ListUserIDs(ctx)
	if err != nil {
		log.Error("failed to list learners", "error", err)
		return summary
	}

	summary.Total = len(userIDs)

	for _, userID := range userIDs {
		n, err := s.refreshIsolated(ctx, userID)
		switch {
		case errors.Is(err, ErrProfileNotFound):
			summary.Skipped++
			log.Debug("learner skipped, profile disappeared", "user_id", userID)
		case err != nil:
			summary.Failed++
			log.Error("learner refresh failed", "user_id", userID, "error", err)
		default:
			summary.Succeeded++
			log.Debug("learner refreshed", "user_id", userID, "materialized", n)
		}
	}

	summary.Duration = time.Since(start)
	metrics.RecordBulkRefresh(summary.Duration)

	log.Info("bulk refresh finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", summary.Duration,
	)

	return summary
}

// refreshIsolated runs RefreshOne and turns a panic into an error so one
// learner cannot abort the batch
func (s *Scheduler) refreshIsolated(ctx context.Context, userID string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("learner refresh panicked", "user_id", userID, "panic", r)
			n, err = 0, fmt.Errorf("panic refreshing user %s: %v", userID, r)
		}
	}()

	return s.RefreshOne(ctx, userID)
}

// RefreshOne replaces one learner's recommendations and returns how many
// enrollments were written.
func (s *Scheduler) RefreshOne(ctx context.Context, userID string) (n int, err error) {
	start := time.Now()
	defer func() { recordOutcome(start, err) }()

	profile, err := s.prepare(ctx, userID)
	if err != nil {
		return 0, err
	}

	candidates, err := s.orchestrator.Recommend(ctx, profile)
	switch {
	case err == nil:
		n, err = s.materializer.Materialize(ctx, profile, candidates)
		if err != nil {
			return n, err
		}
	case errors.Is(err, recommend.ErrNoSuitableCandidates):
		slog.Debug("no direct match, running fallback cascade", "user_id", userID)
	default:
		return 0, err
	}

	if n == 0 {
		result, err := s.cascade.Run(ctx, profile, s.materializer)
		if err != nil {
			return 0, err
		}
		n = result.Materialized
	}

	s.finish(ctx, userID)
	return n, nil
}

// RefreshFromLevel rebuilds recommendations around a freshly assessed
// level: half-point windows climbing from baseLevel, placement courses
// excluded, capped at the progressive limit. When no window yields a row,
// one course from the whole scale is tried, placement included, and the
// cascade is the final resort.
func (s *Scheduler) RefreshFromLevel(ctx context.Context, userID string, baseLevel float64) (n int, err error) {
	start := time.Now()
	defer func() { recordOutcome(start, err) }()

	profile, err := s.prepare(ctx, userID)
	if err != nil {
		return 0, err
	}

	limit := s.materializer.Limit()
	chosen := make(map[string]struct{})

	try := func(band models.Band, upTo int, placement bool) error {
		candidates, err := s.orchestrator.RecommendWithinBand(ctx, profile, band)
		if errors.Is(err, recommend.ErrNoSuitableCandidates) {
			return nil
		}
		if err != nil {
			return err
		}

		for _, c := range candidates {
			if n >= upTo {
				break
			}
			if _, ok := chosen[c.ID]; ok || (!placement && c.IsPlacement()) {
				continue
			}
			written, err := s.materializer.MaterializeUpTo(ctx, profile, []models.CourseCandidate{c}, 1)
			if err != nil {
				return err
			}
			chosen[c.ID] = struct{}{}
			n += written
		}
		return nil
	}

	for level := models.ClampScore(baseLevel); level <= models.MaxScore && n < limit; level += 0.5 {
		if err := try(models.Window(level, 0.5), limit, false); err != nil {
			return n, err
		}
	}

	if n == 0 {
		if err := try(models.NewBand(models.MinScore, models.MaxScore), 1, true); err != nil {
			return n, err
		}
	}

	if n == 0 {
		result, err := s.cascade.Run(ctx, profile, s.materializer)
		if err != nil {
			return 0, err
		}
		n = result.Materialized
	}

	s.finish(ctx, userID)
	return n, nil
}

// prepare loads the profile and clears the learner's previous recommendations
func (s *Scheduler) prepare(ctx context.Context, userID string) (*models.SkillProfile, error) {
	profile, err := s.profiles.FindByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: user %s", ErrProfileNotFound, userID)
	}

	deleted, err := s.enrollments.DeleteAllInactive(ctx, userID)
	if err != nil {
		return nil, err
	}
	slog.Debug("previous recommendations cleared", "user_id", userID, "deleted", deleted)

	return profile, nil
}

// finish touches the refresh timestamp. Recommendations are already
// written at this point, so a failure is only logged.
func (s *Scheduler) finish(ctx context.Context, userID string) {
	if err := s.profiles.MarkRefreshed(ctx, userID, s.now()); err != nil {
		slog.Warn("failed to record refresh time", "user_id", userID, "error", err)
	}
}

func recordOutcome(start time.Time, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, ErrProfileNotFound):
		outcome = "skipped"
	case err != nil:
		outcome = "failed"
	}
	metrics.RecordRefresh(outcome, time.Since(start))
}
