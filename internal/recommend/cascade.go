package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/quyetvm183/Encybara/internal/metrics"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/storage"
)

// Materializer persists ranked candidates and reports how many rows it wrote
type Materializer interface {
	Materialize(ctx context.Context, profile *models.SkillProfile, candidates []models.CourseCandidate) (int, error)
}

// Tier identifies a fallback stage
type Tier int

const (
	TierStrongestSkill Tier = iota + 1
	TierMostImproved
	TierAllSkillsWidening
	TierAnyAxisWidening
	TierCatalogFloor
	TierAbsoluteFloor
)

func (t Tier) String() string {
	switch t {
	case TierStrongestSkill:
		return "strongest_skill"
	case TierMostImproved:
		return "most_improved"
	case TierAllSkillsWidening:
		return "allskills_widening"
	case TierAnyAxisWidening:
		return "any_axis_widening"
	case TierCatalogFloor:
		return "catalog_floor"
	case TierAbsoluteFloor:
		return "absolute_floor"
	}
	return fmt.Sprintf("tier_%d", int(t))
}

// CascadeResult reports which tier produced recommendations
type CascadeResult struct {
	Tier         Tier
	Materialized int
}

// Cascade retries recommendation with progressively looser criteria
type Cascade struct {
	orchestrator *Orchestrator
	catalog      storage.CatalogStore
}

// NewCascade creates a cascade over the orchestrator's catalog
func NewCascade(orchestrator *Orchestrator) *Cascade {
	return &Cascade{
		orchestrator: orchestrator,
		catalog:      orchestrator.catalog,
	}
}

type tierFunc func(ctx context.Context, profile *models.SkillProfile, m Materializer) (int, error)

// Run tries each tier in order and stops at the first that materializes
// at least one enrollment. A non-empty catalog always resolves unless every
// course is already active for the learner.
func (c *Cascade) Run(ctx context.Context, profile *models.SkillProfile, m Materializer) (*CascadeResult, error) {
	if err := ValidateProfile(profile); err != nil {
		return nil, err
	}

	tiers := []struct {
		tier Tier
		run  tierFunc
	}{
		{TierStrongestSkill, c.strongestSkill},
		{TierMostImproved, c.mostImproved},
		{TierAllSkillsWidening, c.allSkillsWidening},
		{TierAnyAxisWidening, c.anyAxisWidening},
		{TierCatalogFloor, c.catalogFloor},
		{TierAbsoluteFloor, c.absoluteFloor},
	}

	for _, t := range tiers {
		n, err := t.run(ctx, profile, m)
		if err != nil {
			return nil, fmt.Errorf("cascade %s: %w", t.tier, err)
		}
		if n > 0 {
			slog.Info("fallback cascade resolved",
				"user_id", profile.UserID,
				"tier", t.tier.String(),
				"materialized", n,
			)
			metrics.RecordCascadeTier(t.tier.String())
			return &CascadeResult{Tier: t.tier, Materialized: n}, nil
		}
		slog.Debug("cascade tier produced nothing", "user_id", profile.UserID, "tier", t.tier.String())
	}

	return nil, fmt.Errorf("%w: every catalog course is already active for user %s", ErrNoSuitableCandidates, profile.UserID)
}

func (c *Cascade) strongestSkill(ctx context.Context, profile *models.SkillProfile, m Materializer) (int, error) {
	_, score := profile.Current.Max()

	candidates, err := c.orchestrator.RecommendWithinBand(ctx, profile, models.Window(score, bandRadius))
	if errors.Is(err, ErrNoSuitableCandidates) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	return m.Materialize(ctx, profile, candidates)
}

func (c *Cascade) mostImproved(ctx context.Context, profile *models.SkillProfile, m Materializer) (int, error) {
	var axis models.SkillAxis
	best := 0.0
	for _, a := range models.SingleAxes {
		if d := profile.Improvement(a); d > best {
			axis, best = a, d
		}
	}
	if axis == "" {
		return 0, nil
	}

	band := models.Window(profile.Level(axis), bandRadius)
	courses, err := c.catalog.FindPublicByAxisAndRange(ctx, axis, band.Lower, band.Upper)
	if err != nil {
		return 0, fmt.Errorf("failed to query catalog: %w", err)
	}

	return c.materializeSorted(ctx, profile, m, courses)
}

func (c *Cascade) allSkillsWidening(ctx context.Context, profile *models.SkillProfile, m Materializer) (int, error) {
	return c.widen(ctx, profile, m, models.AxisAllSkills)
}

func (c *Cascade) anyAxisWidening(ctx context.Context, profile *models.SkillProfile, m Materializer) (int, error) {
	return c.widen(ctx, profile, m, models.AllAxes...)
}

// widen slides a one-point window upward from the average score in half
// point steps, stopping at the scale maximum.
func (c *Cascade) widen(ctx context.Context, profile *models.SkillProfile, m Materializer, axes ...models.SkillAxis) (int, error) {
	baseline := profile.Current.Average()

	for step := 0; baseline+float64(step)*bandRadius <= models.MaxScore; step++ {
		band := models.Window(baseline+float64(step)*bandRadius, bandRadius)

		var courses []models.CourseCandidate
		for _, axis := range axes {
			found, err := c.catalog.FindPublicByAxisAndRange(ctx, axis, band.Lower, band.Upper)
			if err != nil {
				return 0, fmt.Errorf("failed to query catalog: %w", err)
			}
			courses = append(courses, found...)
		}

		if len(courses) == 0 {
			continue
		}

		n, err := c.materializeSorted(ctx, profile, m, courses)
		if err != nil || n > 0 {
			return n, err
		}
	}

	return 0, nil
}

func (c *Cascade) catalogFloor(ctx context.Context, profile *models.SkillProfile, m Materializer) (int, error) {
	baseline := profile.Current.Average()

	for _, band := range []models.Band{
		models.NewBand(models.MinScore, baseline+1.0),
		models.NewBand(models.MinScore, models.MaxScore),
	} {
		courses, err := c.catalog.FindPublicByAxisAndRange(ctx, models.AxisAllSkills, band.Lower, band.Upper)
		if err != nil {
			return 0, fmt.Errorf("failed to query catalog: %w", err)
		}

		n, err := c.materializeSorted(ctx, profile, m, courses)
		if err != nil || n > 0 {
			return n, err
		}
	}

	return 0, nil
}

func (c *Cascade) absoluteFloor(ctx context.Context, profile *models.SkillProfile, m Materializer) (int, error) {
	courses, err := c.catalog.FindAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list catalog: %w", err)
	}

	if len(courses) == 0 {
		slog.Error("catalog is empty, cannot recommend", "user_id", profile.UserID)
		return 0, ErrNoCoursesAvailable
	}

	// First course that materializes wins; earlier ones may already be active
	for _, course := range courses {
		n, err := m.Materialize(ctx, profile, []models.CourseCandidate{course})
		if err != nil || n > 0 {
			return n, err
		}
	}

	return 0, nil
}

func (c *Cascade) materializeSorted(ctx context.Context, profile *models.SkillProfile, m Materializer, courses []models.CourseCandidate) (int, error) {
	if len(courses) == 0 {
		return 0, nil
	}

	sorted := append([]models.CourseCandidate(nil), courses...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DifficultyLevel != sorted[j].DifficultyLevel {
			return sorted[i].DifficultyLevel < sorted[j].DifficultyLevel
		}
		return sorted[i].ID < sorted[j].ID
	})

	return m.Materialize(ctx, profile, sorted)
}
