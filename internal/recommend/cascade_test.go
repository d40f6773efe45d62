package recommend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quyetvm183/Encybara/internal/models"
)

// recordingMaterializer accepts up to limit candidates not marked active
type recordingMaterializer struct {
	active map[string]bool
	limit  int
	got    []string
}

func (r *recordingMaterializer) Materialize(ctx context.Context, profile *models.SkillProfile, candidates []models.CourseCandidate) (int, error) {
	n := 0
	for _, c := range candidates {
		if r.active[c.ID] {
			continue
		}
		r.got = append(r.got, c.ID)
		n++
		if r.limit > 0 && n >= r.limit {
			break
		}
	}
	return n, nil
}

func flatProfile(score float64) *models.SkillProfile {
	return &models.SkillProfile{
		ID:       "p-1",
		UserID:   "u-1",
		Current:  models.SkillScores{Listening: score, Speaking: score, Reading: score, Writing: score},
		Previous: models.SkillScores{Listening: score, Speaking: score, Reading: score, Writing: score},
	}
}

func TestCascade_Tiers(t *testing.T) {
	pending := course("pending", models.AxisWriting, 4.0)
	pending.Status = models.CoursePending

	improved := flatProfile(4.0)
	improved.Current.Listening = 5.0
	improved.Previous.Listening = 5.0
	improved.Current.Reading = 3.0
	improved.Previous.Reading = 2.0

	strongest := course("read-4", models.AxisReading, 4.5)
	strongest.RecommendedLevel = 4.0

	lopsided := flatProfile(1.0)
	lopsided.Current.Listening = 5.0
	lopsided.Previous.Listening = 5.0

	tests := []struct {
		name    string
		profile *models.SkillProfile
		catalog []models.CourseCandidate
		tier    Tier
		want    []string
	}{
		{
			name:    "strongest skill window",
			profile: flatProfile(4.0),
			catalog: []models.CourseCandidate{strongest},
			tier:    TierStrongestSkill,
			want:    []string{"read-4"},
		},
		{
			name:    "strongest skill window rejects a weak axis",
			profile: lopsided,
			catalog: []models.CourseCandidate{course("write-5", models.AxisWriting, 5.5)},
			tier:    TierAnyAxisWidening,
			want:    []string{"write-5"},
		},
		{
			name:    "most improved axis",
			profile: improved,
			catalog: []models.CourseCandidate{course("read-3", models.AxisReading, 3.0)},
			tier:    TierMostImproved,
			want:    []string{"read-3"},
		},
		{
			name:    "allskills widening",
			profile: flatProfile(4.0),
			catalog: []models.CourseCandidate{course("all-6", models.AxisAllSkills, 6.0)},
			tier:    TierAllSkillsWidening,
			want:    []string{"all-6"},
		},
		{
			name:    "any axis widening",
			profile: flatProfile(4.0),
			catalog: []models.CourseCandidate{course("speak-6", models.AxisSpeaking, 6.5)},
			tier:    TierAnyAxisWidening,
			want:    []string{"speak-6"},
		},
		{
			name:    "catalog floor",
			profile: flatProfile(5.0),
			catalog: []models.CourseCandidate{course("all-1", models.AxisAllSkills, 1.0)},
			tier:    TierCatalogFloor,
			want:    []string{"all-1"},
		},
		{
			name:    "absolute floor",
			profile: flatProfile(4.0),
			catalog: []models.CourseCandidate{pending},
			tier:    TierAbsoluteFloor,
			want:    []string{"pending"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newTestRepo(t, tt.catalog...)
			cascade := NewCascade(NewOrchestrator(repo, repo))
			m := &recordingMaterializer{limit: 3}

			result, err := cascade.Run(context.Background(), tt.profile, m)
			require.NoError(t, err)
			assert.Equal(t, tt.tier, result.Tier)
			assert.Equal(t, len(tt.want), result.Materialized)
			assert.Equal(t, tt.want, m.got)
		})
	}
}

func TestCascade_EmptyCatalog(t *testing.T) {
	repo := newTestRepo(t)
	cascade := NewCascade(NewOrchestrator(repo, repo))

	_, err := cascade.Run(context.Background(), flatProfile(4.0), &recordingMaterializer{})
	assert.True(t, errors.Is(err, ErrNoCoursesAvailable))
}

func TestCascade_EverythingAlreadyActive(t *testing.T) {
	repo := newTestRepo(t, course("a", models.AxisReading, 4.0), course("b", models.AxisWriting, 2.0))
	cascade := NewCascade(NewOrchestrator(repo, repo))
	m := &recordingMaterializer{active: map[string]bool{"a": true, "b": true}}

	_, err := cascade.Run(context.Background(), flatProfile(4.0), m)
	assert.True(t, errors.Is(err, ErrNoSuitableCandidates))
	assert.Empty(t, m.got)
}

func TestCascade_AbsoluteFloorSkipsActiveCourses(t *testing.T) {
	first := course("first", models.AxisReading, 7.0)
	first.Status = models.CoursePrivate
	second := course("second", models.AxisWriting, 7.0)
	second.Status = models.CoursePrivate

	repo := newTestRepo(t, first, second)
	cascade := NewCascade(NewOrchestrator(repo, repo))
	m := &recordingMaterializer{active: map[string]bool{"first": true}}

	result, err := cascade.Run(context.Background(), flatProfile(2.0), m)
	require.NoError(t, err)
	assert.Equal(t, TierAbsoluteFloor, result.Tier)
	assert.Equal(t, []string{"second"}, m.got)
}

func TestCascade_TotalOverNonEmptyCatalogs(t *testing.T) {
	axes := models.AllAxes
	statuses := []models.PublicationStatus{models.CoursePublic, models.CoursePending, models.CoursePrivate}

	for score := 1.0; score <= 7.0; score += 1.5 {
		for i, axis := range axes {
			for j, status := range statuses {
				for difficulty := 1.0; difficulty <= 7.0; difficulty += 2.0 {
					c := course(fmt.Sprintf("c-%d-%d-%.0f", i, j, difficulty), axis, difficulty)
					c.Status = status

					repo := newTestRepo(t, c)
					cascade := NewCascade(NewOrchestrator(repo, repo))

					result, err := cascade.Run(context.Background(), flatProfile(score), &recordingMaterializer{limit: 3})
					require.NoError(t, err, "score %.1f course %+v", score, c)
					assert.GreaterOrEqual(t, result.Materialized, 1)
				}
			}
		}
	}
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "strongest_skill", TierStrongestSkill.String())
	assert.Equal(t, "absolute_floor", TierAbsoluteFloor.String())
	assert.Equal(t, "tier_9", Tier(9).String())
}
