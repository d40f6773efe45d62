package recommend

import (
	"sort"

	"github.com/quyetvm183/Encybara/internal/models"
)

// FilterCandidates keeps the public courses of axis inside band that suit
// the learner: recommended level not above the learner's level and
// difficulty at most one point above it.
func FilterCandidates(profile *models.SkillProfile, axis models.SkillAxis, band models.Band, courses []models.CourseCandidate) []models.CourseCandidate {
	level := profile.Level(axis)

	var out []models.CourseCandidate
	for _, c := range courses {
		if !c.IsPublic() || c.Axis != axis || !band.Contains(c.DifficultyLevel) {
			continue
		}
		if c.RecommendedLevel > level || c.DifficultyLevel > level+progressionReach {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SkillGap is how far an axis trails the learner's strongest skill
func SkillGap(profile *models.SkillProfile, axis models.SkillAxis) float64 {
	_, best := profile.Current.Max()
	return best - profile.Level(axis)
}

// RankCandidates orders candidates weakest axis first, then composite
// placement by readiness, then ascending difficulty and id. Duplicate ids
// keep their first occurrence. The input slice is not modified.
func RankCandidates(profile *models.SkillProfile, candidates []models.CourseCandidate, readyForAllSkills bool) []models.CourseCandidate {
	seen := make(map[string]struct{}, len(candidates))
	ranked := make([]models.CourseCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]

		if ga, gb := SkillGap(profile, a.Axis), SkillGap(profile, b.Axis); ga != gb {
			return ga > gb
		}

		if ca, cb := a.Axis.IsComposite(), b.Axis.IsComposite(); ca != cb {
			if readyForAllSkills {
				return ca
			}
			return cb
		}

		if a.DifficultyLevel != b.DifficultyLevel {
			return a.DifficultyLevel < b.DifficultyLevel
		}
		return a.ID < b.ID
	})

	return ranked
}
