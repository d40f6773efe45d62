package recommend

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quyetvm183/Encybara/internal/models"
)

func rate(v float64) *float64 { return &v }

func TestCalculateBand(t *testing.T) {
	tests := []struct {
		name      string
		current   float64
		previous  float64
		rate      *float64
		wantLower float64
		wantUpper float64
	}{
		{"stagnant without history", 3.0, 3.0, nil, 2.5, 3.0},
		{"regressed without history", 4.0, 4.5, nil, 3.5, 4.0},
		{"improving without history", 4.0, 3.5, nil, 3.5, 4.5},
		{"improving with progression", 4.0, 3.5, rate(75), 3.5, 5.0},
		{"improving with middling rate", 4.0, 3.5, rate(55), 3.5, 4.0},
		{"improving with low rate", 4.0, 3.5, rate(30), 3.5, 4.0},
		{"floor at scale minimum", 1.0, 1.0, nil, 1.0, 1.0},
		{"ceiling at scale maximum", 7.0, 6.0, rate(90), 6.5, 7.0},
		{"zero score clamps", 0.0, 0.0, nil, 1.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			band := CalculateBand(tt.current, tt.previous, tt.rate)
			assert.InDelta(t, tt.wantLower, band.Lower, 1e-9)
			assert.InDelta(t, tt.wantUpper, band.Upper, 1e-9)
		})
	}
}

func TestCalculateBand_Bounds(t *testing.T) {
	rates := []*float64{nil, rate(0), rate(49.9), rate(50), rate(59.9), rate(60), rate(100)}

	for current := 1.0; current <= 7.0; current += 0.25 {
		for previous := 1.0; previous <= 7.0; previous += 0.5 {
			for _, r := range rates {
				band := CalculateBand(current, previous, r)
				assert.LessOrEqual(t, band.Lower, band.Upper)
				assert.GreaterOrEqual(t, band.Lower, models.MinScore)
				assert.LessOrEqual(t, band.Upper, models.MaxScore)

				if current == previous {
					assert.InDelta(t, current, band.Upper, 1e-9, "stagnant learner must not move forward")
				}
			}
		}
	}
}

func TestAxisBand_ExampleProfile(t *testing.T) {
	profile := &models.SkillProfile{
		UserID:   "u-1",
		Current:  models.SkillScores{Listening: 5.0, Speaking: 3.0, Reading: 4.0, Writing: 4.0},
		Previous: models.SkillScores{Listening: 4.5, Speaking: 3.0, Reading: 3.5, Writing: 4.5},
	}

	speaking := AxisBand(profile, models.AxisSpeaking, nil)
	assert.Equal(t, models.Band{Lower: 2.5, Upper: 3.0}, speaking)

	listening := AxisBand(profile, models.AxisListening, nil)
	assert.Equal(t, models.Band{Lower: 4.5, Upper: 5.5}, listening)
}

func TestAxisBand_AllSkillsPinnedToAverage(t *testing.T) {
	profile := &models.SkillProfile{
		Current:  models.SkillScores{Listening: 4.5, Speaking: 4.0, Reading: 4.0, Writing: 4.0},
		Previous: models.SkillScores{Listening: 4.0, Speaking: 3.5, Reading: 3.5, Writing: 3.5},
	}

	// Average 4.125 rounds to 4.0; progression would reach 5.0 but is pinned
	band := AxisBand(profile, models.AxisAllSkills, rate(80))
	assert.InDelta(t, 3.5, band.Lower, 1e-9)
	assert.InDelta(t, 4.5, band.Upper, 1e-9)
}
