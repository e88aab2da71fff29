package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iradkot/glucose-oracle/internal/models"
)

// traceWith builds n matches sharing an action profile and a +120 min value.
func traceWith(n int, insulin, carbs, at2h float64) []models.MatchTrace {
	matches := make([]models.MatchTrace, 0, n)
	for i := 0; i < n; i++ {
		matches = append(matches, models.MatchTrace{
			Actions: models.ActionSummary{Insulin: insulin, Carbs: carbs},
			Series:  []models.SeriesPoint{{MinuteOffset: 120, SGV: at2h}},
		})
	}
	return matches
}

func TestCategorizeActions(t *testing.T) {
	tests := []struct {
		insulin, carbs float64
		key            string
	}{
		{0, 0, "none"},
		{0, 25, "carbs-only"},
		{0.5, 0, "micro-bolus"},
		{0.5, 10, "micro-bolus"},
		{1, 0, "small-bolus"},
		{2, 0, "small-bolus"},
		{2.5, 0, "moderate-bolus"},
		{3, 0, "moderate-bolus"},
		{3.5, 0, "large-bolus"},
	}
	for _, tt := range tests {
		got := categorizeActions(models.ActionSummary{Insulin: tt.insulin, Carbs: tt.carbs})
		assert.Equal(t, tt.key, got.key, "insulin=%v carbs=%v", tt.insulin, tt.carbs)
	}
}

func TestBuildStrategies_CapAndSingleBest(t *testing.T) {
	cfg := DefaultConfig()

	// Five distinct action categories; only the three largest survive.
	var matches []models.MatchTrace
	matches = append(matches, traceWith(5, 0, 0, 200)...)    // none, out of band
	matches = append(matches, traceWith(4, 0, 30, 180)...)   // carbs-only, out of band
	matches = append(matches, traceWith(3, 0.5, 0, 110)...)  // micro-bolus, in band
	matches = append(matches, traceWith(2, 1.5, 0, 100)...)  // small-bolus, dropped by cap
	matches = append(matches, traceWith(1, 4.0, 0, 90)...)   // large-bolus, dropped by cap

	cards := buildStrategies(matches, cfg)
	require.Len(t, cards, 3)

	// Ordered by match count.
	assert.Equal(t, "none", cards[0].Key)
	assert.Equal(t, 5, cards[0].MatchCount)
	assert.Equal(t, "carbs-only", cards[1].Key)
	assert.Equal(t, "micro-bolus", cards[2].Key)

	// Exactly one best: the only cluster whose +2h outcome sits in band.
	bestCount := 0
	for _, c := range cards {
		if c.IsBest {
			bestCount++
			assert.Equal(t, "micro-bolus", c.Key)
		}
	}
	assert.Equal(t, 1, bestCount)
}

func TestBuildStrategies_Outcomes(t *testing.T) {
	cfg := DefaultConfig()

	matches := traceWith(2, 0, 0, 120)
	matches = append(matches, traceWith(2, 0, 0, 180)...)

	cards := buildStrategies(matches, cfg)
	require.Len(t, cards, 1)

	require.NotNil(t, cards[0].AvgGlucose2h)
	assert.Equal(t, 150.0, *cards[0].AvgGlucose2h)
	assert.Equal(t, 0.5, cards[0].SuccessRate)
	assert.True(t, cards[0].IsBest)
}

func TestBuildStrategies_NoAverageLosesToAnyAverage(t *testing.T) {
	cfg := DefaultConfig()

	// Cluster with no resolvable +120 point: same success rate (zero) as
	// an out-of-band cluster, but the missing average must rank below any
	// resolved one.
	noOutcome := []models.MatchTrace{
		{Actions: models.ActionSummary{Insulin: 1.5}},
		{Actions: models.ActionSummary{Insulin: 1.5}},
	}
	outOfBand := traceWith(2, 0, 0, 300)

	cards := buildStrategies(append(noOutcome, outOfBand...), cfg)
	require.Len(t, cards, 2)

	for _, c := range cards {
		switch c.Key {
		case "small-bolus":
			assert.Nil(t, c.AvgGlucose2h)
			assert.False(t, c.IsBest)
		case "none":
			assert.True(t, c.IsBest)
		}
	}
}

func TestBuildStrategies_Empty(t *testing.T) {
	assert.Empty(t, buildStrategies(nil, DefaultConfig()))
}
