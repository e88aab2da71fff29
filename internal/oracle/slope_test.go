package oracle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iradkot/glucose-oracle/internal/models"
)

// linearSeries builds count readings at stepMinutes cadence ending exactly
// at endMs, following value = base + slope*minutesFromEnd.
func linearSeries(endMs int64, count, stepMinutes int, base, slopePerMinute float64) []models.BgEntry {
	entries := make([]models.BgEntry, 0, count)
	for i := count - 1; i >= 0; i-- {
		minutesBack := float64(i * stepMinutes)
		entries = append(entries, models.BgEntry{
			Mills: endMs - int64(minutesBack*millisPerMinute),
			SGV:   base - slopePerMinute*minutesBack,
		})
	}
	return entries
}

func flatSeries(endMs int64, count, stepMinutes int, value float64) []models.BgEntry {
	return linearSeries(endMs, count, stepMinutes, value, 0)
}

const anchorMs = int64(1_700_000_000_000)

func TestInterpolateAt(t *testing.T) {
	cfg := DefaultConfig()
	series := []models.BgEntry{
		{Mills: anchorMs, SGV: 100},
		{Mills: anchorMs + 10*millisPerMinute, SGV: 120},
	}

	v, ok := interpolateAt(series, anchorMs+5*millisPerMinute, cfg.MaxGapMinutes)
	require.True(t, ok)
	assert.InDelta(t, 110, v, 1e-9)

	// Exact hits bypass interpolation.
	v, ok = interpolateAt(series, anchorMs, cfg.MaxGapMinutes)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)

	// No extrapolation beyond the series ends.
	_, ok = interpolateAt(series, anchorMs-millisPerMinute, cfg.MaxGapMinutes)
	assert.False(t, ok)
	_, ok = interpolateAt(series, anchorMs+11*millisPerMinute, cfg.MaxGapMinutes)
	assert.False(t, ok)
}

func TestInterpolateAt_RejectsWideGaps(t *testing.T) {
	cfg := DefaultConfig()
	series := []models.BgEntry{
		{Mills: anchorMs, SGV: 100},
		{Mills: anchorMs + 60*millisPerMinute, SGV: 200},
	}

	_, ok := interpolateAt(series, anchorMs+30*millisPerMinute, cfg.MaxGapMinutes)
	assert.False(t, ok, "a 60-minute bracket gap must not be bridged")
}

func TestSlopeAt_LinearSeries(t *testing.T) {
	cfg := DefaultConfig()
	for _, want := range []float64{-3, -1, -0.5, 0, 0.5, 1, 2.5} {
		series := linearSeries(anchorMs, 12, 5, 120, want)
		for n := cfg.SlopeSampleMin; n <= cfg.SlopeSampleMax; n++ {
			got, ok := SlopeAt(series, anchorMs, n, cfg)
			require.True(t, ok, "slope %v sampleCount %d", want, n)
			assert.InDelta(t, want, got, 1e-6, "slope %v sampleCount %d", want, n)
		}
	}
}

func TestSlopeAt_ClampsSampleCount(t *testing.T) {
	cfg := DefaultConfig()
	series := linearSeries(anchorMs, 12, 5, 120, 1.5)

	// Out-of-range counts are clamped, not rejected.
	for _, n := range []int{0, 1, 100} {
		got, ok := SlopeAt(series, anchorMs, n, cfg)
		require.True(t, ok)
		assert.InDelta(t, 1.5, got, 1e-6)
	}
}

func TestSlopeAt_InsufficientData(t *testing.T) {
	cfg := DefaultConfig()

	_, ok := SlopeAt(nil, anchorMs, 5, cfg)
	assert.False(t, ok)

	// A single reading resolves at most one sample.
	_, ok = SlopeAt([]models.BgEntry{{Mills: anchorMs, SGV: 100}}, anchorMs, 5, cfg)
	assert.False(t, ok)

	// Readings entirely outside the slope window resolve nothing.
	stale := flatSeries(anchorMs-60*millisPerMinute, 5, 5, 100)
	_, ok = SlopeAt(stale, anchorMs, 5, cfg)
	assert.False(t, ok)
}

func TestTrendOf_Boundary(t *testing.T) {
	cfg := DefaultConfig()

	// Exactly at the threshold is stable; infinitesimally beyond is not.
	assert.Equal(t, models.TrendStable, TrendOf(cfg.TrendThreshold, cfg))
	assert.Equal(t, models.TrendStable, TrendOf(-cfg.TrendThreshold, cfg))
	assert.Equal(t, models.TrendStable, TrendOf(0, cfg))

	above := math.Nextafter(cfg.TrendThreshold, math.Inf(1))
	assert.Equal(t, models.TrendRising, TrendOf(above, cfg))
	below := math.Nextafter(-cfg.TrendThreshold, math.Inf(-1))
	assert.Equal(t, models.TrendFalling, TrendOf(below, cfg))
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 110.0, median([]float64{120, 100, 110}))
	assert.Equal(t, 105.0, median([]float64{120, 100, 110, 90}))
	assert.Equal(t, 42.0, median([]float64{42}))
}
