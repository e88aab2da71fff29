package oracle

import (
	"math"
	"sort"

	"github.com/iradkot/glucose-oracle/internal/models"
)

// resampleAround builds a per-minute glucose trace spanning the configured
// past/future window around anchorMs. Minutes whose bracketing gap exceeds
// the interpolation limit are simply absent from the result.
func resampleAround(history []models.BgEntry, anchorMs int64, cfg Config) []models.SeriesPoint {
	var points []models.SeriesPoint
	for m := -cfg.PastWindowMinutes; m <= cfg.FutureWindowMinutes; m++ {
		tMs := anchorMs + int64(m)*millisPerMinute
		if v, ok := interpolateAt(history, tMs, cfg.MaxGapMinutes); ok {
			points = append(points, models.SeriesPoint{MinuteOffset: m, SGV: v})
		}
	}
	return points
}

// valueAtMinute returns the resampled value at an exact minute offset.
func valueAtMinute(series []models.SeriesPoint, minute int) (float64, bool) {
	idx := sort.Search(len(series), func(i int) bool {
		return series[i].MinuteOffset >= minute
	})
	if idx < len(series) && series[idx].MinuteOffset == minute {
		return series[idx].SGV, true
	}
	return 0, false
}

// buildCurrentSeries maps the recent window onto minute offsets relative to
// the anchor, keeping only minutes <= 0, deduplicating by minute with the
// last value winning, and always pinning minute 0 to the anchor value.
func buildCurrentSeries(recent []models.BgEntry, anchorMs int64, anchorValue float64, cfg Config) []models.SeriesPoint {
	byMinute := make(map[int]float64)
	for _, e := range recent {
		m := int(math.Round(float64(e.Mills-anchorMs) / millisPerMinute))
		if m > 0 || m < -cfg.PastWindowMinutes {
			continue
		}
		byMinute[m] = e.SGV
	}
	byMinute[0] = anchorValue

	series := make([]models.SeriesPoint, 0, len(byMinute))
	for m, v := range byMinute {
		series = append(series, models.SeriesPoint{MinuteOffset: m, SGV: v})
	}
	sort.Slice(series, func(i, j int) bool {
		return series[i].MinuteOffset < series[j].MinuteOffset
	})
	return series
}

// buildMedianSeries computes the per-minute median across all matches'
// future traces. A minute with no data in any match is omitted.
func buildMedianSeries(matches []models.MatchTrace, cfg Config) []models.SeriesPoint {
	var series []models.SeriesPoint
	for m := 0; m <= cfg.FutureWindowMinutes; m++ {
		var values []float64
		for i := range matches {
			if v, ok := valueAtMinute(matches[i].Series, m); ok {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			continue
		}
		series = append(series, models.SeriesPoint{MinuteOffset: m, SGV: median(values)})
	}
	return series
}

// median returns the standard median: the average of the two middle values
// for even-length input.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// timeInRange computes the fraction of resampled points inside the target
// band over the [0, TIRWindowMinutes] window. No resolved points yields 0.
func timeInRange(series []models.SeriesPoint, cfg Config) float64 {
	var total, inRange int
	for _, p := range series {
		if p.MinuteOffset < 0 || p.MinuteOffset > cfg.TIRWindowMinutes {
			continue
		}
		total++
		if p.SGV >= cfg.TargetLow && p.SGV <= cfg.TargetHigh {
			inRange++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(inRange) / float64(total)
}
