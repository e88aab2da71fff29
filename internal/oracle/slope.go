package oracle

import (
	"math"
	"sort"

	"github.com/iradkot/glucose-oracle/internal/models"
)

const millisPerMinute = 60_000

// varianceEpsilon guards the least-squares division: sample timestamps that
// collapse onto a single x value carry no slope information.
const varianceEpsilon = 1e-9

// interpolateAt resolves a glucose value at tMs by linear interpolation
// between the nearest bracketing points of the ascending series. It refuses
// to bridge brackets further apart than maxGapMinutes and never extrapolates
// beyond the series ends.
func interpolateAt(series []models.BgEntry, tMs int64, maxGapMinutes float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}

	idx := sort.Search(len(series), func(i int) bool {
		return series[i].Mills >= tMs
	})

	if idx < len(series) && series[idx].Mills == tMs {
		return series[idx].SGV, true
	}
	if idx == 0 || idx == len(series) {
		return 0, false
	}

	left, right := series[idx-1], series[idx]
	gap := float64(right.Mills-left.Mills) / millisPerMinute
	if gap > maxGapMinutes {
		return 0, false
	}

	frac := float64(tMs-left.Mills) / float64(right.Mills-left.Mills)
	return left.SGV + (right.SGV-left.SGV)*frac, true
}

// SlopeAt estimates the local glucose slope (mg/dL per minute) at anchorMs.
// Two-point slopes are too noisy, so it resolves sampleCount evenly spaced
// values across the window ending at the anchor and fits a least-squares
// line over whichever points resolve. Returns false when fewer than two
// points resolve or the resolved timestamps carry no variance.
func SlopeAt(series []models.BgEntry, anchorMs int64, sampleCount int, cfg Config) (float64, bool) {
	n := cfg.clampSampleCount(sampleCount)
	windowMs := int64(cfg.SlopeWindowMinutes) * millisPerMinute
	startMs := anchorMs - windowMs

	var xs, ys []float64
	for i := 0; i < n; i++ {
		// Evenly spaced, inclusive of both window ends.
		tMs := startMs + int64(float64(i)*float64(windowMs)/float64(n-1))
		if i == n-1 {
			tMs = anchorMs
		}
		v, ok := interpolateAt(series, tMs, cfg.MaxGapMinutes)
		if !ok {
			continue
		}
		xs = append(xs, float64(tMs-anchorMs)/millisPerMinute)
		ys = append(ys, v)
	}

	if len(xs) < 2 {
		return 0, false
	}

	// Population covariance over variance; x is minutes relative to anchor.
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= float64(len(xs))
	meanY /= float64(len(ys))

	var cov, varX float64
	for i := range xs {
		dx := xs[i] - meanX
		cov += dx * (ys[i] - meanY)
		varX += dx * dx
	}
	if varX < varianceEpsilon {
		return 0, false
	}
	return cov / varX, true
}

// TrendOf buckets a slope into rising/falling/stable. A slope exactly at
// the threshold counts as stable, so sensor noise at the boundary cannot
// flap the bucket.
func TrendOf(slope float64, cfg Config) models.TrendBucket {
	if math.Abs(slope) <= cfg.TrendThreshold {
		return models.TrendStable
	}
	if slope > 0 {
		return models.TrendRising
	}
	return models.TrendFalling
}
