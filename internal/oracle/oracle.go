package oracle

import (
	"math"
	"sort"

	"github.com/iradkot/glucose-oracle/internal/models"
)

const minutesPerDay = 24 * 60

// Engine is the historical-event matching engine. It is stateless apart
// from its configuration; every ComputeInsights call is independent and
// side-effect-free, so an Engine is safe for concurrent use.
type Engine struct {
	cfg Config
}

// New creates an engine with the given configuration.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Query is one matching request. The anchor is the reference point history
// is searched backward from; Recent is the short trailing window used for
// the current slope and series. All collections may arrive unsorted.
type Query struct {
	Anchor       models.BgEntry
	Recent       []models.BgEntry
	History      []models.BgEntry
	Treatments   []models.Treatment
	DeviceStatus []models.DeviceStatusSnapshot

	// ExcludeLoad disables the IOB/COB similarity filter. The filter is on
	// for a zero-value Query.
	ExcludeLoad bool
	// SlopeSampleCount overrides the configured slope sample count when > 0.
	SlopeSampleCount int
}

// ComputeInsights finds historical episodes similar to the query anchor and
// summarizes their outcomes. It never fails on sparse input: an anchor with
// no usable history simply yields zero matches. The result is fully
// determined by the query: time is read from the anchor, never the clock.
func (e *Engine) ComputeInsights(q Query) models.Insights {
	cfg := e.cfg

	recent := sanitizeEntries(q.Recent)
	history := sanitizeEntries(q.History)
	treatments := sanitizeTreatments(q.Treatments)
	statuses := sanitizeStatuses(q.DeviceStatus)

	insights := models.Insights{Disclaimer: models.Disclaimer}

	slopeSource := recent
	if len(slopeSource) == 0 {
		slopeSource = history
	}
	currentSlope, slopeOK := SlopeAt(slopeSource, q.Anchor.Mills, q.SlopeSampleCount, cfg)

	currentSource := recent
	if len(currentSource) == 0 {
		currentSource = history
	}
	insights.CurrentSeries = buildCurrentSeries(currentSource, q.Anchor.Mills, q.Anchor.SGV, cfg)

	// Without a resolvable current slope there is no trend to align
	// candidates against, and trend alignment is a mandatory filter.
	if !slopeOK {
		insights.Matches = []models.MatchTrace{}
		insights.MedianSeries = []models.SeriesPoint{}
		insights.Strategies = []models.StrategyCard{}
		return insights
	}
	anchorTrend := TrendOf(currentSlope, cfg)

	anchorIOB, anchorCOB := nearestLoad(statuses, q.Anchor.Mills, cfg)

	glucoseTolerance := math.Max(cfg.GlucoseToleranceFixed, q.Anchor.SGV*cfg.GlucoseTolerancePercent)
	anchorMinute := minuteOfDay(q.Anchor.Mills)

	var lastHistoryMills int64
	if len(history) > 0 {
		lastHistoryMills = history[len(history)-1].Mills
	}

	matches := []models.MatchTrace{}
	for _, cand := range history {
		if cand.Mills >= q.Anchor.Mills {
			continue
		}

		// Filters are ordered cheapest first and short-circuit, so a full
		// 90-day scan stays a single fast linear pass.
		if circularMinuteDiff(anchorMinute, minuteOfDay(cand.Mills)) > cfg.TimeOfDayWindowMinutes {
			continue
		}
		if math.Abs(cand.SGV-q.Anchor.SGV) > glucoseTolerance {
			continue
		}

		candSlope, ok := SlopeAt(history, cand.Mills, q.SlopeSampleCount, cfg)
		if !ok {
			continue
		}
		if TrendOf(candSlope, cfg) != anchorTrend {
			continue
		}
		if math.Abs(candSlope-currentSlope) > cfg.SlopeTolerance {
			continue
		}

		// Candidates too close to the end of cached history cannot show an
		// outcome.
		if lastHistoryMills < cand.Mills+int64(cfg.FutureSufficiencyMinutes)*millisPerMinute {
			continue
		}

		candIOB, candCOB := nearestLoad(statuses, cand.Mills, cfg)
		if !q.ExcludeLoad {
			// A missing value on either side skips that sub-check rather
			// than rejecting the match.
			if anchorIOB != nil && candIOB != nil && math.Abs(*anchorIOB-*candIOB) > cfg.IOBTolerance {
				continue
			}
			if anchorCOB != nil && candCOB != nil && math.Abs(*anchorCOB-*candCOB) > cfg.COBTolerance {
				continue
			}
		}

		series := resampleAround(history, cand.Mills, cfg)
		futurePoints := 0
		for _, p := range series {
			if p.MinuteOffset > 0 {
				futurePoints++
			}
		}
		if futurePoints < cfg.MinFuturePoints {
			continue
		}

		actions, markers := summarizeActions(treatments, cand.Mills, cfg)
		matches = append(matches, models.MatchTrace{
			Mills:   cand.Mills,
			SGV:     cand.SGV,
			Slope:   candSlope,
			Series:  series,
			IOB:     candIOB,
			COB:     candCOB,
			Actions: actions,
			Markers: markers,
			TIR2h:   timeInRange(series, cfg),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Mills > matches[j].Mills
	})

	insights.MatchCount = len(matches)
	insights.Matches = matches
	insights.MedianSeries = buildMedianSeries(matches, cfg)
	insights.Strategies = buildStrategies(matches, cfg)
	return insights
}

// InvestigateEvents derives candidate anchors from the short recent window:
// every reading with a resolvable local slope becomes an event the caller
// can offer as a search starting point. Ordered most recent first.
func (e *Engine) InvestigateEvents(recent []models.BgEntry, slopeSampleCount int) []models.InvestigateEvent {
	series := sanitizeEntries(recent)

	events := make([]models.InvestigateEvent, 0, len(series))
	for i := len(series) - 1; i >= 0; i-- {
		p := series[i]
		slope, ok := SlopeAt(series, p.Mills, slopeSampleCount, e.cfg)
		if !ok {
			continue
		}
		events = append(events, models.InvestigateEvent{
			Mills: p.Mills,
			SGV:   p.SGV,
			Slope: slope,
			Trend: TrendOf(slope, e.cfg),
		})
	}
	return events
}

// nearestLoad finds the IOB/COB of the device-status snapshot closest to
// tMs within the lookup window. Nearest-neighbor only; interpolating pump
// state across snapshots would invent values the loop never reported.
func nearestLoad(statuses []models.DeviceStatusSnapshot, tMs int64, cfg Config) (iob, cob *float64) {
	maxDistMs := int64(cfg.LoadLookupMinutes * millisPerMinute)
	bestDist := maxDistMs + 1

	idx := sort.Search(len(statuses), func(i int) bool {
		return statuses[i].Mills >= tMs
	})

	var best *models.DeviceStatusSnapshot
	if idx < len(statuses) {
		if d := statuses[idx].Mills - tMs; d < bestDist {
			bestDist = d
			best = &statuses[idx]
		}
	}
	if idx > 0 {
		if d := tMs - statuses[idx-1].Mills; d < bestDist {
			best = &statuses[idx-1]
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.IOB, best.COB
}

// summarizeActions collects treatments in the post-anchor action window
// into totals plus an ordered marker list for display.
func summarizeActions(treatments []models.Treatment, anchorMs int64, cfg Config) (models.ActionSummary, []models.TreatmentMarker) {
	windowEnd := anchorMs + int64(cfg.ActionWindowMinutes)*millisPerMinute

	var summary models.ActionSummary
	markers := []models.TreatmentMarker{}

	start := sort.Search(len(treatments), func(i int) bool {
		return treatments[i].Mills >= anchorMs
	})
	for _, t := range treatments[start:] {
		if t.Mills > windowEnd {
			break
		}
		offset := int(math.Round(float64(t.Mills-anchorMs) / millisPerMinute))
		if t.HasInsulin() {
			summary.Insulin += t.InsulinUnits()
			summary.BolusCount++
			markers = append(markers, models.TreatmentMarker{MinuteOffset: offset, Kind: models.MarkerInsulin})
		}
		if t.HasCarbs() {
			summary.Carbs += t.CarbsGrams()
			summary.CarbCount++
			markers = append(markers, models.TreatmentMarker{MinuteOffset: offset, Kind: models.MarkerCarbs})
		}
	}
	return summary, markers
}

// minuteOfDay returns the minute-of-day in UTC for a millisecond timestamp.
func minuteOfDay(mills int64) float64 {
	dayMs := mills % (minutesPerDay * millisPerMinute)
	if dayMs < 0 {
		dayMs += minutesPerDay * millisPerMinute
	}
	return float64(dayMs) / millisPerMinute
}

// circularMinuteDiff is the wrap-at-24h distance between two minutes of day.
func circularMinuteDiff(a, b float64) float64 {
	d := math.Abs(a - b)
	return math.Min(d, minutesPerDay-d)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// sanitizeEntries drops malformed readings and guarantees ascending order,
// copying only when the input is actually unsorted or dirty.
func sanitizeEntries(entries []models.BgEntry) []models.BgEntry {
	clean := entries
	dirty := false
	for _, e := range entries {
		if e.Mills <= 0 || !isFinite(e.SGV) {
			dirty = true
			break
		}
	}
	if dirty {
		clean = make([]models.BgEntry, 0, len(entries))
		for _, e := range entries {
			if e.Mills > 0 && isFinite(e.SGV) {
				clean = append(clean, e)
			}
		}
	}

	sorted := sort.SliceIsSorted(clean, func(i, j int) bool {
		return clean[i].Mills < clean[j].Mills
	})
	if sorted {
		return clean
	}
	if !dirty {
		clean = append([]models.BgEntry(nil), clean...)
	}
	sort.Slice(clean, func(i, j int) bool {
		return clean[i].Mills < clean[j].Mills
	})
	return clean
}

func sanitizeTreatments(treatments []models.Treatment) []models.Treatment {
	valid := func(t models.Treatment) bool {
		if t.Mills <= 0 {
			return false
		}
		if t.Insulin != nil && !isFinite(*t.Insulin) {
			return false
		}
		if t.Carbs != nil && !isFinite(*t.Carbs) {
			return false
		}
		return true
	}

	clean := treatments
	dirty := false
	for _, t := range treatments {
		if !valid(t) {
			dirty = true
			break
		}
	}
	if dirty {
		clean = make([]models.Treatment, 0, len(treatments))
		for _, t := range treatments {
			if valid(t) {
				clean = append(clean, t)
			}
		}
	}

	sorted := sort.SliceIsSorted(clean, func(i, j int) bool {
		return clean[i].Mills < clean[j].Mills
	})
	if sorted {
		return clean
	}
	if !dirty {
		clean = append([]models.Treatment(nil), clean...)
	}
	sort.Slice(clean, func(i, j int) bool {
		return clean[i].Mills < clean[j].Mills
	})
	return clean
}

func sanitizeStatuses(statuses []models.DeviceStatusSnapshot) []models.DeviceStatusSnapshot {
	valid := func(d models.DeviceStatusSnapshot) bool {
		if d.Mills <= 0 {
			return false
		}
		for _, f := range []*float64{d.IOB, d.BolusIOB, d.BasalIOB, d.COB} {
			if f != nil && !isFinite(*f) {
				return false
			}
		}
		return true
	}

	clean := statuses
	dirty := false
	for _, d := range statuses {
		if !valid(d) {
			dirty = true
			break
		}
	}
	if dirty {
		clean = make([]models.DeviceStatusSnapshot, 0, len(statuses))
		for _, d := range statuses {
			if valid(d) {
				clean = append(clean, d)
			}
		}
	}

	sorted := sort.SliceIsSorted(clean, func(i, j int) bool {
		return clean[i].Mills < clean[j].Mills
	})
	if sorted {
		return clean
	}
	if !dirty {
		clean = append([]models.DeviceStatusSnapshot(nil), clean...)
	}
	sort.Slice(clean, func(i, j int) bool {
		return clean[i].Mills < clean[j].Mills
	})
	return clean
}
