package oracle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iradkot/glucose-oracle/internal/models"
)

func ptr(v float64) *float64 { return &v }

// episode builds a flat glucose run from 120 minutes before to 240 minutes
// after centerMs at 5-minute cadence, the shape of one complete historical
// episode a candidate anchor needs around it.
func episode(centerMs int64, value float64) []models.BgEntry {
	return flatSeries(centerMs+240*millisPerMinute, 73, 5, value)
}

func newTestQuery(history []models.BgEntry) Query {
	return Query{
		Anchor:  models.BgEntry{Mills: anchorMs, SGV: 100},
		Recent:  flatSeries(anchorMs, 7, 5, 100),
		History: history,
	}
}

func TestComputeInsights_EmptyHistory(t *testing.T) {
	engine := New(DefaultConfig())

	insights := engine.ComputeInsights(newTestQuery(nil))

	assert.Equal(t, 0, insights.MatchCount)
	assert.Empty(t, insights.Matches)
	assert.Empty(t, insights.Strategies)
	assert.Empty(t, insights.MedianSeries)
	assert.Equal(t, models.Disclaimer, insights.Disclaimer)

	// The current series still carries the anchor's own point at minute 0.
	require.NotEmpty(t, insights.CurrentSeries)
	last := insights.CurrentSeries[len(insights.CurrentSeries)-1]
	assert.Equal(t, models.SeriesPoint{MinuteOffset: 0, SGV: 100}, last)
}

func TestComputeInsights_FindsSimilarEpisode(t *testing.T) {
	engine := New(DefaultConfig())

	// One flat episode exactly 24 hours earlier: same time of day, same
	// glucose level, same (stable) trend. Every episode point at most 90
	// minutes of time-of-day away from the anchor, with 4 hours of future
	// data remaining, qualifies as a match anchor of its own.
	candMs := anchorMs - 24*time.Hour.Milliseconds()
	q := newTestQuery(episode(candMs, 100))

	insights := engine.ComputeInsights(q)

	// Episode offsets -90..0 minutes at 5-minute cadence.
	assert.Equal(t, 19, insights.MatchCount)
	require.Len(t, insights.Matches, 19)

	// Most recent first. The candidate at the episode center leads.
	assert.Equal(t, candMs, insights.Matches[0].Mills)
	assert.Equal(t, 100.0, insights.Matches[0].SGV)
	assert.InDelta(t, 0, insights.Matches[0].Slope, 1e-9)

	// A flat-at-100 episode sits fully inside the 70-140 band.
	assert.Equal(t, 1.0, insights.Matches[0].TIR2h)

	// Median of identical flat futures is the flat value itself.
	v, ok := valueAtMinute(insights.MedianSeries, 60)
	require.True(t, ok)
	assert.Equal(t, 100.0, v)
}

func TestComputeInsights_Deterministic(t *testing.T) {
	engine := New(DefaultConfig())
	candMs := anchorMs - 24*time.Hour.Milliseconds()

	q := newTestQuery(episode(candMs, 100))
	q.Treatments = []models.Treatment{
		{Mills: candMs + 10*millisPerMinute, Insulin: ptr(1.5), EventType: "Correction Bolus"},
	}

	first := engine.ComputeInsights(q)
	second := engine.ComputeInsights(q)
	assert.Equal(t, first, second)
}

func TestComputeInsights_UnsortedInputMatchesSorted(t *testing.T) {
	engine := New(DefaultConfig())
	candMs := anchorMs - 24*time.Hour.Milliseconds()
	history := episode(candMs, 100)

	reversed := make([]models.BgEntry, len(history))
	for i, e := range history {
		reversed[len(history)-1-i] = e
	}

	sortedResult := engine.ComputeInsights(newTestQuery(history))
	reversedResult := engine.ComputeInsights(newTestQuery(reversed))
	assert.Equal(t, sortedResult, reversedResult)
}

func TestComputeInsights_TimeOfDayExclusion(t *testing.T) {
	engine := New(DefaultConfig())

	// Identical episode, but 20 hours earlier: circular time-of-day
	// distance is 4 hours at the center and never dips under 2 hours
	// across the run. Everything else about it would match.
	candMs := anchorMs - 20*time.Hour.Milliseconds()
	insights := engine.ComputeInsights(newTestQuery(episode(candMs, 100)))

	assert.Equal(t, 0, insights.MatchCount)
}

func TestComputeInsights_GlucoseExclusion(t *testing.T) {
	engine := New(DefaultConfig())

	// Same episode shape one day earlier, but at 160 mg/dL against an
	// anchor of 100: outside max(15, 10%) tolerance.
	candMs := anchorMs - 24*time.Hour.Milliseconds()
	insights := engine.ComputeInsights(newTestQuery(episode(candMs, 160)))

	assert.Equal(t, 0, insights.MatchCount)
}

func TestComputeInsights_TrendExclusion(t *testing.T) {
	engine := New(DefaultConfig())

	// The anchor is falling fast while history holds a flat episode at a
	// level the glucose filter accepts.
	candMs := anchorMs - 24*time.Hour.Milliseconds()
	q := newTestQuery(episode(candMs, 100))
	q.Recent = linearSeries(anchorMs, 7, 5, 100, -3)

	insights := engine.ComputeInsights(q)
	assert.Equal(t, 0, insights.MatchCount)
}

func TestComputeInsights_LoadFilter(t *testing.T) {
	engine := New(DefaultConfig())
	candMs := anchorMs - 24*time.Hour.Milliseconds()

	q := newTestQuery(episode(candMs, 100))
	q.DeviceStatus = []models.DeviceStatusSnapshot{
		{Mills: candMs, IOB: ptr(0.5)},
		{Mills: anchorMs, IOB: ptr(3.0)},
	}

	// The load filter is on by default: candidates within the 10-minute
	// load lookup of the episode center carry IOB 0.5 against the anchor's
	// 3.0 and are rejected. The rest have no load on the candidate side,
	// which skips the check rather than rejecting the match.
	assert.Equal(t, 16, engine.ComputeInsights(q).MatchCount)

	// Explicitly excluding load lets all 19 candidates survive.
	q.ExcludeLoad = true
	assert.Equal(t, 19, engine.ComputeInsights(q).MatchCount)
}

func TestComputeInsights_ActionSummary(t *testing.T) {
	engine := New(DefaultConfig())
	candMs := anchorMs - 24*time.Hour.Milliseconds()

	q := newTestQuery(episode(candMs, 100))
	q.Treatments = []models.Treatment{
		{Mills: candMs + 10*millisPerMinute, Insulin: ptr(1.5), EventType: "Correction Bolus"},
		{Mills: candMs + 20*millisPerMinute, Carbs: ptr(12.0), EventType: "Carb Correction"},
		{Mills: candMs + 45*millisPerMinute, Insulin: ptr(5.0), EventType: "Bolus"}, // outside the 30-min window
	}

	insights := engine.ComputeInsights(q)
	require.NotEmpty(t, insights.Matches)

	center := insights.Matches[0]
	require.Equal(t, candMs, center.Mills)
	assert.Equal(t, 1.5, center.Actions.Insulin)
	assert.Equal(t, 12.0, center.Actions.Carbs)
	assert.Equal(t, 1, center.Actions.BolusCount)
	assert.Equal(t, 1, center.Actions.CarbCount)

	require.Len(t, center.Markers, 2)
	assert.Equal(t, models.TreatmentMarker{MinuteOffset: 10, Kind: models.MarkerInsulin}, center.Markers[0])
	assert.Equal(t, models.TreatmentMarker{MinuteOffset: 20, Kind: models.MarkerCarbs}, center.Markers[1])
}

func TestComputeInsights_DropsMalformedRecords(t *testing.T) {
	engine := New(DefaultConfig())
	candMs := anchorMs - 24*time.Hour.Milliseconds()

	clean := newTestQuery(episode(candMs, 100))
	dirty := clean
	dirty.History = append([]models.BgEntry{
		{Mills: 0, SGV: 100},
		{Mills: candMs + 1, SGV: nan()},
	}, clean.History...)

	assert.Equal(t, engine.ComputeInsights(clean), engine.ComputeInsights(dirty))
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestInvestigateEvents(t *testing.T) {
	engine := New(DefaultConfig())

	recent := linearSeries(anchorMs, 7, 5, 130, 2)
	events := engine.InvestigateEvents(recent, 0)

	require.NotEmpty(t, events)
	// Most recent first.
	assert.Equal(t, anchorMs, events[0].Mills)
	assert.Equal(t, 130.0, events[0].SGV)
	assert.InDelta(t, 2.0, events[0].Slope, 1e-6)
	assert.Equal(t, models.TrendRising, events[0].Trend)

	// The oldest reading lacks a slope window behind it and is skipped.
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Mills, anchorMs-25*millisPerMinute)
	}
}
