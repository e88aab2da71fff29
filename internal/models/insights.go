// Package models contains data structures used throughout the application
package models

// CacheMeta is the sync watermark persisted next to the cached streams.
// Version mismatches on load are treated as an empty cache, which gives a
// forward-compatible escape hatch for schema bumps.
type CacheMeta struct {
	Version      int   `json:"version"`
	LastSyncedMs int64 `json:"lastSyncedMs"`
}

// CacheVersion is the persisted schema version the cache reads and writes.
const CacheVersion = 2

// SeriesPoint is a resampled glucose point relative to an anchor time.
// Minute 0 is the anchor itself; negative offsets are the past.
type SeriesPoint struct {
	MinuteOffset int     `json:"minuteOffset"`
	SGV          float64 `json:"glucoseValue"`
}

// MarkerKind distinguishes treatment markers on a match trace.
type MarkerKind string

const (
	MarkerInsulin MarkerKind = "insulin"
	MarkerCarbs   MarkerKind = "carbs"
)

// TreatmentMarker flags a treatment on a match trace for display.
type TreatmentMarker struct {
	MinuteOffset int        `json:"minuteOffset"`
	Kind         MarkerKind `json:"kind"`
}

// ActionSummary totals the treatments taken in the 30 minutes after an anchor.
type ActionSummary struct {
	Insulin    float64 `json:"insulin"` // units
	Carbs      float64 `json:"carbs"`   // grams
	BolusCount int     `json:"bolusCount"`
	CarbCount  int     `json:"carbCount"`
}

// MatchTrace is one historical episode similar to the current anchor:
// the resampled glucose curve around it, the loop state at it, what was
// done in the following half hour, and how the next two hours went.
type MatchTrace struct {
	Mills  int64         `json:"timestampMs"` // anchor timestamp of the match
	SGV    float64       `json:"glucoseValue"`
	Slope  float64       `json:"slope"` // mg/dL per minute at the anchor
	Series []SeriesPoint `json:"series"`

	IOB *float64 `json:"iob,omitempty"` // best-effort load at the anchor
	COB *float64 `json:"cob,omitempty"`

	Actions ActionSummary     `json:"actions"`
	Markers []TreatmentMarker `json:"markers"`
	TIR2h   float64           `json:"tir2h"` // time-in-range fraction, first 2 h
}

// StrategyCard summarizes a cluster of matches that share the same
// categorized 30-minute action profile.
type StrategyCard struct {
	Key        string `json:"key"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	MatchCount int    `json:"matchCount"`

	// AvgGlucose2h is the mean glucose at exactly +120 min across the
	// cluster's matches; nil when no match resolved that point.
	AvgGlucose2h *float64 `json:"avgGlucose2h,omitempty"`
	SuccessRate  float64  `json:"successRate"` // fraction inside the target band at +2h
	IsBest       bool     `json:"isBest"`
}

// InvestigateEvent is a recent candidate anchor derived from the short
// recent window, offered to the caller as a starting point for a search.
type InvestigateEvent struct {
	Mills int64       `json:"timestampMs"`
	SGV   float64     `json:"glucoseValue"`
	Slope float64     `json:"slope"`
	Trend TrendBucket `json:"trend"`
}

// Disclaimer is attached verbatim to every Insights result.
const Disclaimer = "Based on your own historical data. This is not medical advice; always confirm dosing decisions with your care team."

// Insights is the full output of a matching-engine query. It is recomputed
// per call and never persisted.
type Insights struct {
	MatchCount    int            `json:"matchCount"`
	Matches       []MatchTrace   `json:"matches"` // most recent first
	CurrentSeries []SeriesPoint  `json:"currentSeries"`
	MedianSeries  []SeriesPoint  `json:"medianSeries"`
	Strategies    []StrategyCard `json:"strategies"`
	Disclaimer    string         `json:"disclaimer"`
}
