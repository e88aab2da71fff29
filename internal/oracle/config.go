// Package oracle searches cached glucose history for past episodes similar
// to the current trajectory and summarizes what was done and what followed.
package oracle

// Config holds the engine tunables. Zero values are not meaningful; start
// from DefaultConfig and override fields as needed.
type Config struct {
	// Slope estimation
	SlopeWindowMinutes int     // lookback window ending at the anchor
	SlopeSampleCount   int     // evenly spaced samples across the window
	SlopeSampleMin     int     // clamp bounds for caller-supplied counts
	SlopeSampleMax     int
	MaxGapMinutes      float64 // widest bracket pair interpolation will cross
	TrendThreshold     float64 // mg/dL/min; at or inside the band is "stable"

	// Match filters
	TimeOfDayWindowMinutes  float64 // circular minute-of-day proximity
	GlucoseToleranceFixed   float64 // mg/dL
	GlucoseTolerancePercent float64 // fraction of the anchor value
	SlopeTolerance          float64 // mg/dL/min
	IOBTolerance            float64 // units
	COBTolerance            float64 // grams
	LoadLookupMinutes       float64 // nearest-neighbor window for IOB/COB

	// Trace windows
	FutureSufficiencyMinutes int // candidate needs history past this mark
	PastWindowMinutes        int // resample window start (minutes before anchor)
	FutureWindowMinutes      int // resample window end (minutes after anchor)
	MinFuturePoints          int // resolved future points a trace must have

	// Outcomes
	TIRWindowMinutes    int     // time-in-range horizon after the anchor
	ActionWindowMinutes int     // treatment summary horizon after the anchor
	TargetLow           float64 // mg/dL
	TargetHigh          float64
	IdealTarget         float64
	MaxStrategies       int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SlopeWindowMinutes: 15,
		SlopeSampleCount:   5,
		SlopeSampleMin:     3,
		SlopeSampleMax:     10,
		MaxGapMinutes:      15,
		TrendThreshold:     1.0,

		TimeOfDayWindowMinutes:  90,
		GlucoseToleranceFixed:   15,
		GlucoseTolerancePercent: 0.10,
		SlopeTolerance:          2.0,
		IOBTolerance:            1.0,
		COBTolerance:            20,
		LoadLookupMinutes:       10,

		FutureSufficiencyMinutes: 240,
		PastWindowMinutes:        120,
		FutureWindowMinutes:      240,
		MinFuturePoints:          10,

		TIRWindowMinutes:    120,
		ActionWindowMinutes: 30,
		TargetLow:           70,
		TargetHigh:          140,
		IdealTarget:         110,
		MaxStrategies:       3,
	}
}

// clampSampleCount bounds a caller-supplied sample count, falling back to
// the configured default when the caller passes zero.
func (c Config) clampSampleCount(n int) int {
	if n <= 0 {
		n = c.SlopeSampleCount
	}
	if n < c.SlopeSampleMin {
		n = c.SlopeSampleMin
	}
	if n > c.SlopeSampleMax {
		n = c.SlopeSampleMax
	}
	return n
}
