// Package models contains data structures used throughout the application
package models

import "time"

// BgEntry represents a single CGM glucose reading.
// Entries are keyed by their millisecond timestamp: a cached stream never
// holds two entries with the same Mills value.
type BgEntry struct {
	Mills int64   `json:"timestampMs"`  // Unix timestamp in milliseconds
	SGV   float64 `json:"glucoseValue"` // Sensor glucose value in mg/dL
}

// Time returns the time of the glucose entry
func (e BgEntry) Time() time.Time {
	return time.UnixMilli(e.Mills)
}

// ValueMmol returns the glucose value in mmol/L
func (e BgEntry) ValueMmol() float64 {
	return e.SGV / 18.0182
}

// InRange reports whether the reading sits inside the [low, high] band.
func (e BgEntry) InRange(low, high float64) bool {
	return e.SGV >= low && e.SGV <= high
}

// TrendBucket is a coarse classification of the local glucose slope.
// Coarse on purpose: bucketing absorbs sensor noise that would otherwise
// flap a raw slope between rising and falling.
type TrendBucket string

const (
	TrendRising  TrendBucket = "rising"
	TrendFalling TrendBucket = "falling"
	TrendStable  TrendBucket = "stable"
)

// Arrow returns the Unicode arrow character for the trend bucket
func (b TrendBucket) Arrow() string {
	switch b {
	case TrendRising:
		return "↑"
	case TrendFalling:
		return "↓"
	case TrendStable:
		return "→"
	}
	return "-"
}
