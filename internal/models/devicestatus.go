// Package models contains data structures used throughout the application
package models

import "time"

// DeviceStatusSnapshot is a point-in-time pump/loop computed insulin and
// carb load. Snapshots are sparse: the uploader posts them on its own
// schedule, so not every minute has one. All load fields are optional:
// a nil field means the loop did not report it, which downstream matching
// treats differently from a reported zero.
type DeviceStatusSnapshot struct {
	Mills    int64    `json:"timestampMs"` // Unix timestamp in milliseconds
	IOB      *float64 `json:"insulinOnBoard,omitempty"`
	BolusIOB *float64 `json:"insulinOnBoardBolus,omitempty"`
	BasalIOB *float64 `json:"insulinOnBoardBasal,omitempty"`
	COB      *float64 `json:"carbsOnBoard,omitempty"`
}

// Time returns the time of the snapshot
func (d DeviceStatusSnapshot) Time() time.Time {
	return time.UnixMilli(d.Mills)
}

// HasLoad reports whether the snapshot carries at least one load value.
func (d DeviceStatusSnapshot) HasLoad() bool {
	return d.IOB != nil || d.COB != nil
}
