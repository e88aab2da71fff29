// Package models contains data structures used throughout the application
package models

import "time"

// Treatment represents an insulin or carbohydrate event.
// Insulin and Carbs are pointers because absent is not the same as zero:
// a logged 0 g snack and a treatment with no carb field must not merge.
type Treatment struct {
	Mills     int64    `json:"timestampMs"` // Unix timestamp in milliseconds
	Insulin   *float64 `json:"insulinUnits,omitempty"`
	Carbs     *float64 `json:"carbsGrams,omitempty"`
	EventType string   `json:"eventType,omitempty"`
}

// Time returns the time of the treatment
func (t Treatment) Time() time.Time {
	return time.UnixMilli(t.Mills)
}

// HasInsulin returns true if this treatment delivers insulin
func (t Treatment) HasInsulin() bool {
	return t.Insulin != nil && *t.Insulin > 0
}

// HasCarbs returns true if this treatment includes carbohydrates
func (t Treatment) HasCarbs() bool {
	return t.Carbs != nil && *t.Carbs > 0
}

// InsulinUnits returns the delivered insulin, 0 when the field is absent.
func (t Treatment) InsulinUnits() float64 {
	if t.Insulin == nil {
		return 0
	}
	return *t.Insulin
}

// CarbsGrams returns the carbohydrate amount, 0 when the field is absent.
func (t Treatment) CarbsGrams() float64 {
	if t.Carbs == nil {
		return 0
	}
	return *t.Carbs
}

// IsBolus returns true if this is a bolus treatment
func (t Treatment) IsBolus() bool {
	bolusTypes := map[string]bool{
		"Bolus":            true,
		"Snack Bolus":      true,
		"Meal Bolus":       true,
		"Correction Bolus": true,
		"Combo Bolus":      true,
		"Bolus Wizard":     true,
	}
	return bolusTypes[t.EventType] || (t.HasInsulin() && t.EventType != "Temp Basal")
}
