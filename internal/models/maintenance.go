package models

import (
	"time"
)

// ReadingStatus classifies a sensor reading against its threshold band.
type ReadingStatus string

const (
	ReadingNormal   ReadingStatus = "normal"
	ReadingWarning  ReadingStatus = "warning"
	ReadingCritical ReadingStatus = "critical"
)

// CalibrationInterval is how long a sensor calibration stays valid.
const CalibrationInterval = 6 * 30 * 24 * time.Hour

// SensorThreshold holds the warning and critical bounds for a sensor type.
// A nil bound is not checked.
type SensorThreshold struct {
	Min         *float64 `yaml:"min" json:"min,omitempty"`
	Max         *float64 `yaml:"max" json:"max,omitempty"`
	CriticalMin *float64 `yaml:"critical_min" json:"critical_min,omitempty"`
	CriticalMax *float64 `yaml:"critical_max" json:"critical_max,omitempty"`
}

// Classify returns the reading status of value against the threshold band.
func (t SensorThreshold) Classify(value float64) ReadingStatus {
	if (t.CriticalMin != nil && value <= *t.CriticalMin) || (t.CriticalMax != nil && value >= *t.CriticalMax) {
		return ReadingCritical
	}
	if (t.Min != nil && value <= *t.Min) || (t.Max != nil && value >= *t.Max) {
		return ReadingWarning
	}
	return ReadingNormal
}

// NeedsCalibration reports whether a sensor last calibrated at last is due
// for calibration at now. A zero time always needs calibration.
func NeedsCalibration(last, now time.Time) bool {
	return last.IsZero() || now.Sub(last) > CalibrationInterval
}
