package models

import (
	"testing"
	"time"
)

func TestSensorThreshold_Classify(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	band := SensorThreshold{Min: f(10), Max: f(80), CriticalMin: f(0), CriticalMax: f(90)}

	tests := []struct {
		name  string
		value float64
		want  ReadingStatus
	}{
		{"inside band", 50, ReadingNormal},
		{"at warning max", 80, ReadingWarning},
		{"below warning min", 5, ReadingWarning},
		{"at critical max", 90, ReadingCritical},
		{"above critical max", 95, ReadingCritical},
		{"below critical min", -3, ReadingCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := band.Classify(tt.value); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.value, got, tt.want)
			}
		})
	}

	if got := (SensorThreshold{}).Classify(1e9); got != ReadingNormal {
		t.Errorf("empty band should classify as normal, got %s", got)
	}
}

func TestNeedsCalibration(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	if !NeedsCalibration(time.Time{}, now) {
		t.Error("never calibrated sensor should need calibration")
	}
	if NeedsCalibration(now.Add(-30*24*time.Hour), now) {
		t.Error("sensor calibrated a month ago should not need calibration")
	}
	if !NeedsCalibration(now.Add(-200*24*time.Hour), now) {
		t.Error("sensor calibrated 200 days ago should need calibration")
	}
}

func TestRideRequestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to RideRequestStatus
		want     bool
	}{
		{RequestPending, RequestAssigned, true},
		{RequestPending, RequestCancelled, true},
		{RequestPending, RequestCompleted, false},
		{RequestAssigned, RequestCompleted, true},
		{RequestAssigned, RequestCancelled, true},
		{RequestAssigned, RequestPending, false},
		{RequestCompleted, RequestCancelled, false},
		{RequestCancelled, RequestAssigned, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestBus_Dispatchable(t *testing.T) {
	b := Bus{Status: BusAvailable}
	if !b.Dispatchable() {
		t.Error("available unreserved bus should be dispatchable")
	}
	b.AssignedRequestID = "r1"
	if b.Dispatchable() {
		t.Error("reserved bus should not be dispatchable")
	}
	b = Bus{Status: BusMaintenance}
	if b.Dispatchable() {
		t.Error("bus in maintenance should not be dispatchable")
	}
}
