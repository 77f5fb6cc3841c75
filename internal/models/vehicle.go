package models

import (
	"time"
)

// BusStatus is the operational status of a bus.
type BusStatus string

const (
	BusAvailable    BusStatus = "available"
	BusInService    BusStatus = "in_service"
	BusMaintenance  BusStatus = "maintenance"
	BusOutOfService BusStatus = "out_of_service"
)

// IsValidBusStatus checks if a status is one of the known bus statuses
func IsValidBusStatus(s BusStatus) bool {
	switch s {
	case BusAvailable, BusInService, BusMaintenance, BusOutOfService:
		return true
	default:
		return false
	}
}

// Bus represents a fleet vehicle that can be dispatched to ride requests.
type Bus struct {
	ID              string    `bson:"_id" json:"id"`
	Number          string    `bson:"number" json:"number"`
	Capacity        int       `bson:"capacity" json:"capacity"`
	CurrentLocation Location  `bson:"current_location" json:"currentLocation"`
	Status          BusStatus `bson:"status" json:"status"`
	CurrentTripID   string    `bson:"current_trip_id,omitempty" json:"currentTripId,omitempty"`
	SensorIDs       []string  `bson:"sensor_ids,omitempty" json:"sensorIds,omitempty"`
	// AssignedRequestID is set while the bus is reserved for a ride request.
	AssignedRequestID string    `bson:"assigned_request_id,omitempty" json:"assignedRequestId,omitempty"`
	CreatedAt         time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
}

// Dispatchable reports whether the bus can be reserved for a new ride request.
func (b *Bus) Dispatchable() bool {
	return b.Status == BusAvailable && b.AssignedRequestID == ""
}
