package models

import (
	"time"
)

// RideRequestStatus is the lifecycle state of a ride request.
type RideRequestStatus string

const (
	RequestPending   RideRequestStatus = "pending"
	RequestAssigned  RideRequestStatus = "assigned"
	RequestCompleted RideRequestStatus = "completed"
	RequestCancelled RideRequestStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s RideRequestStatus) Terminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

// CanTransition reports whether a request may move from s to next.
// Transitions only move forward; cancelled is reachable from any non-terminal state.
func (s RideRequestStatus) CanTransition(next RideRequestStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case RequestCancelled:
		return true
	case RequestAssigned:
		return s == RequestPending
	case RequestCompleted:
		return s == RequestAssigned
	default:
		return false
	}
}

// RideRequest is a pilgrim's request for transport from a pickup point.
type RideRequest struct {
	ID          string            `json:"id" bson:"_id"`
	RequesterID string            `json:"userId" bson:"requester_id"`
	Coordinates Location          `json:"coordinates" bson:"coordinates"`
	BusID       string            `json:"busId,omitempty" bson:"bus_id,omitempty"`
	Status      RideRequestStatus `json:"status" bson:"status"`
	DistanceKM  float64           `json:"distanceKm,omitempty" bson:"distance_km,omitempty"`
	ETAMinutes  int               `json:"etaMinutes,omitempty" bson:"eta_minutes,omitempty"`
	CreatedAt   time.Time         `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time         `json:"updatedAt" bson:"updated_at"`
}
