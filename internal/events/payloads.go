package events

import "github.com/ukydev/hajj-fleet-dispatch/internal/models"

// Inbound event names.
const (
	EventAuthenticate = "authenticate"
	EventPing         = "ping"

	EventJoinBusRoom   = "joinBusRoom"
	EventLeaveBusRoom  = "leaveBusRoom"
	EventJoinTripRoom  = "joinTripRoom"
	EventLeaveTripRoom = "leaveTripRoom"
	EventSubscribe     = "subscribe"
	EventUnsubscribe   = "unsubscribe"

	EventBusLocationUpdate   = "busLocationUpdate"
	EventBusStatusUpdate     = "busStatusUpdate"
	EventBusArrived          = "busArrived"
	EventBusDeparted         = "busDeparted"
	EventBusMaintenanceAlert = "busMaintenanceAlert"

	EventTripStatusUpdate    = "tripStatusUpdate"
	EventTripDelayAlert      = "tripDelayAlert"
	EventTripPassengerUpdate = "tripPassengerUpdate"
	EventTripRouteDeviation  = "tripRouteDeviation"

	EventSensorDataUpdate        = "sensorDataUpdate"
	EventSensorThresholdAlert    = "sensorThresholdAlert"
	EventSensorMalfunction       = "sensorMalfunction"
	EventSensorCalibrationNeeded = "sensorCalibrationNeeded"

	EventEmergencyAlert = "emergencyAlert"
)

// Outbound event names.
const (
	EventAuthResponse          = "authResponse"
	EventError                 = "error"
	EventPong                  = "pong"
	EventBusLocationBroadcast  = "busLocationBroadcast"
	EventBusStatusBroadcast    = "busStatusBroadcast"
	EventTripStatusBroadcast   = "tripStatusBroadcast"
	EventSensorDataBroadcast   = "sensorDataBroadcast"
	EventEmergencyBroadcast    = "emergencyBroadcast"
	EventSubscriptionConfirmed = "subscribed"
)

// Response is the body of authResponse and error events.
type Response struct {
	Status  string   `json:"status"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

type authenticatePayload struct {
	ClientID   string `json:"clientId" validate:"required"`
	ClientType string `json:"clientType" validate:"required,oneof=bus driver passenger supervisor admin"`
	Token      string `json:"token" validate:"required"`
}

type coordinates struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

func (c *coordinates) location() models.Location {
	return models.Location{Lat: *c.Latitude, Lon: *c.Longitude}
}

type positionFix struct {
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`
}

type locationUpdatePayload struct {
	BusID     string       `json:"busId" validate:"required"`
	Location  *positionFix `json:"location" validate:"required"`
	Speed     *float64     `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Heading   *float64     `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	Timestamp string       `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

func (p *locationUpdatePayload) position() models.Position {
	return models.Position{
		Location: models.Location{Lat: *p.Location.Latitude, Lon: *p.Location.Longitude},
		Altitude: p.Location.Altitude,
		Accuracy: p.Location.Accuracy,
		Speed:    p.Speed,
		Heading:  p.Heading,
	}
}

type busStatusPayload struct {
	BusID     string `json:"busId" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=available in_service maintenance out_of_service maintenance_needed emergency"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type stationPayload struct {
	BusID            string `json:"busId" validate:"required"`
	StationID        string `json:"stationId" validate:"required"`
	TripID           string `json:"tripId" validate:"required"`
	NextStationID    string `json:"nextStationId,omitempty"`
	EstimatedArrival string `json:"estimatedArrival,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type maintenancePayload struct {
	BusID    string `json:"busId" validate:"required"`
	Issue    string `json:"issue" validate:"required"`
	Severity string `json:"severity" validate:"required,oneof=low medium high"`
}

type tripStatusPayload struct {
	TripID string `json:"tripId" validate:"required"`
	Status string `json:"status" validate:"required,oneof=scheduled in_progress delayed cancelled completed"`
	Reason string `json:"reason,omitempty"`
}

type tripDelayPayload struct {
	TripID string   `json:"tripId" validate:"required"`
	Delay  *float64 `json:"delay" validate:"required,gt=0"`
	Reason string   `json:"reason,omitempty"`
}

type tripPassengerPayload struct {
	TripID         string `json:"tripId" validate:"required"`
	PassengerCount *int   `json:"passengerCount" validate:"required,gte=0"`
	Capacity       *int   `json:"capacity" validate:"required,gt=0"`
}

type tripDeviationPayload struct {
	TripID    string   `json:"tripId" validate:"required"`
	Deviation *float64 `json:"deviation" validate:"required,gte=0"`
	Reason    string   `json:"reason,omitempty"`
}

type sensorDataPayload struct {
	BusID     string   `json:"busId" validate:"required"`
	SensorID  string   `json:"sensorId" validate:"required"`
	Type      string   `json:"type" validate:"required"`
	Value     *float64 `json:"value" validate:"required"`
	Unit      string   `json:"unit" validate:"required"`
	Timestamp string   `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Status    string   `json:"status" validate:"required,oneof=normal warning critical"`
}

type thresholdAlertPayload struct {
	BusID     string   `json:"busId" validate:"required"`
	SensorID  string   `json:"sensorId" validate:"required"`
	Type      string   `json:"type" validate:"required"`
	Value     *float64 `json:"value" validate:"required"`
	Threshold *float64 `json:"threshold" validate:"required"`
	Severity  string   `json:"severity" validate:"required,oneof=warning critical"`
}

type malfunctionPayload struct {
	BusID    string `json:"busId" validate:"required"`
	SensorID string `json:"sensorId" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Error    string `json:"error" validate:"required"`
}

type calibrationPayload struct {
	BusID           string `json:"busId" validate:"required"`
	SensorID        string `json:"sensorId" validate:"required"`
	Type            string `json:"type" validate:"required"`
	LastCalibration string `json:"lastCalibration,omitempty" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

type emergencyPayload struct {
	BusID       string       `json:"busId" validate:"required"`
	Type        string       `json:"type" validate:"required,oneof=medical mechanical security other"`
	Description string       `json:"description" validate:"required"`
	Location    *coordinates `json:"location" validate:"required"`
	Timestamp   string       `json:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Priority    string       `json:"priority" validate:"required,oneof=low medium high critical"`
}

type busRoomPayload struct {
	BusID string `json:"busId" validate:"required"`
}

type tripRoomPayload struct {
	TripID string `json:"tripId" validate:"required"`
}

type subscriptionPayload struct {
	Type string `json:"type" validate:"required"`
}
