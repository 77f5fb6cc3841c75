package models

import "time"

// LocationRecord is an accepted location update for one vehicle. Records are
// never modified after they are stored.
type LocationRecord struct {
	VehicleID string    `bson:"vehicle_id" json:"busId"`
	Location  Location  `bson:"location" json:"location"`
	Altitude  *float64  `bson:"altitude,omitempty" json:"altitude,omitempty"`
	Accuracy  *float64  `bson:"accuracy,omitempty" json:"accuracy,omitempty"`
	Speed     *float64  `bson:"speed,omitempty" json:"speed,omitempty"`
	Heading   *float64  `bson:"heading,omitempty" json:"heading,omitempty"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// MetricSample is one recorded value of a named metric.
type MetricSample struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Alert is raised when a registered threshold holds for a recorded sample.
type Alert struct {
	Metric    string            `json:"metric"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Condition string            `json:"condition"`
}
