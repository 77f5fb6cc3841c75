package models

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `bson:"lat" json:"latitude"`
	Lon float64 `bson:"lon" json:"longitude"`
}

// Position is the data a vehicle reports with a location update.
type Position struct {
	Location Location `json:"location"`
	Altitude *float64 `json:"altitude,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Speed    *float64 `json:"speed,omitempty"`
	Heading  *float64 `json:"heading,omitempty"`
}
