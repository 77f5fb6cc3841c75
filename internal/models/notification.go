package models

import "time"

// Priority of a notification.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification is a message fanned out to recipients or topic subscribers.
// Exactly one of Recipients or Topic is set.
type Notification struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Priority   Priority               `json:"priority"`
	Payload    map[string]interface{} `json:"data,omitempty"`
	Recipients []string               `json:"recipients,omitempty"`
	Topic      string                 `json:"topic,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}
