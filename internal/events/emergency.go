package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
)

// emergencyBroadcast is the canonical record relayed to the emergencies room.
type emergencyBroadcast struct {
	BusID       string          `json:"busId"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Location    models.Location `json:"location"`
	Timestamp   string          `json:"timestamp"`
	Priority    string          `json:"priority"`
	ReportedBy  string          `json:"reportedBy"`
}

func (d *Dispatcher) handleEmergency(ctx context.Context, c *hub.Client, raw json.RawMessage) error {
	var p emergencyPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	identity, _, _ := c.Identity()
	msg := emergencyBroadcast{
		BusID:       p.BusID,
		Type:        p.Type,
		Description: p.Description,
		Location:    p.Location.location(),
		Timestamp:   p.Timestamp,
		Priority:    p.Priority,
		ReportedBy:  identity,
	}
	d.hub.Publish(hub.RoomEmergencies, EventEmergencyBroadcast, msg)

	if p.Priority == "high" || p.Priority == "critical" {
		d.notify(ctx, notify.Request{
			Type:       "emergency",
			Message:    fmt.Sprintf("%s emergency on bus %s: %s", p.Type, p.BusID, p.Description),
			Recipients: oversight,
			Priority:   models.PriorityHigh,
			Payload: map[string]interface{}{
				"busId":    p.BusID,
				"type":     p.Type,
				"priority": p.Priority,
				"location": msg.Location,
			},
		})
	}
	return nil
}
