package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
)

// capacityAlertRatio is the load factor at which supervisors are told a trip is nearly full.
const capacityAlertRatio = 0.9

func withReason(msg, reason string) string {
	if reason == "" {
		return msg
	}
	return msg + ": " + reason
}

func (d *Dispatcher) handleTripStatus(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p tripStatusPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.TripRoom(p.TripID), EventTripStatusBroadcast, p)
	switch p.Status {
	case "delayed", "cancelled", "completed":
		d.broadcastNotification(ctx, "trip_status",
			withReason(fmt.Sprintf("Trip %s status changed to %s", p.TripID, p.Status), p.Reason),
			map[string]interface{}{"tripId": p.TripID, "status": p.Status, "reason": p.Reason})
	}
	return nil
}

func (d *Dispatcher) handleTripDelay(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p tripDelayPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.TripRoom(p.TripID), EventTripDelayAlert, p)
	d.broadcastNotification(ctx, "trip_delay",
		withReason(fmt.Sprintf("Trip %s is delayed by %g minutes", p.TripID, *p.Delay), p.Reason),
		map[string]interface{}{"tripId": p.TripID, "delay": *p.Delay, "reason": p.Reason})
	return nil
}

func (d *Dispatcher) handlePassengerUpdate(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p tripPassengerPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.TripRoom(p.TripID), EventTripPassengerUpdate, p)
	if float64(*p.PassengerCount) >= float64(*p.Capacity)*capacityAlertRatio {
		d.notify(ctx, notify.Request{
			Type:       "capacity_alert",
			Message:    fmt.Sprintf("Trip %s is nearing capacity", p.TripID),
			Recipients: []string{string(models.RoleSupervisor)},
			Priority:   models.PriorityNormal,
			Payload: map[string]interface{}{
				"tripId":         p.TripID,
				"passengerCount": *p.PassengerCount,
				"capacity":       *p.Capacity,
			},
		})
	}
	return nil
}

func (d *Dispatcher) handleRouteDeviation(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p tripDeviationPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.TripRoom(p.TripID), EventTripRouteDeviation, p)
	d.broadcastNotification(ctx, "route_deviation",
		withReason(fmt.Sprintf("Trip %s has deviated from planned route", p.TripID), p.Reason),
		map[string]interface{}{"tripId": p.TripID, "deviation": *p.Deviation, "reason": p.Reason})
	return nil
}
