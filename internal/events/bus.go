package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
)

var (
	oversight   = []string{string(models.RoleAdmin), string(models.RoleSupervisor)}
	maintenance = []string{string(models.RoleMaintenance), string(models.RoleSupervisor)}
)

func (d *Dispatcher) handleLocationUpdate(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p locationUpdatePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	rec, err := d.locations.Update(ctx, p.BusID, p.position())
	if err != nil {
		return err
	}
	d.hub.Publish(hub.BusRoom(p.BusID), EventBusLocationBroadcast, rec)
	return nil
}

// busStatusFor maps a reported status onto the fleet status of the bus.
func busStatusFor(reported string) models.BusStatus {
	switch reported {
	case "maintenance_needed":
		return models.BusMaintenance
	case "emergency":
		return models.BusOutOfService
	default:
		return models.BusStatus(reported)
	}
}

func (d *Dispatcher) handleStatusUpdate(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p busStatusPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	bus, err := d.fleet.SetBusStatus(ctx, p.BusID, busStatusFor(p.Status))
	if err != nil {
		return err
	}
	d.hub.Publish(hub.BusRoom(p.BusID), EventBusStatusBroadcast, map[string]interface{}{
		"busId":          bus.ID,
		"reportedStatus": p.Status,
		"status":         bus.Status,
		"reason":         p.Reason,
		"updatedAt":      bus.UpdatedAt,
	})

	if p.Status == "maintenance_needed" || p.Status == "emergency" {
		priority := models.PriorityNormal
		if p.Status == "emergency" {
			priority = models.PriorityHigh
		}
		d.notify(ctx, notify.Request{
			Type:       "bus_status",
			Message:    fmt.Sprintf("Bus %s status changed to %s", p.BusID, p.Status),
			Recipients: oversight,
			Priority:   priority,
			Payload:    map[string]interface{}{"busId": p.BusID, "status": p.Status},
		})
	}
	return nil
}

func (d *Dispatcher) handleArrival(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p stationPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.TripRoom(p.TripID), EventBusArrived, p)
	d.broadcastNotification(ctx, "bus_arrival", fmt.Sprintf("Bus has arrived at station %s", p.StationID),
		map[string]interface{}{"busId": p.BusID, "stationId": p.StationID, "tripId": p.TripID})
	return nil
}

func (d *Dispatcher) handleDeparture(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p stationPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.TripRoom(p.TripID), EventBusDeparted, p)
	d.broadcastNotification(ctx, "bus_departure", fmt.Sprintf("Bus has departed from station %s", p.StationID),
		map[string]interface{}{
			"busId":            p.BusID,
			"tripId":           p.TripID,
			"nextStationId":    p.NextStationID,
			"estimatedArrival": p.EstimatedArrival,
		})
	return nil
}

func (d *Dispatcher) handleMaintenanceAlert(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p maintenancePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.RoomMaintenance, EventBusMaintenanceAlert, p)
	if p.Severity == "high" {
		d.notify(ctx, notify.Request{
			Type:       "maintenance_alert",
			Message:    fmt.Sprintf("Urgent maintenance required for bus %s: %s", p.BusID, p.Issue),
			Recipients: maintenance,
			Priority:   models.PriorityHigh,
			Payload:    map[string]interface{}{"busId": p.BusID, "issue": p.Issue},
		})
	}
	return nil
}
