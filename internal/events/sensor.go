package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
)

// SensorMetric names the metric a sensor type is recorded under.
func SensorMetric(sensorType string) string {
	return "sensor." + sensorType
}

func (d *Dispatcher) handleSensorData(_ context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p sensorDataPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.monitoring.Record(SensorMetric(p.Type), *p.Value, map[string]string{
		"busId":    p.BusID,
		"sensorId": p.SensorID,
		"unit":     p.Unit,
	})
	d.hub.Publish(hub.BusRoom(p.BusID), EventSensorDataBroadcast, p)
	return nil
}

func (d *Dispatcher) handleThresholdAlert(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p thresholdAlertPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.BusRoom(p.BusID), EventSensorThresholdAlert, p)
	if p.Severity == "critical" {
		d.notify(ctx, notify.Request{
			Type:       "sensor_alert",
			Message:    fmt.Sprintf("Critical sensor alert for bus %s: %s value %g exceeded threshold", p.BusID, p.Type, *p.Value),
			Recipients: maintenance,
			Priority:   models.PriorityHigh,
			Payload: map[string]interface{}{
				"busId":     p.BusID,
				"sensorId":  p.SensorID,
				"value":     *p.Value,
				"threshold": *p.Threshold,
			},
		})
	}
	return nil
}

func (d *Dispatcher) handleMalfunction(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p malfunctionPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	d.hub.Publish(hub.BusRoom(p.BusID), EventSensorMalfunction, p)
	d.notify(ctx, notify.Request{
		Type:       "sensor_malfunction",
		Message:    fmt.Sprintf("Sensor malfunction on bus %s: %s - %s", p.BusID, p.Type, p.Error),
		Recipients: []string{string(models.RoleMaintenance)},
		Priority:   models.PriorityHigh,
		Payload:    map[string]interface{}{"busId": p.BusID, "sensorId": p.SensorID},
	})
	return nil
}

func (d *Dispatcher) handleCalibrationNeeded(ctx context.Context, _ *hub.Client, raw json.RawMessage) error {
	var p calibrationPayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	var last time.Time
	if p.LastCalibration != "" {
		// Already validated against the same layout.
		last, _ = time.Parse(isoTime, p.LastCalibration)
	}
	overdue := models.NeedsCalibration(last, d.hub.Now())

	d.hub.Publish(hub.BusRoom(p.BusID), EventSensorCalibrationNeeded, p)
	d.notify(ctx, notify.Request{
		Type:       "sensor_calibration",
		Message:    fmt.Sprintf("Sensor calibration needed for bus %s: %s", p.BusID, p.Type),
		Recipients: []string{string(models.RoleMaintenance)},
		Priority:   models.PriorityNormal,
		Payload: map[string]interface{}{
			"busId":           p.BusID,
			"sensorId":        p.SensorID,
			"lastCalibration": p.LastCalibration,
			"overdue":         overdue,
		},
	})
	return nil
}
