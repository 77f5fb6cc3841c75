// Package events translates inbound real-time events into calls on the
// domain services and fans the results out to rooms and recipients.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/dispatch"
	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/location"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/monitoring"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
)

// Verifier checks a bearer credential.
type Verifier interface {
	ValidateToken(token string) (*models.Claims, error)
}

type access int

const (
	// public events are accepted from unauthenticated connections.
	public access = iota
	authenticated
	// telemetry events need the publish_telemetry permission.
	telemetry
)

type handlerFunc func(ctx context.Context, c *hub.Client, raw json.RawMessage) error

type route struct {
	access access
	handle handlerFunc
}

// Dispatcher routes inbound events. Handlers of different connections run
// concurrently; a single handler runs to completion before its reply is sent.
type Dispatcher struct {
	hub        *hub.Hub
	verifier   Verifier
	locations  *location.Service
	monitoring *monitoring.Service
	notifier   *notify.Router
	fleet      *dispatch.Workflow
	logger     logrus.FieldLogger
	routes     map[string]route
}

// NewDispatcher wires a Dispatcher to the domain services.
func NewDispatcher(
	h *hub.Hub,
	verifier Verifier,
	locations *location.Service,
	mon *monitoring.Service,
	notifier *notify.Router,
	fleet *dispatch.Workflow,
	logger logrus.FieldLogger,
) *Dispatcher {
	d := &Dispatcher{
		hub:        h,
		verifier:   verifier,
		locations:  locations,
		monitoring: mon,
		notifier:   notifier,
		fleet:      fleet,
		logger:     logger.WithField("component", "events"),
	}
	d.routes = map[string]route{
		EventAuthenticate: {public, d.handleAuthenticate},
		EventPing:         {public, d.handlePing},

		EventJoinBusRoom:   {public, d.handleBusRoom(true)},
		EventLeaveBusRoom:  {public, d.handleBusRoom(false)},
		EventJoinTripRoom:  {public, d.handleTripRoom(true)},
		EventLeaveTripRoom: {public, d.handleTripRoom(false)},
		EventSubscribe:     {authenticated, d.handleSubscription(true)},
		EventUnsubscribe:   {authenticated, d.handleSubscription(false)},

		EventBusLocationUpdate:   {telemetry, d.handleLocationUpdate},
		EventBusStatusUpdate:     {telemetry, d.handleStatusUpdate},
		EventBusArrived:          {telemetry, d.handleArrival},
		EventBusDeparted:         {telemetry, d.handleDeparture},
		EventBusMaintenanceAlert: {telemetry, d.handleMaintenanceAlert},

		EventTripStatusUpdate:    {telemetry, d.handleTripStatus},
		EventTripDelayAlert:      {telemetry, d.handleTripDelay},
		EventTripPassengerUpdate: {telemetry, d.handlePassengerUpdate},
		EventTripRouteDeviation:  {telemetry, d.handleRouteDeviation},

		EventSensorDataUpdate:        {telemetry, d.handleSensorData},
		EventSensorThresholdAlert:    {telemetry, d.handleThresholdAlert},
		EventSensorMalfunction:       {telemetry, d.handleMalfunction},
		EventSensorCalibrationNeeded: {telemetry, d.handleCalibrationNeeded},

		EventEmergencyAlert: {authenticated, d.handleEmergency},
	}
	return d
}

// Handle processes one inbound event from c. Failures are reported to c as
// an error event and returned; they never close the connection.
func (d *Dispatcher) Handle(ctx context.Context, c *hub.Client, event string, raw json.RawMessage) error {
	d.hub.Touch(c)

	r, ok := d.routes[event]
	if !ok {
		err := apperr.NewValidationError(fmt.Sprintf("unknown event %q", event))
		d.reply(c, event, err)
		return err
	}

	if !d.hub.Allow(c, event) {
		err := fmt.Errorf("%s: %w", event, apperr.ErrRateLimited)
		d.logger.WithFields(logrus.Fields{"client_id": c.ID, "event": event}).Debug("Event rate limited")
		d.reply(c, event, err)
		return err
	}

	if err := d.authorize(c, r.access); err != nil {
		d.reply(c, event, err)
		return err
	}

	if err := r.handle(ctx, c, raw); err != nil {
		if apperr.Status(err) == apperr.StatusServerError {
			d.logger.WithError(err).WithFields(logrus.Fields{"client_id": c.ID, "event": event}).Error("Event handler failed")
		}
		d.reply(c, event, err)
		return err
	}
	return nil
}

func (d *Dispatcher) authorize(c *hub.Client, a access) error {
	if a == public {
		return nil
	}
	if !c.Authenticated() {
		return fmt.Errorf("%w: authentication required", apperr.ErrUnauthorized)
	}
	if a == telemetry {
		if _, role, _ := c.Identity(); !role.HasPermission("publish_telemetry") {
			return fmt.Errorf("%w: role %s may not publish telemetry", apperr.ErrUnauthorized, role)
		}
	}
	return nil
}

// reply sends the outbound error for a failed event. Authentication failures
// answer with authResponse instead.
func (d *Dispatcher) reply(c *hub.Client, event string, err error) {
	name := EventError
	if event == EventAuthenticate {
		name = EventAuthResponse
	}
	d.hub.Emit(c, name, errorResponse(err))
}

func errorResponse(err error) Response {
	resp := Response{Status: apperr.Status(err)}
	if fields := apperr.Fields(err); len(fields) > 0 {
		resp.Errors = fields
		return resp
	}
	switch resp.Status {
	case apperr.StatusServerError:
		resp.Message = "internal error"
	case apperr.StatusRateLimited:
		resp.Message = "too many events, slow down"
	default:
		resp.Message = err.Error()
	}
	return resp
}

func (d *Dispatcher) notify(ctx context.Context, req notify.Request) {
	if _, err := d.notifier.Notify(ctx, req); err != nil {
		d.logger.WithError(err).WithField("type", req.Type).Warn("Failed to build notification")
	}
}

func (d *Dispatcher) broadcastNotification(ctx context.Context, topic, message string, payload map[string]interface{}) {
	d.notifier.Broadcast(ctx, topic, message, payload)
}
