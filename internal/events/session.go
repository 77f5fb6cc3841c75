package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
)

// handleAuthenticate verifies the credential and binds the connection to its
// identity. A failure leaves the connection open and unauthenticated.
func (d *Dispatcher) handleAuthenticate(_ context.Context, c *hub.Client, raw json.RawMessage) error {
	var p authenticatePayload
	if err := decode(raw, &p); err != nil {
		return err
	}
	claims, err := d.verifier.ValidateToken(p.Token)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"client_id": c.ID, "identity": p.ClientID}).Info("Authentication rejected")
		return fmt.Errorf("%w: invalid credential", apperr.ErrUnauthorized)
	}
	if claims.Subject != p.ClientID {
		return fmt.Errorf("%w: credential does not belong to %s", apperr.ErrUnauthorized, p.ClientID)
	}

	clientType := models.ClientType(p.ClientType)
	if !d.hub.Authenticate(c, claims.Subject, claims.Role, clientType, AutoRooms(claims.Subject, claims.Role, clientType)...) {
		return fmt.Errorf("%w: connection closed", apperr.ErrUnauthorized)
	}

	d.logger.WithFields(logrus.Fields{
		"client_id":   c.ID,
		"identity":    claims.Subject,
		"role":        claims.Role,
		"client_type": clientType,
	}).Info("Client authenticated")
	d.hub.Emit(c, EventAuthResponse, Response{Status: apperr.StatusSuccess, Message: "Authentication successful"})
	return nil
}

// AutoRooms lists the rooms a connection joins when it authenticates.
func AutoRooms(identity string, role models.Role, clientType models.ClientType) []string {
	rooms := []string{notify.RecipientRoom(identity), notify.RecipientRoom(string(role))}
	if clientType == models.ClientBus {
		rooms = append(rooms, hub.BusRoom(identity))
	}
	switch role {
	case models.RoleAdmin, models.RoleSupervisor:
		rooms = append(rooms, hub.RoomMaintenance, hub.RoomEmergencies)
	case models.RoleMaintenance:
		rooms = append(rooms, hub.RoomMaintenance)
	}
	return rooms
}

func (d *Dispatcher) handlePing(_ context.Context, c *hub.Client, _ json.RawMessage) error {
	d.hub.Emit(c, EventPong, map[string]interface{}{"timestamp": d.hub.Now()})
	return nil
}

func (d *Dispatcher) handleBusRoom(join bool) handlerFunc {
	return func(_ context.Context, c *hub.Client, raw json.RawMessage) error {
		var p busRoomPayload
		if err := decode(raw, &p); err != nil {
			return err
		}
		d.toggleRoom(c, hub.BusRoom(p.BusID), join)
		return nil
	}
}

func (d *Dispatcher) handleTripRoom(join bool) handlerFunc {
	return func(_ context.Context, c *hub.Client, raw json.RawMessage) error {
		var p tripRoomPayload
		if err := decode(raw, &p); err != nil {
			return err
		}
		d.toggleRoom(c, hub.TripRoom(p.TripID), join)
		return nil
	}
}

func (d *Dispatcher) toggleRoom(c *hub.Client, room string, join bool) {
	if join {
		d.hub.Join(c, room)
		return
	}
	d.hub.Leave(c, room)
}

// handleSubscription adds or removes the connection's identity from the
// subscribers of a notification type. Unsubscribing from notify.AllTopics
// drops every subscription of the identity.
func (d *Dispatcher) handleSubscription(subscribe bool) handlerFunc {
	return func(_ context.Context, c *hub.Client, raw json.RawMessage) error {
		var p subscriptionPayload
		if err := decode(raw, &p); err != nil {
			return err
		}
		identity, _, _ := c.Identity()
		switch {
		case subscribe && p.Type == notify.AllTopics:
			return apperr.NewValidationError(fmt.Sprintf("cannot subscribe to %q", notify.AllTopics))
		case subscribe:
			d.notifier.Subscribe(p.Type, identity)
		case p.Type == notify.AllTopics:
			d.notifier.UnsubscribeAll(identity)
		default:
			d.notifier.Unsubscribe(p.Type, identity)
		}
		d.hub.Emit(c, EventSubscriptionConfirmed, map[string]interface{}{"type": p.Type, "subscribed": subscribe})
		return nil
	}
}
