// Package hub keeps the registry of real-time connections and the rooms they
// have joined, and fans published events out to room members.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// Fixed rooms.
const (
	RoomMaintenance = "maintenance"
	RoomEmergencies = "emergencies"
)

// BusRoom returns the room of a bus.
func BusRoom(busID string) string { return "bus:" + busID }

// TripRoom returns the room of a trip.
func TripRoom(tripID string) string { return "trip:" + tripID }

// Envelope is the frame written to clients.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Config controls the idle sweep.
type Config struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Limiter is the per-(client, event) rate limiter used by the hub.
type Limiter interface {
	Allow(clientID, event string) bool
	Forget(clientID string)
	Cleanup(maxIdle time.Duration) int
}

// Hub is safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[*Client]struct{}

	limiter      Limiter
	onDisconnect []func(*Client)
	cfg          Config
	clock        clockz.Clock
	logger       logrus.FieldLogger
}

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the clock used for activity tracking and sweeps.
func WithClock(c clockz.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// OnDisconnect registers fn to be called after a client is unregistered.
func OnDisconnect(fn func(*Client)) Option {
	return func(h *Hub) { h.onDisconnect = append(h.onDisconnect, fn) }
}

// New creates a Hub.
func New(cfg Config, limiter Limiter, logger logrus.FieldLogger, opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[*Client]struct{}),
		limiter: limiter,
		cfg:     cfg,
		clock:   clockz.RealClock,
		logger:  logger.WithField("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Now returns the hub clock's current time.
func (h *Hub) Now() time.Time {
	return h.clock.Now()
}

// Register adds client to the registry.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.WithFields(logrus.Fields{"client_id": client.ID, "total": total}).Debug("Client registered")
}

// Unregister removes client from every room, closes its send queue and
// drops its rate-limit buckets. Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID]; !ok {
		h.mu.Unlock()
		return
	}
	for _, room := range client.Rooms() {
		h.leaveLocked(client, room)
	}
	delete(h.clients, client.ID)
	client.disconnect()
	close(client.Send)
	total := len(h.clients)
	h.mu.Unlock()

	if h.limiter != nil {
		h.limiter.Forget(client.ID)
	}
	for _, fn := range h.onDisconnect {
		fn(client)
	}
	h.logger.WithFields(logrus.Fields{"client_id": client.ID, "total": total}).Debug("Client unregistered")
}

// Authenticate moves client to the authenticated state and joins its private
// notification rooms.
func (h *Hub) Authenticate(client *Client, identity string, role models.Role, clientType models.ClientType, privateRooms ...string) bool {
	if !client.authenticate(identity, role, clientType) {
		return false
	}
	for _, room := range privateRooms {
		h.Join(client, room)
	}
	return true
}

// Join adds client to room.
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[client] = struct{}{}
	client.addRoom(room)
}

// Leave removes client from room.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(client, room)
}

func (h *Hub) leaveLocked(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	client.removeRoom(room)
}

// Publish sends event to every member of room and returns how many clients
// the frame was queued for. Members with a full queue are skipped.
func (h *Hub) Publish(room, event string, payload interface{}) int {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("Failed to encode event")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for client := range h.rooms[room] {
		select {
		case client.Send <- data:
			sent++
		default:
			h.logger.WithFields(logrus.Fields{"client_id": client.ID, "room": room}).Debug("Client send buffer full")
		}
	}
	return sent
}

// Emit sends event to a single client.
func (h *Hub) Emit(client *Client, event string, payload interface{}) bool {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("Failed to encode event")
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		h.logger.WithField("client_id", client.ID).Debug("Client send buffer full")
		return false
	}
}

// Allow applies the rate limiter to an event from client.
func (h *Hub) Allow(client *Client, event string) bool {
	if h.limiter == nil {
		return true
	}
	return h.limiter.Allow(client.ID, event)
}

// Touch records activity for client.
func (h *Hub) Touch(client *Client) {
	client.touch(h.clock.Now())
}

// Client looks up a registered client by id.
func (h *Hub) Client(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	return c, ok
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomSize returns the number of members of room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// SweepIdle disconnects clients whose last activity is older than maxIdle
// and returns their ids.
func (h *Hub) SweepIdle(maxIdle time.Duration) []string {
	cutoff := h.clock.Now().Add(-maxIdle)

	h.mu.RLock()
	var idle []*Client
	for _, c := range h.clients {
		if c.LastActivity().Before(cutoff) {
			idle = append(idle, c)
		}
	}
	h.mu.RUnlock()

	ids := make([]string, 0, len(idle))
	for _, c := range idle {
		h.Unregister(c)
		ids = append(ids, c.ID)
	}
	if len(ids) > 0 {
		h.logger.WithField("count", len(ids)).Info("Disconnected idle clients")
	}
	return ids
}

// Run sweeps idle clients until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	interval := h.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-h.clock.After(interval):
			if h.cfg.IdleTimeout > 0 {
				h.SweepIdle(h.cfg.IdleTimeout)
				if h.limiter != nil {
					h.limiter.Cleanup(h.cfg.IdleTimeout)
				}
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		h.Unregister(c)
	}
}
