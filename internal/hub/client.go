package hub

import (
	"sort"
	"sync"
	"time"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// State is the lifecycle state of a connection.
type State string

const (
	StateConnected     State = "CONNECTED"
	StateAuthenticated State = "AUTHENTICATED"
	StateDisconnected  State = "DISCONNECTED"
)

// Client is one real-time connection. Outbound frames are queued on Send
// and written by the connection's write loop.
type Client struct {
	ID   string
	Send chan []byte

	mu           sync.RWMutex
	state        State
	identity     string
	role         models.Role
	clientType   models.ClientType
	rooms        map[string]struct{}
	connectedAt  time.Time
	lastActivity time.Time
}

// NewClient creates a connected, unauthenticated client.
func NewClient(id string, bufferSize int, now time.Time) *Client {
	return &Client{
		ID:           id,
		Send:         make(chan []byte, bufferSize),
		state:        StateConnected,
		rooms:        make(map[string]struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Authenticated reports whether the client has presented a valid credential.
func (c *Client) Authenticated() bool {
	return c.State() == StateAuthenticated
}

// Identity returns the verified identity, role and declared client type.
func (c *Client) Identity() (string, models.Role, models.ClientType) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity, c.role, c.clientType
}

// LastActivity returns when the client last sent an event.
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// ConnectedAt returns when the client connected.
func (c *Client) ConnectedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectedAt
}

// Rooms returns the rooms the client has joined, sorted.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (c *Client) authenticate(identity string, role models.Role, clientType models.ClientType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return false
	}
	c.state = StateAuthenticated
	c.identity = identity
	c.role = role
	c.clientType = clientType
	return true
}

func (c *Client) touch(now time.Time) {
	c.mu.Lock()
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
	c.mu.Unlock()
}

func (c *Client) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

func (c *Client) disconnect() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}
