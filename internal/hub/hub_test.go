package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/ratelimit"
)

func newTestHub(t *testing.T) (*Hub, *clockz.FakeClock) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	clock := clockz.NewFakeClock()
	limiter := ratelimit.New(ratelimit.WithClock(clock))
	return New(Config{IdleTimeout: time.Minute, SweepInterval: time.Second}, limiter, logger, WithClock(clock)), clock
}

func decode(t *testing.T, frame []byte) Envelope {
	t.Helper()
	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return env
}

func TestRooms(t *testing.T) {
	assert.Equal(t, "bus:B1", BusRoom("B1"))
	assert.Equal(t, "trip:T9", TripRoom("T9"))
}

func TestPublish_OnlyRoomMembers(t *testing.T) {
	h, clock := newTestHub(t)
	a := NewClient("a", 4, clock.Now())
	b := NewClient("b", 4, clock.Now())
	h.Register(a)
	h.Register(b)
	h.Join(a, BusRoom("B1"))

	n := h.Publish(BusRoom("B1"), "busLocationBroadcast", map[string]string{"busId": "B1"})

	assert.Equal(t, 1, n)
	require.Len(t, a.Send, 1)
	assert.Empty(t, b.Send)
	env := decode(t, <-a.Send)
	assert.Equal(t, "busLocationBroadcast", env.Event)

	assert.Equal(t, 0, h.Publish("empty", "x", nil))
}

func TestPublish_FullBufferIsSkipped(t *testing.T) {
	h, clock := newTestHub(t)
	slow := NewClient("slow", 1, clock.Now())
	fast := NewClient("fast", 4, clock.Now())
	h.Register(slow)
	h.Register(fast)
	h.Join(slow, RoomEmergencies)
	h.Join(fast, RoomEmergencies)

	assert.Equal(t, 2, h.Publish(RoomEmergencies, "emergencyBroadcast", 1))
	assert.Equal(t, 1, h.Publish(RoomEmergencies, "emergencyBroadcast", 2))
	assert.Len(t, fast.Send, 2)
}

func TestAuthenticate_JoinsPrivateRooms(t *testing.T) {
	h, clock := newTestHub(t)
	c := NewClient("c", 4, clock.Now())
	h.Register(c)
	assert.Equal(t, StateConnected, c.State())

	ok := h.Authenticate(c, "sup-1", models.RoleSupervisor, models.ClientSupervisor, "notify:sup-1", "notify:supervisor")

	require.True(t, ok)
	assert.True(t, c.Authenticated())
	id, role, typ := c.Identity()
	assert.Equal(t, "sup-1", id)
	assert.Equal(t, models.RoleSupervisor, role)
	assert.Equal(t, models.ClientSupervisor, typ)
	assert.Equal(t, []string{"notify:sup-1", "notify:supervisor"}, c.Rooms())
	assert.Equal(t, 1, h.RoomSize("notify:supervisor"))
}

func TestUnregister_CleansUp(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clock := clockz.NewFakeClock()
	limiter := ratelimit.New(ratelimit.WithClock(clock))
	var disconnected []string
	h := New(Config{}, limiter, logger, WithClock(clock), OnDisconnect(func(c *Client) {
		disconnected = append(disconnected, c.ID)
	}))

	c := NewClient("c", 4, clock.Now())
	h.Register(c)
	h.Join(c, BusRoom("B1"))
	require.True(t, h.Allow(c, "busLocationUpdate"))
	require.False(t, h.Allow(c, "busLocationUpdate"))

	h.Unregister(c)
	h.Unregister(c)

	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.RoomSize(BusRoom("B1")))
	assert.Equal(t, []string{"c"}, disconnected)
	_, open := <-c.Send
	assert.False(t, open)
	assert.False(t, h.Emit(c, "x", nil))
	assert.False(t, h.Authenticate(c, "u", models.RoleAdmin, models.ClientAdmin))
	assert.True(t, limiter.Allow("c", "busLocationUpdate"), "buckets are dropped on disconnect")
}

func TestEmit(t *testing.T) {
	h, clock := newTestHub(t)
	c := NewClient("c", 1, clock.Now())
	h.Register(c)

	assert.True(t, h.Emit(c, "pong", nil))
	assert.False(t, h.Emit(c, "pong", nil), "full buffer")
	assert.Equal(t, "pong", decode(t, <-c.Send).Event)
}

func TestSweepIdle(t *testing.T) {
	h, clock := newTestHub(t)
	idle := NewClient("idle", 1, clock.Now())
	active := NewClient("active", 1, clock.Now())
	h.Register(idle)
	h.Register(active)

	clock.Advance(2 * time.Minute)
	h.Touch(active)

	assert.Equal(t, []string{"idle"}, h.SweepIdle(time.Minute))
	_, ok := h.Client("idle")
	assert.False(t, ok)
	_, ok = h.Client("active")
	assert.True(t, ok)
}

func TestRun_StopsAndDisconnects(t *testing.T) {
	h, clock := newTestHub(t)
	c := NewClient("c", 1, clock.Now())
	h.Register(c)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Run(ctx)
	}()
	cancel()
	wg.Wait()

	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConcurrentJoinPublishUnregister(t *testing.T) {
	h, clock := newTestHub(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		c := NewClient(string(rune('A'+i)), 8, clock.Now())
		h.Register(c)
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.Join(c, "room")
			h.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			h.Publish("room", "tick", 1)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.ClientCount())
	assert.Equal(t, 0, h.RoomSize("room"))
}
