package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

type MockDeliverer struct {
	mock.Mock
}

func (m *MockDeliverer) Deliver(ctx context.Context, recipient, event string, n models.Notification) error {
	args := m.Called(ctx, recipient, event, n)
	return args.Error(0)
}

type recordingDeliverer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newRecordingDeliverer(fail ...string) *recordingDeliverer {
	d := &recordingDeliverer{calls: map[string]int{}, fail: map[string]bool{}}
	for _, f := range fail {
		d.fail[f] = true
	}
	return d
}

func (d *recordingDeliverer) Deliver(_ context.Context, recipient, _ string, _ models.Notification) error {
	if recipient == "panic" {
		panic("boom")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls[recipient]++
	if d.fail[recipient] {
		return errors.New("unreachable")
	}
	return nil
}

func TestNotify_PartialFailureReachesEveryone(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := newRecordingDeliverer("bad")
	r := NewRouter(d, logger)

	n, err := r.Notify(context.Background(), Request{
		Type:       "emergency",
		Message:    "Bus B1 reported an emergency",
		Recipients: []string{"admin", "bad", "panic", "supervisor"},
		Priority:   models.PriorityHigh,
	})

	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, models.PriorityHigh, n.Priority)
	assert.Equal(t, 1, d.calls["admin"])
	assert.Equal(t, 1, d.calls["bad"])
	assert.Equal(t, 1, d.calls["supervisor"])

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "Failed to deliver notification" {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings)
}

func TestNotify_DefaultsAndDedupe(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := new(MockDeliverer)
	m.On("Deliver", mock.Anything, "driver", "notification", mock.MatchedBy(func(n models.Notification) bool {
		return n.Priority == models.PriorityNormal && n.Type == "trip_update"
	})).Return(nil).Once()

	r := NewRouter(m, logger)
	_, err := r.Notify(context.Background(), Request{
		Type: "trip_update", Message: "Trip delayed", Recipients: []string{"driver", "driver", ""},
	})

	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestNotify_RequiresTypeAndMessage(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRouter(newRecordingDeliverer(), logger)
	_, err := r.Notify(context.Background(), Request{Recipients: []string{"a"}})
	assert.Equal(t, apperr.StatusInvalidData, apperr.Status(err))
}

func TestBroadcast_NoSubscribers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := new(MockDeliverer)
	r := NewRouter(m, logger)

	n, delivered := r.Broadcast(context.Background(), "service_update", "Roads closed near Mina", nil)

	assert.Equal(t, 0, delivered)
	assert.Equal(t, "service_update", n.Topic)
	m.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBroadcast_DeliversToSubscribers(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := newRecordingDeliverer("u3")
	r := NewRouter(d, logger)
	r.Subscribe("service_update", "u1")
	r.Subscribe("service_update", "u2")
	r.Subscribe("service_update", "u3")
	r.Subscribe("other", "u4")

	_, delivered := r.Broadcast(context.Background(), "service_update", "msg", map[string]interface{}{"k": "v"})

	assert.Equal(t, 2, delivered)
	assert.Zero(t, d.calls["u4"])
}

func TestSubscribe_Idempotent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	r := NewRouter(newRecordingDeliverer(), logger)

	r.Subscribe("t", "u1")
	r.Subscribe("t", "u1")
	assert.Equal(t, []string{"u1"}, r.Subscribers("t"))

	r.Unsubscribe("t", "u1")
	r.Unsubscribe("t", "u1")
	r.Unsubscribe("missing", "u1")
	assert.Empty(t, r.Subscribers("t"))

	r.Subscribe("a", "u2")
	r.Subscribe("b", "u2")
	r.UnsubscribeAll("u2")
	assert.Empty(t, r.Subscribers("a"))
	assert.Empty(t, r.Subscribers("b"))
}

func TestHistoryAndPrune(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clock := clockz.NewFakeClock()
	r := NewRouter(newRecordingDeliverer(), logger, WithClock(clock))
	ctx := context.Background()

	_, _ = r.Notify(ctx, Request{Type: "alert", Message: "old", Recipients: []string{"a"}})
	clock.Advance(31 * 24 * time.Hour)
	_, _ = r.Notify(ctx, Request{Type: "alert", Message: "new", Recipients: []string{"a"}})
	r.Broadcast(ctx, "news", "hello", nil)

	assert.Len(t, r.History("alert"), 2)
	assert.Len(t, r.History("news"), 1)

	assert.Equal(t, 1, r.Prune())
	hist := r.History("alert")
	require.Len(t, hist, 1)
	assert.Equal(t, "new", hist[0].Message)
}

type fakePublisher struct {
	rooms map[string]int
	last  string
}

func (p *fakePublisher) Publish(room, event string, _ interface{}) int {
	p.last = room + "|" + event
	return p.rooms[room]
}

func TestRoomDeliverer(t *testing.T) {
	pub := &fakePublisher{rooms: map[string]int{"notify:supervisor": 2}}
	d := NewRoomDeliverer(pub)

	require.NoError(t, d.Deliver(context.Background(), "supervisor", "notification", models.Notification{}))
	assert.Equal(t, "notify:supervisor|notification", pub.last)

	err := d.Deliver(context.Background(), "nobody", "notification", models.Notification{})
	assert.True(t, errors.Is(err, ErrNoListener))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, d.Deliver(ctx, "supervisor", "notification", models.Notification{}))
}
