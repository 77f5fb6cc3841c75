package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/config"
	"github.com/ukydev/hajj-fleet-dispatch/internal/dispatch"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/monitoring"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
	"github.com/ukydev/hajj-fleet-dispatch/internal/ratelimit"
)

type recordingDeliverer struct {
	mu         sync.Mutex
	recipients []string
}

func (d *recordingDeliverer) Deliver(_ context.Context, recipient, _ string, _ models.Notification) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipients = append(d.recipients, recipient)
	return nil
}

func TestSeedBuses(t *testing.T) {
	store := dispatch.NewMemoryStore()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	seeds := []config.BusSeed{
		{ID: "B1", Capacity: 50, Latitude: 21.42, Longitude: 39.82},
		{ID: "B2", Number: "MK-22", Capacity: 40, Latitude: 21.41, Longitude: 39.89},
	}

	require.NoError(t, seedBuses(context.Background(), store, seeds, now))

	buses, err := store.ListBuses(context.Background())
	require.NoError(t, err)
	require.Len(t, buses, 2)
	assert.Equal(t, "B1", buses[0].Number)
	assert.Equal(t, "MK-22", buses[1].Number)
	assert.Equal(t, models.BusAvailable, buses[1].Status)
	assert.Equal(t, 39.89, buses[1].CurrentLocation.Lon)
}

func TestSeedBuses_RestartKeepsHeldBus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	seeds := []config.BusSeed{{ID: "B1", Capacity: 50, Latitude: 21.42, Longitude: 39.82}}
	store := dispatch.NewMemoryStore()
	require.NoError(t, seedBuses(ctx, store, seeds, now))
	require.NoError(t, store.Reserve(ctx, models.RideRequest{ID: "r1", BusID: "B1", Status: models.RequestAssigned, CreatedAt: now}))

	require.NoError(t, seedBuses(ctx, store, seeds, now.Add(time.Hour)))

	b, err := store.GetBus(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, models.BusInService, b.Status)
	assert.Equal(t, "r1", b.AssignedRequestID)
	assert.True(t, store.Consistent())
}

func TestSeedBuses_InvalidSeed(t *testing.T) {
	err := seedBuses(context.Background(), dispatch.NewMemoryStore(), []config.BusSeed{{Capacity: 10}}, time.Now())
	assert.Error(t, err)
}

func TestRateLimitOptions(t *testing.T) {
	limiter := ratelimit.New(rateLimitOptions(config.RateLimits{
		Default: 2 * time.Second,
		Events:  map[string]time.Duration{"busLocationUpdate": 500 * time.Millisecond},
	})...)

	assert.Equal(t, 2*time.Second, limiter.Interval("emergencyAlert"))
	assert.Equal(t, 500*time.Millisecond, limiter.Interval("busLocationUpdate"))

	assert.Equal(t, ratelimit.DefaultInterval, ratelimit.New(rateLimitOptions(config.RateLimits{})...).Interval("x"))
}

func TestAlertSink_RoutesCriticalReadings(t *testing.T) {
	logger, _ := test.NewNullLogger()
	deliverer := &recordingDeliverer{}
	router := notify.NewRouter(deliverer, logger)

	metrics := monitoring.NewService(logger, monitoring.WithAlertSink(alertSink(context.Background(), router)))
	critical := 90.0
	applyThresholds(metrics, map[string]models.SensorThreshold{"temperature": {CriticalMax: &critical}})

	metrics.Record("sensor.temperature", 70, map[string]string{"busId": "B1"})
	assert.Empty(t, router.History("metric_alert"))

	metrics.Record("sensor.temperature", 95, map[string]string{"busId": "B1"})

	sent := router.History("metric_alert")
	require.Len(t, sent, 1)
	assert.Equal(t, models.PriorityHigh, sent[0].Priority)
	assert.Equal(t, "B1", sent[0].Payload["busId"])
	assert.Equal(t, 95.0, sent[0].Payload["value"])
	assert.ElementsMatch(t, []string{"maintenance_team", "supervisor"}, deliverer.recipients)
}

type countingPruner struct {
	calls atomic.Int32
}

func (p *countingPruner) Prune() int {
	p.calls.Add(1)
	return 1
}

func TestMaintain(t *testing.T) {
	logger, _ := test.NewNullLogger()
	clock := clockz.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	a, b := &countingPruner{}, &countingPruner{}
	done := make(chan struct{})
	go func() {
		maintain(ctx, clock, time.Minute, logger, a, b)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		return a.calls.Load() > 0 && b.calls.Load() > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("maintain did not stop after cancel")
	}
}
