package main

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/hajj-fleet-dispatch/internal/geo"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                       { return !t.pending }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.pending }
func (t *fakeToken) Error() error                     { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu      sync.Mutex
	msgs    []published
	err     error
	pending bool
}

func (p *fakePublisher) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, payload: payload.([]byte)})
	return &fakeToken{err: p.err, pending: p.pending}
}

func TestRandomLocation_NearHolySites(t *testing.T) {
	for i := 0; i < 50; i++ {
		loc := randomLocation()
		closest := 1e9
		for _, s := range sites {
			if d := geo.HaversineKM(loc, s); d < closest {
				closest = d
			}
		}
		assert.Less(t, closest, 0.5)
	}
}

func TestBearing(t *testing.T) {
	origin := models.Location{Lat: 21.4, Lon: 39.8}
	tests := []struct {
		name string
		to   models.Location
		want float64
	}{
		{"north", models.Location{Lat: 21.5, Lon: 39.8}, 0},
		{"east", models.Location{Lat: 21.4, Lon: 39.9}, 90},
		{"south", models.Location{Lat: 21.3, Lon: 39.8}, 180},
		{"west", models.Location{Lat: 21.4, Lon: 39.7}, 270},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, bearing(origin, tt.to), 0.1)
		})
	}
}

func TestParseOSRMRoute(t *testing.T) {
	body := []byte(`{"routes":[{"geometry":{"coordinates":[[39.82,21.42],[39.83,21.43],[39.84]]}}]}`)
	pts, err := parseOSRMRoute(body)
	require.NoError(t, err)
	assert.Equal(t, []models.Location{{Lat: 21.42, Lon: 39.82}, {Lat: 21.43, Lon: 39.83}}, pts)

	_, err = parseOSRMRoute([]byte(`{"routes":[]}`))
	assert.Error(t, err)
	_, err = parseOSRMRoute([]byte(`not json`))
	assert.Error(t, err)
}

func TestStepAlongRoute(t *testing.T) {
	start := models.Location{Lat: 21.40, Lon: 39.80}
	end := models.Location{Lat: 21.50, Lon: 39.80}
	s := &BusState{
		BusID:    "bus-001",
		Position: start,
		SpeedKmh: 36,
		Route:    &BusRoute{Points: []models.Location{start, end}},
	}

	// 36 km/h for 100 s is one kilometre
	stepAlongRoute(s, 100, nil)

	assert.InDelta(t, 1.0, geo.HaversineKM(start, s.Position), 0.01)
	assert.InDelta(t, 0, s.Heading, 0.1)
	assert.Equal(t, 0, s.Route.SegIndex)
}

func TestStepAlongRoute_ReplansAtEnd(t *testing.T) {
	start := models.Location{Lat: 21.40, Lon: 39.80}
	end := models.Location{Lat: 21.401, Lon: 39.80}
	fetched := 0
	fetch := func(a, b models.Location) ([]models.Location, error) {
		fetched++
		return nil, errors.New("offline")
	}
	s := &BusState{Position: start, SpeedKmh: 60, Route: &BusRoute{Points: []models.Location{start, end}}}

	stepAlongRoute(s, 60, fetch)

	assert.Equal(t, end, s.Position)
	assert.Equal(t, 1, fetched)
	require.Len(t, s.Route.Points, 2)
	assert.Equal(t, end, s.Route.Points[0])
}

func TestSensorFromState(t *testing.T) {
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		temp float64
		want string
	}{
		{85, "normal"},
		{104.04, "warning"},
		{112, "critical"},
	}
	for _, tt := range tests {
		s := &BusState{BusID: "bus-007", Temperature: tt.temp}
		msg := sensorFromState(s, now)
		assert.Equal(t, tt.want, msg.Status)
		assert.Equal(t, "bus-007-temp", msg.SensorID)
		assert.Equal(t, "2026-06-01T09:00:00Z", msg.Timestamp)
	}
}

func TestSimulatorTick_PublishesTelemetry(t *testing.T) {
	pub := &fakePublisher{}
	sim := &simulator{pub: pub, prefix: "hajj", interval: 2 * time.Second}
	s := &BusState{BusID: "bus-001", Position: sites[0], SpeedKmh: 30, Temperature: 85}
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, sim.tick(s, now))

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "hajj/buses/bus-001/location", pub.msgs[0].topic)
	assert.Equal(t, "hajj/buses/bus-001/sensors", pub.msgs[1].topic)

	var loc map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &loc))
	assert.Equal(t, "bus-001", loc["busId"])
	assert.Equal(t, "2026-06-01T09:00:00Z", loc["timestamp"])
	assert.Contains(t, loc["location"], "latitude")
	speed := loc["speed"].(float64)
	assert.GreaterOrEqual(t, speed, 10.0)
	assert.LessOrEqual(t, speed, 60.0)
}

func TestPublishJSON_Errors(t *testing.T) {
	err := publishJSON(&fakePublisher{pending: true}, "hajj/buses/b/location", map[string]string{}, time.Millisecond)
	assert.ErrorIs(t, err, errPublishTimeout)

	brokerErr := errors.New("not connected")
	err = publishJSON(&fakePublisher{err: brokerErr}, "hajj/buses/b/location", map[string]string{}, time.Millisecond)
	assert.ErrorIs(t, err, brokerErr)

	err = publishJSON(&fakePublisher{}, "t", map[string]interface{}{"bad": make(chan int)}, time.Millisecond)
	assert.Error(t, err)
}

func TestNewFleet(t *testing.T) {
	fleet := newFleet(3)
	require.Len(t, fleet, 3)
	assert.Equal(t, "bus-001", fleet[0].BusID)
	assert.Equal(t, "bus-003", fleet[2].BusID)
	for _, s := range fleet {
		assert.GreaterOrEqual(t, s.SpeedKmh, 20.0)
		assert.Less(t, s.Temperature, 100.0)
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("SIM_TEST_INT", "7")
	assert.Equal(t, 7, envInt("SIM_TEST_INT", 1))
	t.Setenv("SIM_TEST_INT", "zero")
	assert.Equal(t, 1, envInt("SIM_TEST_INT", 1))
	t.Setenv("SIM_TEST_INT", "0")
	assert.Equal(t, 1, envInt("SIM_TEST_INT", 1))
}
