package dispatch

import (
	"context"
	"errors"
	"fmt"
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

func bus(id string, lat, lon float64) models.Bus {
	return models.Bus{
		ID:              id,
		Number:          "H-" + id,
		Capacity:        50,
		Status:          models.BusAvailable,
		CurrentLocation: models.Location{Lat: lat, Lon: lon},
	}
}

func newWorkflow(t *testing.T, store Store, opts ...Option) *Workflow {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return NewWorkflow(store, logger, append([]Option{WithClock(clockz.NewFakeClock())}, opts...)...)
}

func TestAssign_NearbyBus(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82))
	w := newWorkflow(t, store)
	ctx := context.Background()

	req, err := w.Assign(ctx, "pilgrim-1", models.Location{Lat: 21.43, Lon: 39.83})

	require.NoError(t, err)
	assert.Equal(t, models.RequestAssigned, req.Status)
	assert.Equal(t, "V1", req.BusID)
	assert.Equal(t, "pilgrim-1", req.RequesterID)
	assert.InDelta(t, 1.5, req.DistanceKM, 0.2)
	assert.Equal(t, 2, req.ETAMinutes)

	v1, err := store.GetBus(ctx, "V1")
	require.NoError(t, err)
	assert.False(t, v1.Dispatchable())
	assert.Equal(t, req.ID, v1.AssignedRequestID)
	assert.Equal(t, models.BusInService, v1.Status)

	stored, err := w.Request(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, req, stored)
	assert.True(t, store.Consistent())
}

func TestAssign_NoBusWithinCutoff(t *testing.T) {
	// Arafat is roughly 20 km from the pickup point.
	store := NewMemoryStore(bus("far", 21.3549, 39.9841))
	w := newWorkflow(t, store)
	ctx := context.Background()

	_, err := w.Assign(ctx, "pilgrim-1", models.Location{Lat: 21.43, Lon: 39.83})

	assert.True(t, errors.Is(err, apperr.ErrNoVehicleAvailable))
	assert.Equal(t, apperr.StatusPreconditionFailed, apperr.Status(err))
	reqs, _ := store.ListRequests(ctx)
	assert.Empty(t, reqs)
	far, _ := store.GetBus(ctx, "far")
	assert.True(t, far.Dispatchable())
}

func TestAssign_SkipsUndispatchableBuses(t *testing.T) {
	maint := bus("maint", 21.4301, 39.8301)
	maint.Status = models.BusMaintenance
	store := NewMemoryStore(maint, bus("ok", 21.44, 39.84))
	w := newWorkflow(t, store)

	req, err := w.Assign(context.Background(), "p", models.Location{Lat: 21.43, Lon: 39.83})
	require.NoError(t, err)
	assert.Equal(t, "ok", req.BusID)
}

func TestAssign_UsesLivePosition(t *testing.T) {
	store := NewMemoryStore(bus("A", 21.43, 39.83), bus("B", 21.60, 40.10))
	loc := &fakeLocator{records: map[string]models.Location{
		"A": {Lat: 21.60, Lon: 40.10},
		"B": {Lat: 21.4301, Lon: 39.8301},
	}}
	w := newWorkflow(t, store, WithLocator(loc))

	req, err := w.Assign(context.Background(), "p", models.Location{Lat: 21.43, Lon: 39.83})
	require.NoError(t, err)
	assert.Equal(t, "B", req.BusID)
}

func TestAssign_Validation(t *testing.T) {
	w := newWorkflow(t, NewMemoryStore())
	ctx := context.Background()

	_, err := w.Assign(ctx, "", models.Location{Lat: 21.4, Lon: 39.8})
	assert.Equal(t, apperr.StatusInvalidData, apperr.Status(err))

	_, err = w.Assign(ctx, "p", models.Location{Lat: 91, Lon: 181})
	assert.Equal(t, apperr.StatusInvalidData, apperr.Status(err))
	assert.Len(t, apperr.Fields(err), 2)
}

func TestAssign_ConcurrentSingleBus(t *testing.T) {
	store := NewMemoryStore(bus("only", 21.42, 39.82))
	w := newWorkflow(t, store)
	ctx := context.Background()

	const callers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []models.RideRequest
		noVehicle int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := w.Assign(ctx, fmt.Sprintf("p%d", i), models.Location{Lat: 21.43, Lon: 39.83})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, req)
			case errors.Is(err, apperr.ErrNoVehicleAvailable):
				noVehicle++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, successes, 1)
	assert.Equal(t, callers-1, noVehicle)
	reqs, _ := store.ListRequests(ctx)
	assert.Len(t, reqs, 1)
	assert.True(t, store.Consistent())
}

func TestAssign_ConcurrentManyBuses(t *testing.T) {
	var buses []models.Bus
	for i := 0; i < 5; i++ {
		buses = append(buses, bus(fmt.Sprintf("B%d", i), 21.42+float64(i)*0.001, 39.82))
	}
	store := NewMemoryStore(buses...)
	w := newWorkflow(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = w.Assign(ctx, fmt.Sprintf("p%d", i), models.Location{Lat: 21.42, Lon: 39.82})
		}(i)
	}
	wg.Wait()

	reqs, _ := store.ListRequests(ctx)
	require.Len(t, reqs, 5)
	seen := map[string]bool{}
	for _, r := range reqs {
		assert.False(t, seen[r.BusID], "bus %s assigned twice", r.BusID)
		seen[r.BusID] = true
	}
	assert.True(t, store.Consistent())
}

func TestCompleteAndCancel(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82))
	w := newWorkflow(t, store)
	ctx := context.Background()
	pickup := models.Location{Lat: 21.43, Lon: 39.83}

	req, err := w.Assign(ctx, "p1", pickup)
	require.NoError(t, err)

	done, err := w.Complete(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, done.Status)
	v1, _ := store.GetBus(ctx, "V1")
	assert.True(t, v1.Dispatchable(), "completed request releases the bus")

	_, err = w.Cancel(ctx, req.ID)
	assert.True(t, errors.Is(err, apperr.ErrPreconditionFailed))

	req2, err := w.Assign(ctx, "p2", pickup)
	require.NoError(t, err)
	cancelled, err := w.Cancel(ctx, req2.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, cancelled.Status)
	assert.True(t, store.Consistent())

	_, err = w.Complete(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestFinish_KeepsMaintenanceStatus(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82))
	w := newWorkflow(t, store)
	ctx := context.Background()

	req, err := w.Assign(ctx, "p1", models.Location{Lat: 21.43, Lon: 39.83})
	require.NoError(t, err)
	_, err = w.SetBusStatus(ctx, "V1", models.BusMaintenance)
	require.NoError(t, err)

	_, err = w.Cancel(ctx, req.ID)
	require.NoError(t, err)
	v1, _ := store.GetBus(ctx, "V1")
	assert.Equal(t, models.BusMaintenance, v1.Status)
	assert.Empty(t, v1.AssignedRequestID)
}

func TestFinish_FailsClosedOnMismatch(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82))
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Reserve(ctx, models.RideRequest{ID: "r1", BusID: "V1", Status: models.RequestAssigned, CreatedAt: now}))

	// Corrupt the bus side directly.
	store.mu.Lock()
	b := store.buses["V1"]
	b.AssignedRequestID = "other"
	store.buses["V1"] = b
	store.mu.Unlock()

	_, err := store.Finish(ctx, "r1", models.RequestCompleted, now)
	assert.True(t, errors.Is(err, apperr.ErrInconsistentState))
	r1, _ := store.GetRequest(ctx, "r1")
	assert.Equal(t, models.RequestAssigned, r1.Status, "request is left untouched")
}

func TestSetBusStatus(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82))
	w := newWorkflow(t, store)
	ctx := context.Background()

	b, err := w.SetBusStatus(ctx, "V1", models.BusOutOfService)
	require.NoError(t, err)
	assert.Equal(t, models.BusOutOfService, b.Status)

	_, err = w.SetBusStatus(ctx, "nope", models.BusAvailable)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = w.SetBusStatus(ctx, "V1", models.BusStatus("flying"))
	assert.Equal(t, apperr.StatusInvalidData, apperr.Status(err))
}

func TestSetBusStatus_HeldBusStaysInService(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82), bus("V2", 21.5, 39.9))
	w := newWorkflow(t, store)
	ctx := context.Background()

	req, err := w.Assign(ctx, "p1", models.Location{Lat: 21.42, Lon: 39.82})
	require.NoError(t, err)
	require.Equal(t, "V1", req.BusID)

	for _, status := range []models.BusStatus{models.BusAvailable, models.BusInService} {
		_, err = w.SetBusStatus(ctx, "V1", status)
		assert.True(t, errors.Is(err, apperr.ErrPreconditionFailed), status)
	}
	v1, _ := store.GetBus(ctx, "V1")
	assert.Equal(t, models.BusInService, v1.Status)
	assert.Equal(t, req.ID, v1.AssignedRequestID)
	assert.True(t, store.Consistent())

	_, err = w.SetBusStatus(ctx, "V2", models.BusInService)
	assert.True(t, errors.Is(err, apperr.ErrPreconditionFailed))
	v2, _ := store.GetBus(ctx, "V2")
	assert.Equal(t, models.BusAvailable, v2.Status)

	b, err := w.SetBusStatus(ctx, "V1", models.BusOutOfService)
	require.NoError(t, err)
	assert.Equal(t, models.BusOutOfService, b.Status)
	assert.True(t, store.Consistent())
}

func TestCheckStatusChange(t *testing.T) {
	tests := []struct {
		name   string
		bus    models.Bus
		status models.BusStatus
		ok     bool
	}{
		{"free to maintenance", models.Bus{ID: "V1"}, models.BusMaintenance, true},
		{"free to available", models.Bus{ID: "V1"}, models.BusAvailable, true},
		{"free with trip to in service", models.Bus{ID: "V1", CurrentTripID: "t1"}, models.BusInService, true},
		{"free without trip to in service", models.Bus{ID: "V1"}, models.BusInService, false},
		{"held to available", models.Bus{ID: "V1", AssignedRequestID: "r1"}, models.BusAvailable, false},
		{"held to in service", models.Bus{ID: "V1", AssignedRequestID: "r1", CurrentTripID: "t1"}, models.BusInService, false},
		{"held to out of service", models.Bus{ID: "V1", AssignedRequestID: "r1"}, models.BusOutOfService, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckStatusChange(tt.bus, tt.status)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, apperr.ErrPreconditionFailed))
			}
		})
	}
}

func TestSaveBus_KeepsStoredStatus(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82))
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, store.Reserve(ctx, models.RideRequest{ID: "r1", BusID: "V1", Status: models.RequestAssigned, CreatedAt: now}))

	require.NoError(t, store.SaveBus(ctx, bus("V1", 21.5, 39.9)))

	v1, _ := store.GetBus(ctx, "V1")
	assert.Equal(t, models.BusInService, v1.Status)
	assert.Equal(t, "r1", v1.AssignedRequestID)
	assert.Equal(t, 21.5, v1.CurrentLocation.Lat)
	assert.True(t, store.Consistent())
}

func TestConsistent_HeldBusMarkedAvailable(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82))
	ctx := context.Background()
	require.NoError(t, store.Reserve(ctx, models.RideRequest{ID: "r1", BusID: "V1", Status: models.RequestAssigned, CreatedAt: time.Now()}))
	require.True(t, store.Consistent())

	store.mu.Lock()
	b := store.buses["V1"]
	b.Status = models.BusAvailable
	store.buses["V1"] = b
	store.mu.Unlock()

	assert.False(t, store.Consistent())
}

func TestRequests_FiltersByStatus(t *testing.T) {
	store := NewMemoryStore(bus("V1", 21.42, 39.82), bus("V2", 21.421, 39.82))
	w := newWorkflow(t, store)
	ctx := context.Background()
	pickup := models.Location{Lat: 21.43, Lon: 39.83}

	first, err := w.Assign(ctx, "p1", pickup)
	require.NoError(t, err)
	second, err := w.Assign(ctx, "p2", pickup)
	require.NoError(t, err)
	_, err = w.Complete(ctx, first.ID)
	require.NoError(t, err)

	all, err := w.Requests(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := w.Requests(ctx, models.RequestAssigned)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)

	m := new(MockStore)
	m.On("ListRequests", mock.Anything).Return([]models.RideRequest(nil), errors.New("connection reset"))
	_, err = newWorkflow(t, m).Requests(ctx, models.RequestAssigned)
	assert.Error(t, err)
}

func TestAssign_StoreErrorsPropagate(t *testing.T) {
	m := new(MockStore)
	m.On("ListBuses", mock.Anything).Return([]models.Bus{bus("V1", 21.42, 39.82), bus("V2", 21.421, 39.82)}, nil)
	m.On("Reserve", mock.Anything, mock.MatchedBy(func(r models.RideRequest) bool { return r.BusID == "V1" })).
		Return(fmt.Errorf("bus V1: %w", ErrBusUnavailable)).Once()
	m.On("Reserve", mock.Anything, mock.MatchedBy(func(r models.RideRequest) bool { return r.BusID == "V2" })).
		Return(errors.New("connection reset")).Once()

	w := newWorkflow(t, m)
	_, err := w.Assign(context.Background(), "p", models.Location{Lat: 21.42, Lon: 39.82})

	require.Error(t, err)
	assert.False(t, errors.Is(err, apperr.ErrNoVehicleAvailable))
	assert.Equal(t, apperr.StatusServerError, apperr.Status(err))
	m.AssertExpectations(t)
}

type fakeLocator struct {
	records map[string]models.Location
}

func (f *fakeLocator) Current(id string) (models.LocationRecord, bool) {
	l, ok := f.records[id]
	return models.LocationRecord{VehicleID: id, Location: l}, ok
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListBuses(ctx context.Context) ([]models.Bus, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.Bus), args.Error(1)
}

func (m *MockStore) GetBus(ctx context.Context, id string) (models.Bus, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Bus), args.Error(1)
}

func (m *MockStore) SaveBus(ctx context.Context, b models.Bus) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockStore) SetBusStatus(ctx context.Context, id string, status models.BusStatus, at time.Time) (models.Bus, error) {
	args := m.Called(ctx, id, status, at)
	return args.Get(0).(models.Bus), args.Error(1)
}

func (m *MockStore) Reserve(ctx context.Context, req models.RideRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *MockStore) GetRequest(ctx context.Context, id string) (models.RideRequest, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.RideRequest), args.Error(1)
}

func (m *MockStore) ListRequests(ctx context.Context) ([]models.RideRequest, error) {
	args := m.Called(ctx)
	return args.Get(0).([]models.RideRequest), args.Error(1)
}

func (m *MockStore) Finish(ctx context.Context, id string, status models.RideRequestStatus, at time.Time) (models.RideRequest, error) {
	args := m.Called(ctx, id, status, at)
	return args.Get(0).(models.RideRequest), args.Error(1)
}
