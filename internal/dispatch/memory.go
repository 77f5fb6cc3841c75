package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// MemoryStore is an in-process Store. A single mutex covers buses and
// requests, so a reservation is observed as one step.
type MemoryStore struct {
	mu       sync.RWMutex
	buses    map[string]models.Bus
	requests map[string]models.RideRequest
}

// NewMemoryStore creates a store seeded with buses.
func NewMemoryStore(buses ...models.Bus) *MemoryStore {
	s := &MemoryStore{
		buses:    make(map[string]models.Bus, len(buses)),
		requests: make(map[string]models.RideRequest),
	}
	for _, b := range buses {
		s.buses[b.ID] = b
	}
	return s
}

func (s *MemoryStore) ListBuses(_ context.Context) ([]models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Bus, 0, len(s.buses))
	for _, b := range s.buses {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetBus(_ context.Context, id string) (models.Bus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buses[id]
	if !ok {
		return models.Bus{}, fmt.Errorf("bus %s: %w", id, apperr.ErrNotFound)
	}
	return b, nil
}

// SaveBus inserts or replaces a bus. The status and reservation of an
// existing bus are kept.
func (s *MemoryStore) SaveBus(_ context.Context, bus models.Bus) error {
	if bus.ID == "" {
		return apperr.NewValidationError("bus id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.buses[bus.ID]; ok {
		bus.AssignedRequestID = existing.AssignedRequestID
		bus.Status = existing.Status
		if bus.CreatedAt.IsZero() {
			bus.CreatedAt = existing.CreatedAt
		}
	}
	s.buses[bus.ID] = bus
	return nil
}

func (s *MemoryStore) SetBusStatus(_ context.Context, id string, status models.BusStatus, at time.Time) (models.Bus, error) {
	if !models.IsValidBusStatus(status) {
		return models.Bus{}, apperr.NewValidationError(fmt.Sprintf("status %q is invalid", status))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buses[id]
	if !ok {
		return models.Bus{}, fmt.Errorf("bus %s: %w", id, apperr.ErrNotFound)
	}
	if err := CheckStatusChange(b, status); err != nil {
		return b, err
	}
	b.Status = status
	b.UpdatedAt = at
	s.buses[id] = b
	return b, nil
}

func (s *MemoryStore) Reserve(_ context.Context, req models.RideRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.requests[req.ID]; dup {
		return fmt.Errorf("%w: request %s already exists", apperr.ErrInconsistentState, req.ID)
	}
	bus, ok := s.buses[req.BusID]
	if !ok {
		return fmt.Errorf("bus %s: %w", req.BusID, ErrBusUnavailable)
	}
	taken, err := Take(bus, req.ID, req.CreatedAt)
	if err != nil {
		return err
	}
	s.buses[bus.ID] = taken
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) GetRequest(_ context.Context, id string) (models.RideRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return models.RideRequest{}, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	return r, nil
}

func (s *MemoryStore) ListRequests(_ context.Context) ([]models.RideRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RideRequest, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Finish(_ context.Context, id string, status models.RideRequestStatus, at time.Time) (models.RideRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return models.RideRequest{}, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	if err := CheckFinish(req, status); err != nil {
		return req, err
	}

	var released *models.Bus
	if req.BusID != "" {
		bus, ok := s.buses[req.BusID]
		if !ok {
			return req, fmt.Errorf("%w: bus %s of request %s is missing", apperr.ErrInconsistentState, req.BusID, id)
		}
		b, err := Release(bus, id, at)
		if err != nil {
			return req, err
		}
		released = &b
	}

	req.Status = status
	req.UpdatedAt = at
	s.requests[id] = req
	if released != nil {
		s.buses[released.ID] = *released
	}
	return req, nil
}

// Consistent reports whether every reserved bus is held by an assigned
// request pointing back at it, and vice versa, and no held bus is available.
func (s *MemoryStore) Consistent() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.buses {
		if b.AssignedRequestID == "" {
			continue
		}
		if b.Status == models.BusAvailable {
			return false
		}
		r, ok := s.requests[b.AssignedRequestID]
		if !ok || r.Status != models.RequestAssigned || r.BusID != b.ID {
			return false
		}
	}
	for _, r := range s.requests {
		if r.Status != models.RequestAssigned {
			continue
		}
		b, ok := s.buses[r.BusID]
		if !ok || b.AssignedRequestID != r.ID || b.Status == models.BusAvailable {
			return false
		}
	}
	return true
}
