// Package dispatch assigns ride requests to the nearest available bus and
// manages the request lifecycle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// ErrBusUnavailable is returned by Store.Reserve when the bus was taken or
// stopped being dispatchable after it was ranked.
var ErrBusUnavailable = fmt.Errorf("%w: bus unavailable", apperr.ErrPreconditionFailed)

// Store persists buses and ride requests. Reserve and Finish change a bus and
// a request together: implementations must make both writes visible
// atomically or neither.
type Store interface {
	ListBuses(ctx context.Context) ([]models.Bus, error)
	GetBus(ctx context.Context, id string) (models.Bus, error)
	SaveBus(ctx context.Context, bus models.Bus) error
	SetBusStatus(ctx context.Context, id string, status models.BusStatus, at time.Time) (models.Bus, error)

	// Reserve stores req (status assigned, BusID set) and marks req.BusID as
	// taken by it. It fails with ErrBusUnavailable if the bus is not dispatchable.
	Reserve(ctx context.Context, req models.RideRequest) error
	GetRequest(ctx context.Context, id string) (models.RideRequest, error)
	ListRequests(ctx context.Context) ([]models.RideRequest, error)
	// Finish moves a request to a terminal status and releases its bus.
	Finish(ctx context.Context, id string, status models.RideRequestStatus, at time.Time) (models.RideRequest, error)
}

// CheckFinish validates a lifecycle transition for req.
func CheckFinish(req models.RideRequest, status models.RideRequestStatus) error {
	if !status.Terminal() {
		return apperr.NewValidationError(fmt.Sprintf("status %q is not terminal", status))
	}
	if !req.Status.CanTransition(status) {
		return fmt.Errorf("%w: request %s is %s", apperr.ErrPreconditionFailed, req.ID, req.Status)
	}
	return nil
}

// CheckStatusChange validates an operator or device status change. A held
// bus may only leave service; available and in_service stay owned by Reserve
// and Finish. An unheld bus enters service only on a trip.
func CheckStatusChange(bus models.Bus, status models.BusStatus) error {
	if !models.IsValidBusStatus(status) {
		return apperr.NewValidationError(fmt.Sprintf("status %q is invalid", status))
	}
	if bus.AssignedRequestID != "" && (status == models.BusAvailable || status == models.BusInService) {
		return fmt.Errorf("%w: bus %s is held by request %s", apperr.ErrPreconditionFailed, bus.ID, bus.AssignedRequestID)
	}
	if bus.AssignedRequestID == "" && status == models.BusInService && bus.CurrentTripID == "" {
		return fmt.Errorf("%w: bus %s has no trip to serve", apperr.ErrPreconditionFailed, bus.ID)
	}
	return nil
}

// Release returns bus to service after its request ended. A bus moved out of
// service in the meantime keeps its status.
func Release(bus models.Bus, requestID string, at time.Time) (models.Bus, error) {
	if bus.AssignedRequestID != requestID {
		return bus, fmt.Errorf("%w: bus %s is held by %q, not %s",
			apperr.ErrInconsistentState, bus.ID, bus.AssignedRequestID, requestID)
	}
	bus.AssignedRequestID = ""
	if bus.Status == models.BusInService {
		bus.Status = models.BusAvailable
	}
	bus.UpdatedAt = at
	return bus, nil
}

// Take marks bus as reserved by requestID.
func Take(bus models.Bus, requestID string, at time.Time) (models.Bus, error) {
	if !bus.Dispatchable() {
		return bus, fmt.Errorf("bus %s: %w", bus.ID, ErrBusUnavailable)
	}
	bus.AssignedRequestID = requestID
	bus.Status = models.BusInService
	bus.UpdatedAt = at
	return bus, nil
}

// IsUnavailable reports whether err means the bus could not be reserved.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBusUnavailable)
}
