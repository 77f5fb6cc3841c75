package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/geo"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// DefaultCutoffKM bounds the search radius of an assignment.
const DefaultCutoffKM = 10.0

// Locator resolves the live position of a bus.
type Locator interface {
	Current(vehicleID string) (models.LocationRecord, bool)
}

// Workflow runs assignments against a Store. Safe for concurrent use.
type Workflow struct {
	store    Store
	locator  Locator
	cutoffKM float64
	clock    clockz.Clock
	newID    func() string
	logger   logrus.FieldLogger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithCutoff sets the assignment search radius in kilometres.
func WithCutoff(km float64) Option {
	return func(w *Workflow) { w.cutoffKM = km }
}

// WithLocator ranks buses by their live position when one is known.
func WithLocator(l Locator) Option {
	return func(w *Workflow) { w.locator = l }
}

// WithClock sets the clock used to stamp requests.
func WithClock(c clockz.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

// NewWorkflow creates a Workflow over store.
func NewWorkflow(store Store, logger logrus.FieldLogger, opts ...Option) *Workflow {
	w := &Workflow{
		store:    store,
		cutoffKM: DefaultCutoffKM,
		clock:    clockz.RealClock,
		newID:    func() string { return uuid.New().String() },
		logger:   logger.WithField("component", "dispatch"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Store returns the underlying store.
func (w *Workflow) Store() Store {
	return w.store
}

// Nearest ranks dispatchable buses around point within maxKM.
func (w *Workflow) Nearest(ctx context.Context, point models.Location, maxKM float64) ([]geo.Match, error) {
	if err := validateLocation(point); err != nil {
		return nil, err
	}
	buses, err := w.store.ListBuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buses: %w", err)
	}
	candidates := make([]geo.Candidate, 0, len(buses))
	for i := range buses {
		if !buses[i].Dispatchable() {
			continue
		}
		candidates = append(candidates, geo.Candidate{ID: buses[i].ID, Location: w.position(buses[i])})
	}
	return geo.Rank(point, candidates, geo.Options{MaxDistanceKM: maxKM}), nil
}

func (w *Workflow) position(b models.Bus) models.Location {
	if w.locator != nil {
		if rec, ok := w.locator.Current(b.ID); ok {
			return rec.Location
		}
	}
	return b.CurrentLocation
}

// Assign reserves the nearest dispatchable bus within the cutoff for
// requesterID. Candidates are tried in distance order; a bus taken by a
// concurrent assignment is skipped. When none can be reserved the call fails
// with apperr.ErrNoVehicleAvailable and no request is stored.
func (w *Workflow) Assign(ctx context.Context, requesterID string, pickup models.Location) (models.RideRequest, error) {
	if requesterID == "" {
		return models.RideRequest{}, apperr.NewValidationError("userId is required")
	}
	matches, err := w.Nearest(ctx, pickup, w.cutoffKM)
	if err != nil {
		return models.RideRequest{}, err
	}

	for _, m := range matches {
		now := w.clock.Now()
		req := models.RideRequest{
			ID:          w.newID(),
			RequesterID: requesterID,
			Coordinates: pickup,
			BusID:       m.ID,
			Status:      models.RequestAssigned,
			DistanceKM:  m.DistanceKM,
			ETAMinutes:  m.ETAMinutes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err := w.store.Reserve(ctx, req)
		if IsUnavailable(err) {
			w.logger.WithField("bus_id", m.ID).Debug("Bus taken by a concurrent assignment")
			continue
		}
		if err != nil {
			return models.RideRequest{}, fmt.Errorf("reserve bus %s: %w", m.ID, err)
		}
		w.logger.WithFields(logrus.Fields{
			"request_id":  req.ID,
			"bus_id":      req.BusID,
			"distance_km": req.DistanceKM,
		}).Info("Ride request assigned")
		return req, nil
	}
	return models.RideRequest{}, apperr.ErrNoVehicleAvailable
}

// Complete ends an assigned request and releases its bus.
func (w *Workflow) Complete(ctx context.Context, requestID string) (models.RideRequest, error) {
	return w.finish(ctx, requestID, models.RequestCompleted)
}

// Cancel cancels a non-terminal request and releases its bus.
func (w *Workflow) Cancel(ctx context.Context, requestID string) (models.RideRequest, error) {
	return w.finish(ctx, requestID, models.RequestCancelled)
}

func (w *Workflow) finish(ctx context.Context, requestID string, status models.RideRequestStatus) (models.RideRequest, error) {
	req, err := w.store.Finish(ctx, requestID, status, w.clock.Now())
	if err != nil {
		return models.RideRequest{}, err
	}
	w.logger.WithFields(logrus.Fields{"request_id": req.ID, "bus_id": req.BusID, "status": req.Status}).Info("Ride request finished")
	return req, nil
}

// Request returns a stored ride request.
func (w *Workflow) Request(ctx context.Context, id string) (models.RideRequest, error) {
	return w.store.GetRequest(ctx, id)
}

// Requests lists stored ride requests, oldest first. An empty status lists all.
func (w *Workflow) Requests(ctx context.Context, status models.RideRequestStatus) ([]models.RideRequest, error) {
	all, err := w.store.ListRequests(ctx)
	if err != nil || status == "" {
		return all, err
	}
	out := make([]models.RideRequest, 0, len(all))
	for _, r := range all {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out, nil
}

// SetBusStatus changes the operational status of a bus. A bus held by a
// request cannot be made available or in service, see CheckStatusChange.
func (w *Workflow) SetBusStatus(ctx context.Context, busID string, status models.BusStatus) (models.Bus, error) {
	return w.store.SetBusStatus(ctx, busID, status, w.clock.Now())
}

// Now returns the workflow clock's time.
func (w *Workflow) Now() time.Time {
	return w.clock.Now()
}

func validateLocation(l models.Location) error {
	var fields []string
	if l.Lat < -90 || l.Lat > 90 {
		fields = append(fields, "latitude must be between -90 and 90")
	}
	if l.Lon < -180 || l.Lon > 180 {
		fields = append(fields, "longitude must be between -180 and 180")
	}
	if len(fields) > 0 {
		return apperr.NewValidationError(fields...)
	}
	return nil
}
