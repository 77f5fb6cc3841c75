package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/dispatch"
	"github.com/ukydev/hajj-fleet-dispatch/internal/geo"
	"github.com/ukydev/hajj-fleet-dispatch/internal/location"
	"github.com/ukydev/hajj-fleet-dispatch/internal/middleware"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/monitoring"
)

// DefaultNearestKM is the search radius of the nearest-bus lookup when none is given.
const DefaultNearestKM = 5.0

const (
	historyWindow = time.Hour
	metricWindow  = 24 * time.Hour
)

// LocationCache serves locations mirrored by another process, e.g. Redis.
type LocationCache interface {
	Location(ctx context.Context, busID string) (models.LocationRecord, bool, error)
}

// FleetHandler exposes the dispatch workflow and the fleet read models over HTTP.
type FleetHandler struct {
	fleet      *dispatch.Workflow
	locations  *location.Service
	monitoring *monitoring.Service
	cache      LocationCache
	nearestKM  float64
	logger     logrus.FieldLogger
}

// NewFleetHandler creates a fleet handler.
func NewFleetHandler(fleet *dispatch.Workflow, locations *location.Service, mon *monitoring.Service, nearestKM float64, logger logrus.FieldLogger) *FleetHandler {
	if nearestKM <= 0 {
		nearestKM = DefaultNearestKM
	}
	return &FleetHandler{
		fleet:      fleet,
		locations:  locations,
		monitoring: mon,
		nearestKM:  nearestKM,
		logger:     logger.WithField("component", "fleet_api"),
	}
}

// UseLocationCache makes Location fall back to c for buses this process has
// not heard from, e.g. right after a restart.
func (h *FleetHandler) UseLocationCache(c LocationCache) {
	h.cache = c
}

type assignRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Assign reserves the nearest available bus for the caller.
func (h *FleetHandler) Assign(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		respondError(w, fmt.Errorf("%w: user context not found", apperr.ErrUnauthorized))
		return
	}

	var body assignRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, apperr.NewValidationError("payload must be a JSON object"))
		return
	}
	var fields []string
	if body.Latitude == nil {
		fields = append(fields, `"latitude" is required`)
	}
	if body.Longitude == nil {
		fields = append(fields, `"longitude" is required`)
	}
	if len(fields) > 0 {
		respondError(w, apperr.NewValidationError(fields...))
		return
	}

	req, err := h.fleet.Assign(r.Context(), claims.Subject, models.Location{Lat: *body.Latitude, Lon: *body.Longitude})
	if err != nil {
		if apperr.Status(err) == apperr.StatusServerError {
			h.logger.WithError(err).WithField("requester", claims.Subject).Error("Failed to assign request")
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, req)
}

// GetRequest returns a ride request. Passengers only see their own.
func (h *FleetHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.ownedRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// Complete marks a ride request completed and frees its bus.
func (h *FleetHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.fleet.Complete)
}

// Cancel cancels a ride request and frees its bus.
func (h *FleetHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.finish(w, r, h.fleet.Cancel)
}

func (h *FleetHandler) finish(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) (models.RideRequest, error)) {
	req, err := h.ownedRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	done, err := op(r.Context(), req.ID)
	if err != nil {
		if apperr.Status(err) == apperr.StatusServerError {
			h.logger.WithError(err).WithField("request_id", req.ID).Error("Failed to finish request")
		}
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, done)
}

// ownedRequest loads the request in the path, hiding requests of other
// passengers behind not found.
func (h *FleetHandler) ownedRequest(r *http.Request) (models.RideRequest, error) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return models.RideRequest{}, fmt.Errorf("%w: user context not found", apperr.ErrUnauthorized)
	}
	id := r.PathValue("id")
	req, err := h.fleet.Request(r.Context(), id)
	if err != nil {
		return models.RideRequest{}, err
	}
	if claims.Role == models.RolePassenger && req.RequesterID != claims.Subject {
		return models.RideRequest{}, fmt.Errorf("request %s: %w", id, apperr.ErrNotFound)
	}
	return req, nil
}

type nearestResponse struct {
	Buses    []geo.Match `json:"buses"`
	Count    int         `json:"count"`
	RadiusKM float64     `json:"radiusKm"`
}

// Nearest lists dispatchable buses around lat/lon, closest first.
func (h *FleetHandler) Nearest(w http.ResponseWriter, r *http.Request) {
	point, err := queryPoint(r)
	if err != nil {
		respondError(w, err)
		return
	}
	radius, set, err := queryFloat(r, "radius")
	if err != nil {
		respondError(w, err)
		return
	}
	if !set {
		radius = h.nearestKM
	}
	if radius <= 0 {
		respondError(w, apperr.NewValidationError(`"radius" must be greater than 0`))
		return
	}

	matches, err := h.fleet.Nearest(r.Context(), point, radius)
	if err != nil {
		respondError(w, err)
		return
	}
	if matches == nil {
		matches = []geo.Match{}
	}
	respondJSON(w, http.StatusOK, nearestResponse{Buses: matches, Count: len(matches), RadiusKM: radius})
}

type requestsResponse struct {
	Requests []models.RideRequest `json:"requests"`
	Count    int                  `json:"count"`
}

// Requests lists ride requests, optionally filtered by ?status=.
func (h *FleetHandler) Requests(w http.ResponseWriter, r *http.Request) {
	status := models.RideRequestStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.RequestPending, models.RequestAssigned, models.RequestCompleted, models.RequestCancelled:
	default:
		respondError(w, apperr.NewValidationError(fmt.Sprintf(`"status" %q is invalid`, status)))
		return
	}
	requests, err := h.fleet.Requests(r.Context(), status)
	if err != nil {
		if apperr.Status(err) == apperr.StatusServerError {
			h.logger.WithError(err).Error("Failed to list requests")
		}
		respondError(w, err)
		return
	}
	if requests == nil {
		requests = []models.RideRequest{}
	}
	respondJSON(w, http.StatusOK, requestsResponse{Requests: requests, Count: len(requests)})
}

// Location returns the current location of a bus.
func (h *FleetHandler) Location(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok := h.locations.Current(id)
	if !ok && h.cache != nil {
		var err error
		rec, ok, err = h.cache.Location(r.Context(), id)
		if err != nil {
			h.logger.WithError(err).WithField("bus_id", id).Warn("Failed to read cached location")
		}
	}
	if !ok {
		respondError(w, fmt.Errorf("location of bus %s: %w", id, apperr.ErrNotFound))
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// ETA estimates when a bus reaches lat/lon.
func (h *FleetHandler) ETA(w http.ResponseWriter, r *http.Request) {
	point, err := queryPoint(r)
	if err != nil {
		respondError(w, err)
		return
	}
	match, err := h.locations.ETA(r.PathValue("id"), point)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, match)
}

type historyResponse struct {
	BusID   string                  `json:"busId"`
	From    time.Time               `json:"from"`
	To      time.Time               `json:"to"`
	Records []models.LocationRecord `json:"records"`
}

// History returns the location history of a bus between from and to.
func (h *FleetHandler) History(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r, h.fleet.Now(), historyWindow)
	if err != nil {
		respondError(w, err)
		return
	}
	id := r.PathValue("id")
	records := h.locations.History(id, from, to)
	if records == nil {
		records = []models.LocationRecord{}
	}
	respondJSON(w, http.StatusOK, historyResponse{BusID: id, From: from, To: to, Records: records})
}

type metricResponse struct {
	Metric  string                `json:"metric"`
	Samples []models.MetricSample `json:"samples"`
}

// Metric returns the samples of a metric between from and to.
func (h *FleetHandler) Metric(w http.ResponseWriter, r *http.Request) {
	from, to, err := queryRange(r, h.fleet.Now(), metricWindow)
	if err != nil {
		respondError(w, err)
		return
	}
	name := r.PathValue("name")
	samples := h.monitoring.Query(name, from, to)
	if samples == nil {
		samples = []models.MetricSample{}
	}
	respondJSON(w, http.StatusOK, metricResponse{Metric: name, Samples: samples})
}

// Metrics lists the names of recorded metrics.
func (h *FleetHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"metrics": h.monitoring.Metrics()})
}

// Alerts returns the alerts raised for a metric.
func (h *FleetHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	alerts := h.monitoring.Alerts(name)
	if alerts == nil {
		alerts = []models.Alert{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"metric": name, "alerts": alerts})
}

func queryPoint(r *http.Request) (models.Location, error) {
	lat, latSet, latErr := queryFloat(r, "lat")
	lon, lonSet, lonErr := queryFloat(r, "lon")
	var fields []string
	for _, e := range []error{latErr, lonErr} {
		fields = append(fields, apperr.Fields(e)...)
	}
	if !latSet {
		fields = append(fields, `"lat" is required`)
	}
	if !lonSet {
		fields = append(fields, `"lon" is required`)
	}
	if len(fields) > 0 {
		return models.Location{}, apperr.NewValidationError(fields...)
	}
	return models.Location{Lat: lat, Lon: lon}, nil
}
