// Package location keeps the current position and a rolling history for every bus.
package location

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/geo"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

const (
	shardCount = 32

	// DefaultRetention is how long history entries are kept.
	DefaultRetention = 24 * time.Hour
)

// Mirror receives every accepted location record, e.g. to share it with other processes.
type Mirror interface {
	MirrorLocation(ctx context.Context, rec models.LocationRecord) error
}

type vehicleTrack struct {
	current models.LocationRecord
	history []models.LocationRecord
}

type shard struct {
	mu     sync.RWMutex
	tracks map[string]*vehicleTrack
}

// Service owns all location records. Writes to one vehicle never block
// writers of vehicles that hash to a different shard.
type Service struct {
	shards    [shardCount]*shard
	retention time.Duration
	clock     clockz.Clock
	mirror    Mirror
	logger    logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used to stamp records.
func WithClock(c clockz.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRetention overrides the history window.
func WithRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

// WithMirror mirrors accepted records to m.
func WithMirror(m Mirror) Option {
	return func(s *Service) { s.mirror = m }
}

// NewService creates a location service.
func NewService(logger logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		retention: DefaultRetention,
		clock:     clockz.RealClock,
		logger:    logger.WithField("component", "location"),
	}
	for i := range s.shards {
		s.shards[i] = &shard{tracks: make(map[string]*vehicleTrack)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) shardFor(vehicleID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(vehicleID))
	return s.shards[h.Sum32()%shardCount]
}

// Update stamps pos with the current time, makes it the vehicle's current
// location, appends it to the vehicle's history and drops that vehicle's
// history entries older than the retention window. Updates are applied in
// the order they are received.
func (s *Service) Update(ctx context.Context, vehicleID string, pos models.Position) (models.LocationRecord, error) {
	if vehicleID == "" {
		return models.LocationRecord{}, apperr.NewValidationError("busId is required")
	}

	now := s.clock.Now()
	rec := models.LocationRecord{
		VehicleID: vehicleID,
		Location:  pos.Location,
		Altitude:  pos.Altitude,
		Accuracy:  pos.Accuracy,
		Speed:     pos.Speed,
		Heading:   pos.Heading,
		Timestamp: now,
	}

	sh := s.shardFor(vehicleID)
	sh.mu.Lock()
	track, ok := sh.tracks[vehicleID]
	if !ok {
		track = &vehicleTrack{}
		sh.tracks[vehicleID] = track
	}
	track.current = rec
	track.history = append(track.history, rec)
	track.history = pruneBefore(track.history, now.Add(-s.retention))
	sh.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.MirrorLocation(ctx, rec); err != nil {
			s.logger.WithError(err).WithField("bus_id", vehicleID).Warn("Failed to mirror location")
		}
	}
	return rec, nil
}

// Current returns the most recently received record for a vehicle.
func (s *Service) Current(vehicleID string) (models.LocationRecord, bool) {
	sh := s.shardFor(vehicleID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	track, ok := sh.tracks[vehicleID]
	if !ok {
		return models.LocationRecord{}, false
	}
	return track.current, true
}

// History returns the vehicle's records with from <= timestamp <= to, oldest first.
func (s *Service) History(vehicleID string, from, to time.Time) []models.LocationRecord {
	sh := s.shardFor(vehicleID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	track, ok := sh.tracks[vehicleID]
	if !ok {
		return []models.LocationRecord{}
	}
	out := make([]models.LocationRecord, 0, len(track.history))
	for _, rec := range track.history {
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Snapshot copies the current record of every vehicle, ordered by vehicle id.
// Each shard is copied under its read lock, so concurrent writers never
// expose a partially written record.
func (s *Service) Snapshot() []models.LocationRecord {
	var out []models.LocationRecord
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, track := range sh.tracks {
			out = append(out, track.current)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleID < out[j].VehicleID })
	return out
}

// NearestTo ranks the current locations of all vehicles around point.
func (s *Service) NearestTo(point models.Location, maxDistanceKM float64) []geo.Match {
	snap := s.Snapshot()
	candidates := make([]geo.Candidate, len(snap))
	for i, rec := range snap {
		candidates[i] = geo.Candidate{ID: rec.VehicleID, Location: rec.Location}
	}
	return geo.Rank(point, candidates, geo.Options{MaxDistanceKM: maxDistanceKM})
}

// ETA estimates the travel time from a vehicle's current location to destination.
func (s *Service) ETA(vehicleID string, destination models.Location) (geo.Match, error) {
	cur, ok := s.Current(vehicleID)
	if !ok {
		return geo.Match{}, fmt.Errorf("location for bus %s: %w", vehicleID, apperr.ErrNotFound)
	}
	d := geo.HaversineKM(cur.Location, destination)
	return geo.Match{Rank: 1, ID: vehicleID, Location: cur.Location, DistanceKM: d, ETAMinutes: geo.ETAMinutes(d)}, nil
}

// Prune drops history entries older than the retention window for every
// vehicle and returns how many entries were removed.
func (s *Service) Prune() int {
	cutoff := s.clock.Now().Add(-s.retention)
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, track := range sh.tracks {
			before := len(track.history)
			track.history = pruneBefore(track.history, cutoff)
			removed += before - len(track.history)
		}
		sh.mu.Unlock()
	}
	return removed
}

// pruneBefore drops every entry stamped before cutoff, wherever it sits, so
// a clock step backwards cannot shield older entries behind a newer one.
func pruneBefore(history []models.LocationRecord, cutoff time.Time) []models.LocationRecord {
	kept := 0
	for _, rec := range history {
		if !rec.Timestamp.Before(cutoff) {
			kept++
		}
	}
	if kept == len(history) {
		return history
	}
	out := make([]models.LocationRecord, 0, kept)
	for _, rec := range history {
		if !rec.Timestamp.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}
