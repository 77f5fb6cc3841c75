// Package monitoring records named metric samples and raises alerts when a
// registered threshold holds for a newly recorded value.
package monitoring

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// DefaultRetention is how long samples survive a Prune call.
const DefaultRetention = 7 * 24 * time.Hour

// Predicate decides whether a sample breaches a threshold.
type Predicate func(value float64, tags map[string]string) bool

// Threshold is a named check registered for one metric.
type Threshold struct {
	Check       Predicate
	Description string
}

// AlertSink receives every raised alert after it has been stored.
type AlertSink func(alert models.Alert)

type series struct {
	mu        sync.Mutex
	samples   []models.MetricSample
	threshold *Threshold
	alerts    []models.Alert
}

// Service is safe for concurrent use. Each metric name has its own lock, so
// recording one metric never waits on another.
type Service struct {
	mu        sync.RWMutex
	series    map[string]*series
	clock     clockz.Clock
	retention time.Duration
	sinks     []AlertSink
	logger    logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used to stamp samples.
func WithClock(c clockz.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithRetention overrides the sample retention window.
func WithRetention(d time.Duration) Option {
	return func(s *Service) { s.retention = d }
}

// WithAlertSink adds a sink that is called for every alert.
func WithAlertSink(sink AlertSink) Option {
	return func(s *Service) { s.sinks = append(s.sinks, sink) }
}

// NewService creates a monitoring service.
func NewService(logger logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		series:    make(map[string]*series),
		clock:     clockz.RealClock,
		retention: DefaultRetention,
		logger:    logger.WithField("component", "monitoring"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) get(name string) (*series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.series[name]
	return ser, ok
}

func (s *Service) getOrCreate(name string) *series {
	if ser, ok := s.get(name); ok {
		return ser
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ser, ok := s.series[name]
	if !ok {
		ser = &series{}
		s.series[name] = ser
	}
	return ser
}

// SetThreshold registers or replaces the threshold for name. The new
// threshold applies from the next Record call on.
func (s *Service) SetThreshold(name string, t Threshold) {
	ser := s.getOrCreate(name)
	ser.mu.Lock()
	ser.threshold = &t
	ser.mu.Unlock()
}

// Record appends a sample for name and evaluates the registered threshold
// against it under the same lock. It returns the raised alert, if any. Sinks
// are called before Record returns.
func (s *Service) Record(name string, value float64, tags map[string]string) *models.Alert {
	now := s.clock.Now()
	sample := models.MetricSample{Name: name, Value: value, Tags: copyTags(tags), Timestamp: now}

	ser := s.getOrCreate(name)
	ser.mu.Lock()
	ser.samples = append(ser.samples, sample)
	var alert *models.Alert
	if th := ser.threshold; th != nil && th.Check != nil && th.Check(value, sample.Tags) {
		a := models.Alert{
			Metric:    name,
			Value:     value,
			Tags:      sample.Tags,
			Timestamp: now,
			Condition: th.Description,
		}
		ser.alerts = append(ser.alerts, a)
		alert = &a
	}
	ser.mu.Unlock()

	if alert == nil {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"metric":    name,
		"value":     value,
		"condition": alert.Condition,
		"tags":      alert.Tags,
	}).Warn("Metric threshold exceeded")
	for _, sink := range s.sinks {
		sink(*alert)
	}
	return alert
}

// Query returns the samples of name with from <= timestamp <= to, oldest first.
func (s *Service) Query(name string, from, to time.Time) []models.MetricSample {
	ser, ok := s.get(name)
	if !ok {
		return []models.MetricSample{}
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	out := make([]models.MetricSample, 0, len(ser.samples))
	for _, sm := range ser.samples {
		if sm.Timestamp.Before(from) || sm.Timestamp.After(to) {
			continue
		}
		out = append(out, sm)
	}
	return out
}

// Alerts returns every alert raised for name that has not been pruned.
func (s *Service) Alerts(name string) []models.Alert {
	ser, ok := s.get(name)
	if !ok {
		return []models.Alert{}
	}
	ser.mu.Lock()
	defer ser.mu.Unlock()
	return append([]models.Alert{}, ser.alerts...)
}

// Metrics lists the names of all known metrics.
func (s *Service) Metrics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prune removes samples and alerts older than the retention window and
// returns the number of samples removed. It is meant to be called from a
// periodic maintenance loop.
func (s *Service) Prune() int {
	cutoff := s.clock.Now().Add(-s.retention)

	s.mu.RLock()
	all := make([]*series, 0, len(s.series))
	for _, ser := range s.series {
		all = append(all, ser)
	}
	s.mu.RUnlock()

	removed := 0
	for _, ser := range all {
		ser.mu.Lock()
		i := 0
		for i < len(ser.samples) && ser.samples[i].Timestamp.Before(cutoff) {
			i++
		}
		if i > 0 {
			ser.samples = append(ser.samples[:0:0], ser.samples[i:]...)
			removed += i
		}
		j := 0
		for j < len(ser.alerts) && ser.alerts[j].Timestamp.Before(cutoff) {
			j++
		}
		if j > 0 {
			ser.alerts = append(ser.alerts[:0:0], ser.alerts[j:]...)
		}
		ser.mu.Unlock()
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Debug("Pruned metric samples")
	}
	return removed
}

// CriticalBand builds a threshold that holds when a value reaches the
// critical bounds of band.
func CriticalBand(band models.SensorThreshold) Threshold {
	return Threshold{
		Check: func(value float64, _ map[string]string) bool {
			return band.Classify(value) == models.ReadingCritical
		},
		Description: describeBand(band),
	}
}

func describeBand(band models.SensorThreshold) string {
	switch {
	case band.CriticalMin != nil && band.CriticalMax != nil:
		return fmt.Sprintf("value <= %g or value >= %g", *band.CriticalMin, *band.CriticalMax)
	case band.CriticalMax != nil:
		return fmt.Sprintf("value >= %g", *band.CriticalMax)
	case band.CriticalMin != nil:
		return fmt.Sprintf("value <= %g", *band.CriticalMin)
	default:
		return "never"
	}
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
