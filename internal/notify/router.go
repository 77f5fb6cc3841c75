// Package notify routes notifications to individual recipients and to topic
// subscribers. Delivery is best-effort and at most once.
package notify

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/apperr"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// DefaultRetention is how long notification history is kept.
const DefaultRetention = 30 * 24 * time.Hour

// Deliverer sends a notification to a single recipient.
type Deliverer interface {
	Deliver(ctx context.Context, recipient, event string, n models.Notification) error
}

// Request describes a notification addressed to explicit recipients.
type Request struct {
	Type       string
	Message    string
	Recipients []string
	Priority   models.Priority
	Payload    map[string]interface{}
}

// Router is safe for concurrent use.
type Router struct {
	deliverer Deliverer
	clock     clockz.Clock
	retention time.Duration
	logger    logrus.FieldLogger

	subMu       sync.RWMutex
	subscribers map[string]map[string]struct{}

	histMu  sync.Mutex
	history map[string][]models.Notification
}

// Option configures a Router.
type Option func(*Router)

// WithClock sets the clock used to stamp notifications.
func WithClock(c clockz.Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithRetention overrides the history retention window.
func WithRetention(d time.Duration) Option {
	return func(r *Router) { r.retention = d }
}

// NewRouter creates a Router that delivers through d.
func NewRouter(d Deliverer, logger logrus.FieldLogger, opts ...Option) *Router {
	r := &Router{
		deliverer:   d,
		clock:       clockz.RealClock,
		retention:   DefaultRetention,
		logger:      logger.WithField("component", "notify"),
		subscribers: make(map[string]map[string]struct{}),
		history:     make(map[string][]models.Notification),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify builds a notification and delivers it to every recipient
// independently. A failed delivery is logged and never stops the others.
// The notification is returned whatever the delivery outcomes were.
func (r *Router) Notify(ctx context.Context, req Request) (models.Notification, error) {
	if req.Type == "" || req.Message == "" {
		return models.Notification{}, apperr.NewValidationError("type and message are required")
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}
	n := models.Notification{
		ID:         uuid.New().String(),
		Type:       req.Type,
		Message:    req.Message,
		Priority:   req.Priority,
		Payload:    req.Payload,
		Recipients: dedupe(req.Recipients),
		Timestamp:  r.clock.Now(),
	}
	r.remember(n)

	entry := r.logger.WithFields(logrus.Fields{
		"notification_id": n.ID,
		"type":            n.Type,
		"recipients":      len(n.Recipients),
	})
	if n.Priority == models.PriorityHigh {
		entry.Info("High priority notification")
	}

	delivered := r.fanout(ctx, "notification", n, n.Recipients)
	entry.WithField("delivered", delivered).Debug("Notification sent")
	return n, nil
}

// Broadcast delivers to the subscribers of topic at call time and returns
// the notification with the number of successful deliveries.
func (r *Router) Broadcast(ctx context.Context, topic, message string, payload map[string]interface{}) (models.Notification, int) {
	n := models.Notification{
		ID:        uuid.New().String(),
		Type:      topic,
		Message:   message,
		Priority:  models.PriorityNormal,
		Payload:   payload,
		Topic:     topic,
		Timestamp: r.clock.Now(),
	}
	r.remember(n)

	subs := r.Subscribers(topic)
	if len(subs) == 0 {
		return n, 0
	}
	delivered := r.fanout(ctx, "broadcast", n, subs)
	r.logger.WithFields(logrus.Fields{
		"topic":       topic,
		"subscribers": len(subs),
		"delivered":   delivered,
	}).Debug("Broadcast sent")
	return n, delivered
}

func (r *Router) fanout(ctx context.Context, event string, n models.Notification, recipients []string) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for _, recipient := range recipients {
		wg.Add(1)
		go func(recipient string) {
			defer wg.Done()
			if err := r.deliver(ctx, recipient, event, n); err != nil {
				r.logger.WithError(err).WithFields(logrus.Fields{
					"notification_id": n.ID,
					"recipient":       recipient,
				}).Warn("Failed to deliver notification")
				return
			}
			mu.Lock()
			delivered++
			mu.Unlock()
		}(recipient)
	}
	wg.Wait()
	return delivered
}

// deliver isolates a single recipient so that a panicking deliverer is
// reported as a failed delivery.
func (r *Router) deliver(ctx context.Context, recipient, event string, n models.Notification) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &deliveryPanic{value: p}
		}
	}()
	return r.deliverer.Deliver(ctx, recipient, event, n)
}

// Subscribe adds subscriber to topic. Subscribing twice has no further effect.
func (r *Router) Subscribe(topic, subscriber string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	set, ok := r.subscribers[topic]
	if !ok {
		set = make(map[string]struct{})
		r.subscribers[topic] = set
	}
	set[subscriber] = struct{}{}
}

// Unsubscribe removes subscriber from topic. Unknown pairs are ignored.
func (r *Router) Unsubscribe(topic, subscriber string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	set, ok := r.subscribers[topic]
	if !ok {
		return
	}
	delete(set, subscriber)
	if len(set) == 0 {
		delete(r.subscribers, topic)
	}
}

// AllTopics names every topic in an unsubscribe request.
const AllTopics = "*"

// UnsubscribeAll removes subscriber from every topic.
func (r *Router) UnsubscribeAll(subscriber string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for topic, set := range r.subscribers {
		delete(set, subscriber)
		if len(set) == 0 {
			delete(r.subscribers, topic)
		}
	}
}

// Subscribers returns a sorted snapshot of the subscribers of topic.
func (r *Router) Subscribers(topic string) []string {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	set := r.subscribers[topic]
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (r *Router) remember(n models.Notification) {
	r.histMu.Lock()
	r.history[n.Type] = append(r.history[n.Type], n)
	r.histMu.Unlock()
}

// History returns the notifications sent with the given type, oldest first.
func (r *Router) History(notificationType string) []models.Notification {
	r.histMu.Lock()
	defer r.histMu.Unlock()
	return append([]models.Notification{}, r.history[notificationType]...)
}

// Prune drops history older than the retention window and returns how many
// notifications were removed.
func (r *Router) Prune() int {
	cutoff := r.clock.Now().Add(-r.retention)
	r.histMu.Lock()
	defer r.histMu.Unlock()
	removed := 0
	for typ, list := range r.history {
		i := 0
		for i < len(list) && list[i].Timestamp.Before(cutoff) {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		if i == len(list) {
			delete(r.history, typ)
			continue
		}
		r.history[typ] = append(list[:0:0], list[i:]...)
	}
	return removed
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
