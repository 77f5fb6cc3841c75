// Package ratelimit enforces a minimum interval between accepted events for
// every (client, event type) pair.
package ratelimit

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// DefaultInterval applies to event types without a configured interval.
const DefaultInterval = time.Second

type bucket struct {
	mu           sync.Mutex
	used         bool
	lastAccepted time.Time
}

// Limiter tracks one bucket per (client, event type). Buckets are created on
// first use, and the first event of a pair is always accepted.
type Limiter struct {
	mu        sync.RWMutex
	clients   map[string]map[string]*bucket
	intervals map[string]time.Duration
	fallback  time.Duration
	clock     clockz.Clock

	// testHookLookup runs between the bucket lookup and the decision.
	testHookLookup func()
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used to measure intervals.
func WithClock(c clockz.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// WithInterval sets the minimum interval for one event type.
func WithInterval(event string, d time.Duration) Option {
	return func(l *Limiter) { l.intervals[event] = d }
}

// WithDefaultInterval sets the interval used for event types with no explicit interval.
func WithDefaultInterval(d time.Duration) Option {
	return func(l *Limiter) { l.fallback = d }
}

// New creates a Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		clients:   make(map[string]map[string]*bucket),
		intervals: make(map[string]time.Duration),
		fallback:  DefaultInterval,
		clock:     clockz.RealClock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval returns the minimum interval configured for event.
func (l *Limiter) Interval(event string) time.Duration {
	if d, ok := l.intervals[event]; ok {
		return d
	}
	return l.fallback
}

func (l *Limiter) bucketFor(clientID, event string) *bucket {
	l.mu.RLock()
	b, ok := l.clients[clientID][event]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	events, ok := l.clients[clientID]
	if !ok {
		events = make(map[string]*bucket)
		l.clients[clientID] = events
	}
	if b, ok = events[event]; ok {
		return b
	}
	b = &bucket{}
	events[event] = b
	return b
}

// Allow reports whether an event of the given type from clientID is accepted.
// An accepted event resets the bucket's clock; a rejected one leaves it unchanged.
func (l *Limiter) Allow(clientID, event string) bool {
	for {
		b := l.bucketFor(clientID, event)
		if l.testHookLookup != nil {
			l.testHookLookup()
		}
		if accepted, live := l.decide(clientID, event, b); live {
			return accepted
		}
	}
}

// decide applies the interval to b while l.mu is read-locked, so Cleanup and
// Forget cannot drop b mid-decision. live is false when b was dropped after
// the lookup and the caller must look it up again.
func (l *Limiter) decide(clientID, event string, b *bucket) (accepted, live bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.clients[clientID][event] != b {
		return false, false
	}
	now := l.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.used && now.Sub(b.lastAccepted) < l.Interval(event) {
		return false, true
	}
	b.used = true
	b.lastAccepted = now
	return true, true
}

// Forget drops every bucket of clientID.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	delete(l.clients, clientID)
	l.mu.Unlock()
}

// Cleanup drops clients whose buckets have all been idle for longer than
// maxIdle and returns how many clients were dropped.
func (l *Limiter) Cleanup(maxIdle time.Duration) int {
	cutoff := l.clock.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := 0
	for clientID, events := range l.clients {
		idle := true
		for _, b := range events {
			b.mu.Lock()
			recent := !b.used || b.lastAccepted.After(cutoff)
			b.mu.Unlock()
			if recent {
				idle = false
				break
			}
		}
		if idle {
			delete(l.clients, clientID)
			dropped++
		}
	}
	return dropped
}

// Stats returns the number of tracked clients and buckets.
func (l *Limiter) Stats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	buckets := 0
	for _, events := range l.clients {
		buckets += len(events)
	}
	return map[string]interface{}{
		"tracked_clients":  len(l.clients),
		"buckets":          buckets,
		"default_interval": l.fallback.String(),
	}
}
