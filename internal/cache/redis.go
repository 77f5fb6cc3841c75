// Package cache mirrors current bus locations into Redis so other processes
// can read them without going through the dispatch server.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
)

// DefaultTTL bounds how long a mirrored location outlives its last update.
const DefaultTTL = 5 * time.Minute

// kv is the subset of the Redis client the mirror uses.
type kv interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// LocationKey is the Redis key holding the current location of a bus.
func LocationKey(busID string) string {
	return fmt.Sprintf("fleet:bus:%s:location", busID)
}

// LocationMirror writes every accepted location record to Redis as JSON.
type LocationMirror struct {
	client kv
	closer func() error
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewLocationMirror connects to Redis and verifies the connection.
func NewLocationMirror(addr, password string, db int, ttl time.Duration, logger logrus.FieldLogger) (*LocationMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	m := newMirror(client, ttl, logger)
	m.closer = client.Close
	return m, nil
}

func newMirror(client kv, ttl time.Duration, logger logrus.FieldLogger) *LocationMirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocationMirror{
		client: client,
		ttl:    ttl,
		logger: logger.WithField("component", "redis_mirror"),
	}
}

// Close releases the Redis connection.
func (m *LocationMirror) Close() error {
	if m.closer == nil {
		return nil
	}
	return m.closer()
}

// MirrorLocation stores rec under the bus key with the configured TTL.
func (m *LocationMirror) MirrorLocation(ctx context.Context, rec models.LocationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("json marshal: %w", err)
	}
	if err := m.client.Set(ctx, LocationKey(rec.VehicleID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirror location of %s: %w", rec.VehicleID, err)
	}
	m.logger.WithFields(logrus.Fields{"bus_id": rec.VehicleID, "size_bytes": len(data)}).Debug("Location mirrored")
	return nil
}

// Location reads the mirrored location of a bus. The bool is false on a miss.
func (m *LocationMirror) Location(ctx context.Context, busID string) (models.LocationRecord, bool, error) {
	data, err := m.client.Get(ctx, LocationKey(busID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.LocationRecord{}, false, nil
	}
	if err != nil {
		return models.LocationRecord{}, false, fmt.Errorf("read location of %s: %w", busID, err)
	}
	var rec models.LocationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.LocationRecord{}, false, fmt.Errorf("json unmarshal: %w", err)
	}
	return rec, true, nil
}
