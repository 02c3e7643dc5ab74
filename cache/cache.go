/*
Package cache provides a read-through cache with a TTL policy and an
injected clock.

PURPOSE:
  Portfolio summaries and hierarchy trees are expensive to aggregate and
  change only when money moves. The API caches them per actor and drops
  them whenever a write could change the figures.

FRESHNESS:
  Every entry carries an expiry of now+TTL taken from the Clock. An entry
  is stale once the clock reaches its expiry. Tests drive time with
  ManualClock instead of sleeping.

INVALIDATION:
  InvalidatePrefix removes a family of keys (for example every
  "portfolio:" entry after a payment). Undecodable entries are deleted on
  read.

BACKENDS:
  MemoryBackend  single process, map + expiry timestamps
  RedisBackend   shared across replicas, native TTL, SCAN prefix delete

SEE ALSO:
  - api/cache.go: Keys and invalidation triggers
*/
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Backend stores raw bytes with an expiry.
type Backend interface {
	// Get returns found=false for missing or expired keys.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores value for ttl; ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// Cache stores JSON-encoded values in a Backend.
type Cache struct {
	backend Backend
	ttl     time.Duration
	log     *zap.Logger
}

func New(backend Backend, ttl time.Duration, log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{backend: backend, ttl: ttl, log: log}
}

// GetJSON decodes the cached value into dst. It returns false on a miss.
// A value that no longer decodes is dropped and reported as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	raw, found, err := c.backend.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = c.backend.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// SetJSON stores v under key with the default TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) error {
	return c.backend.DeletePrefix(ctx, prefix)
}
