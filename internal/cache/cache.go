// Package cache provides the Redis-backed cache adapter. Cache writes are
// best-effort: entries carry a bounded TTL and a failed write never blocks
// pipeline stage advancement.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gomodule/redigo/redis"

	"github.com/thebtf/kiln/internal/store"
	"github.com/thebtf/kiln/pkg/models"
)

// Verify interface compliance
var _ store.Adapter = (*Adapter)(nil)

const (
	patternPrefix = "kiln:pattern:"
	entityPrefix  = "kiln:entity:"
)

// Adapter implements store.Adapter over a Redis connection pool.
type Adapter struct {
	pool *redis.Pool
	ttl  time.Duration
}

// New creates the cache adapter against the given Redis address.
func New(addr string, ttl time.Duration) *Adapter {
	pool := &redis.Pool{
		MaxIdle:     4,
		MaxActive:   16,
		IdleTimeout: 2 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &Adapter{pool: pool, ttl: ttl}
}

// Name implements store.Adapter.
func (a *Adapter) Name() models.StorageLocation { return models.LocationCache }

// Write caches the pattern and its entities under their ids with the
// configured TTL.
func (a *Adapter) Write(ctx context.Context, rec *store.Record) error {
	conn, err := a.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()

	ttlSec := int64(a.ttl / time.Second)
	if rec.Pattern != nil {
		if err := setJSON(conn, patternPrefix+rec.Pattern.ID, rec.Pattern, ttlSec); err != nil {
			return err
		}
	}
	for _, e := range rec.Entities {
		if err := setJSON(conn, entityPrefix+e.ID, e, ttlSec); err != nil {
			return err
		}
	}
	return nil
}

// Read fetches a cached pattern. A missing key is an error so callers fall
// back to the ledger.
func (a *Adapter) Read(ctx context.Context, patternID string) (*store.Record, error) {
	conn, err := a.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get redis conn: %w", err)
	}
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", patternPrefix+patternID))
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", patternID, err)
	}
	var pattern models.Pattern
	if err := json.Unmarshal(data, &pattern); err != nil {
		return nil, fmt.Errorf("decode cached pattern: %w", err)
	}
	return &store.Record{Pattern: &pattern}, nil
}

// Health pings Redis.
func (a *Adapter) Health(ctx context.Context) bool {
	conn, err := a.pool.GetContext(ctx)
	if err != nil {
		return false
	}
	defer conn.Close()
	_, err = conn.Do("PING")
	return err == nil
}

// Close releases the pool.
func (a *Adapter) Close() error {
	return a.pool.Close()
}

func setJSON(conn redis.Conn, key string, v interface{}, ttlSec int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if _, err := conn.Do("SET", key, data, "EX", ttlSec); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}
