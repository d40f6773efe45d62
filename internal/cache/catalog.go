package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/quyetvm183/Encybara/internal/metrics"
	"github.com/quyetvm183/Encybara/internal/models"
	"github.com/quyetvm183/Encybara/internal/storage"
)

const (
	keyPrefix     = "catalog"
	generationKey = keyPrefix + ":generation"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, address, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// CatalogCache is a read-through Redis cache in front of a CatalogStore.
// Keys carry a generation number that BeginCycle bumps, so every refresh
// cycle reads a fresh catalog. Redis failures fall through to the store.
type CatalogCache struct {
	store   storage.CatalogStore
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	ttl     time.Duration
}

// NewCatalogCache wraps store with a Redis cache
func NewCatalogCache(store storage.CatalogStore, client *redis.Client, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "catalog-cache",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("cache circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &CatalogCache{
		store:   store,
		client:  client,
		breaker: breaker,
		ttl:     ttl,
	}
}

// FindPublicByAxisAndRange serves from cache, loading from the store on a miss
func (c *CatalogCache) FindPublicByAxisAndRange(ctx context.Context, axis models.SkillAxis, lower, upper float64) ([]models.CourseCandidate, error) {
	return c.readThrough(ctx, func(gen int64) string { return RangeKey(gen, axis, lower, upper) }, func() ([]models.CourseCandidate, error) {
		return c.store.FindPublicByAxisAndRange(ctx, axis, lower, upper)
	})
}

// FindAll serves the whole catalog from cache
func (c *CatalogCache) FindAll(ctx context.Context) ([]models.CourseCandidate, error) {
	return c.readThrough(ctx, AllKey, func() ([]models.CourseCandidate, error) {
		return c.store.FindAll(ctx)
	})
}

// RangeKey builds the cache key for one axis and band. Bounds keep full
// precision so distinct bands never share a key.
func RangeKey(gen int64, axis models.SkillAxis, lower, upper float64) string {
	return fmt.Sprintf("%s:%d:%s:%s:%s", keyPrefix, gen, axis,
		strconv.FormatFloat(lower, 'g', -1, 64),
		strconv.FormatFloat(upper, 'g', -1, 64),
	)
}

// AllKey builds the cache key for the full catalog
func AllKey(gen int64) string {
	return fmt.Sprintf("%s:%d:all", keyPrefix, gen)
}

func (c *CatalogCache) readThrough(ctx context.Context, key func(gen int64) string, load func() ([]models.CourseCandidate, error)) ([]models.CourseCandidate, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		metrics.RecordCacheLookup("error")
		slog.Debug("catalog cache unavailable, reading store", "error", err)
		return load()
	}

	k := key(gen)

	data, err := c.breaker.Execute(func() ([]byte, error) {
		b, err := c.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		metrics.RecordCacheLookup("error")
		return load()
	}

	if data != nil {
		var courses []models.CourseCandidate
		if err := json.Unmarshal(data, &courses); err == nil {
			metrics.RecordCacheLookup("hit")
			return courses, nil
		}
		slog.Warn("discarding undecodable cache entry", "key", k)
	}

	metrics.RecordCacheLookup("miss")

	courses, err := load()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(courses)
	if err != nil {
		return courses, nil
	}

	if _, err := c.breaker.Execute(func() ([]byte, error) {
		return nil, c.client.Set(ctx, k, payload, c.ttl).Err()
	}); err != nil {
		slog.Debug("failed to populate catalog cache", "key", k, "error", err)
	}

	return courses, nil
}

func (c *CatalogCache) generation(ctx context.Context) (int64, error) {
	data, err := c.breaker.Execute(func() ([]byte, error) {
		b, err := c.client.Get(ctx, generationKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte("0"), nil
		}
		return b, err
	})
	if err != nil {
		return 0, err
	}

	return strconv.ParseInt(string(data), 10, 64)
}

// BeginCycle starts a new cache generation and removes the previous
// generation's keys
func (c *CatalogCache) BeginCycle(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return fmt.Errorf("failed to advance cache generation: %w", err)
	}

	pattern := fmt.Sprintf("%s:%d:*", keyPrefix, gen-1)
	var cursor uint64
	var keysDeleted int

	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("failed to delete some keys", "error", err)
			}
			keysDeleted += len(keys)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	slog.Info("catalog cache cycle started", "generation", gen, "keys_deleted", keysDeleted)
	return nil
}

// HealthCheck verifies Redis connectivity
func (c *CatalogCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *CatalogCache) Close() error {
	return c.client.Close()
}
