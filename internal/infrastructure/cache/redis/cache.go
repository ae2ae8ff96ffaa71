package redis

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "fiscal-ingest:classify:"

// store is the slice of the redis client the cache needs.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// errMiss is returned by store.Get when the key is absent.
var errMiss = errors.New("cache miss")

// ClassificationCache is a read-through cache for classifier scores. Redis
// failures are logged and treated as misses.
type ClassificationCache struct {
	store  store
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *goredis.Client, ttl time.Duration) *ClassificationCache {
	return newCache(clientStore{client: client}, ttl)
}

func newCache(s store, ttl time.Duration) *ClassificationCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ClassificationCache{
		store:  s,
		ttl:    ttl,
		logger: slog.Default().With("component", "classification-cache"),
	}
}

func (c *ClassificationCache) GetOrCompute(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	redisKey := buildKey(key)
	if data, ok := c.get(ctx, redisKey); ok {
		return data, true, nil
	}
	val, err, _ := c.group.Do(redisKey, func() (any, error) {
		if data, ok := c.get(ctx, redisKey); ok {
			return data, nil
		}
		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.store.Set(ctx, redisKey, data, c.ttl); err != nil {
			c.logger.Error("cache set failed", "key", redisKey, "error", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]byte), false, nil
}

func (c *ClassificationCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *ClassificationCache) get(ctx context.Context, key string) ([]byte, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, errMiss) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

func buildKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

type clientStore struct {
	client *goredis.Client
}

func (s clientStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, errMiss
	}
	return data, err
}

func (s clientStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}
