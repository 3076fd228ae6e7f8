package policy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/acgs-bus/pkg/bus"
)

const (
	defaultCacheCapacity = 10_000
	defaultCacheTTL      = 5 * time.Minute
)

// Cache is the policy-decision cache interface. Implementations must be
// safe for concurrent use. Mirrors the in-memory/Redis split the teacher's
// limiter store uses for the same reason: a single-process deployment wants
// a local cache, a fleet wants a shared one.
type Cache interface {
	Get(key string) (*bus.ValidationResult, bool)
	Set(key string, result *bus.ValidationResult)
}

// RistrettoCache is an in-process, bounded, TTL-expiring Cache.
type RistrettoCache struct {
	c   *ristretto.Cache[string, *bus.ValidationResult]
	ttl time.Duration
}

// NewRistrettoCache returns a Cache bounded to defaultCacheCapacity entries
// with a defaultCacheTTL lifetime.
func NewRistrettoCache() (*RistrettoCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *bus.ValidationResult]{
		NumCounters: defaultCacheCapacity * 10,
		MaxCost:     defaultCacheCapacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{c: c, ttl: defaultCacheTTL}, nil
}

// Get implements Cache.
func (r *RistrettoCache) Get(key string) (*bus.ValidationResult, bool) {
	v, ok := r.c.Get(key)
	if !ok {
		return nil, false
	}
	return v, true
}

// Set implements Cache.
func (r *RistrettoCache) Set(key string, result *bus.ValidationResult) {
	r.c.SetWithTTL(key, result, 1, r.ttl)
	r.c.Wait()
}

// RedisCache is a Redis-backed Cache for deployments that want policy
// verdicts shared across instances rather than memoized per-process.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a Cache backed by client with defaultCacheTTL entry
// lifetime. Capacity bounding is left to the Redis deployment's own memory
// policy (e.g. maxmemory-policy allkeys-lru), since Redis has no per-key
// cost budget API analogous to ristretto's.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, ttl: defaultCacheTTL}
}

// Get implements Cache.
func (r *RedisCache) Get(key string) (*bus.ValidationResult, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var result bus.ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

// Set implements Cache.
func (r *RedisCache) Set(key string, result *bus.ValidationResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = r.client.Set(ctx, key, data, r.ttl).Err()
}
