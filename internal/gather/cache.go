package gather

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"oracle-orchestrator/internal/provider"
)

const lkgKeyPrefix = "gather:lkg:"

// ResultCache stores each context provider's last-known-good result, used
// as the substitute when a provider times out or fails during fan-out.
type ResultCache interface {
	Get(ctx context.Context, providerID string) *provider.Result
	Put(ctx context.Context, providerID string, res *provider.Result)
}

// RedisResultCache persists last-known-good results in Redis with a TTL.
type RedisResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisResultCache(client *redis.Client, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{client: client, ttl: ttl}
}

func (c *RedisResultCache) Get(ctx context.Context, providerID string) *provider.Result {
	data, err := c.client.Get(ctx, lkgKeyPrefix+providerID).Bytes()
	if err != nil {
		return nil
	}
	var res provider.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil
	}
	return &res
}

func (c *RedisResultCache) Put(ctx context.Context, providerID string, res *provider.Result) {
	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, lkgKeyPrefix+providerID, data, c.ttl).Err()
}

// MemoryResultCache is the zero-dependency default used in tests.
type MemoryResultCache struct {
	mu      sync.RWMutex
	results map[string]provider.Result
}

func NewMemoryResultCache() *MemoryResultCache {
	return &MemoryResultCache{results: make(map[string]provider.Result)}
}

func (c *MemoryResultCache) Get(_ context.Context, providerID string) *provider.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.results[providerID]
	if !ok {
		return nil
	}
	cp := res
	return &cp
}

func (c *MemoryResultCache) Put(_ context.Context, providerID string, res *provider.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[providerID] = *res
}
