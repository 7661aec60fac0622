package trailer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache stores resolution outcomes. A zero Ref with found=true records that
// the item has no usable trailer.
type Cache interface {
	Get(ctx context.Context, key string) (ref Ref, found bool, err error)
	Set(ctx context.Context, key string, ref Ref, ttl time.Duration) error
}

type memoryEntry struct {
	ref       Ref
	expiresAt time.Time
}

// MemoryCache is an in-process TTL store.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Ref, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return Ref{}, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		delete(c.items, key)
		return Ref{}, false, nil
	}
	return entry.ref, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, ref Ref, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.items[key] = memoryEntry{ref: ref, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// RedisCache shares resolutions between API replicas.
type RedisCache struct {
	c      *goredis.Client
	prefix string
}

func NewRedisCache(c *goredis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "cinereel:trailer:"
	}
	return &RedisCache{c: c, prefix: prefix}
}

func (r *RedisCache) Get(ctx context.Context, key string) (Ref, bool, error) {
	raw, err := r.c.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Ref{}, false, nil
	}
	if err != nil {
		return Ref{}, false, fmt.Errorf("redis get: %w", err)
	}
	var ref Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return Ref{}, false, fmt.Errorf("decode cached trailer: %w", err)
	}
	return ref, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, ref Ref, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(ref)
	if err != nil {
		return err
	}
	if err := r.c.Set(ctx, r.prefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
