package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/redis/go-redis/v9"
)

var ErrCacheMiss = errors.New("cache miss")

const scanBatchSize = 500

// RedisCache is the TTL cache backed by redis.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	return raw, nil
}

// PushCapped prepends value to the list at key, keeps the newest maxLen
// entries and refreshes the list TTL, atomically.
func (c *RedisCache) PushCapped(ctx context.Context, key string, value []byte, maxLen int64, ttl time.Duration) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, maxLen-1)
		pipe.PExpire(ctx, key, ttl)
		return nil
	})

	return err
}

func (c *RedisCache) RangeList(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	values, err := c.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}

	result := make([][]byte, 0, len(values))
	for _, v := range values {
		result = append(result, []byte(v))
	}

	return result, nil
}

func (c *RedisCache) CountKeys(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor uint64
		count  int64
	)

	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", scanBatchSize).Result()
		if err != nil {
			return 0, err
		}
		count += int64(len(keys))
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

type memoryEntry struct {
	value []byte
	list  [][]byte
}

// MemoryCache is an in-process TTL cache with the same semantics as RedisCache.
type MemoryCache struct {
	// serialises read-modify-write on lists
	mu        sync.Mutex
	items     *ttlcache.Cache[string, memoryEntry]
	closeOnce sync.Once
}

func NewMemoryCache() *MemoryCache {
	items := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, memoryEntry](),
	)
	go items.Start()

	return &MemoryCache{items: items}
}

func (c *MemoryCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.items.Set(key, memoryEntry{value: append([]byte(nil), value...)}, memoryTTL(ttl))
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	item := c.items.Get(key)
	if item == nil || item.Value().value == nil {
		return nil, ErrCacheMiss
	}

	return append([]byte(nil), item.Value().value...), nil
}

func (c *MemoryCache) PushCapped(_ context.Context, key string, value []byte, maxLen int64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var list [][]byte
	if item := c.items.Get(key); item != nil {
		list = item.Value().list
	}

	list = append([][]byte{append([]byte(nil), value...)}, list...)
	if maxLen > 0 && int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	c.items.Set(key, memoryEntry{list: list}, memoryTTL(ttl))

	return nil
}

// RangeList follows LRANGE semantics, including negative indexes.
func (c *MemoryCache) RangeList(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	item := c.items.Get(key)
	if item == nil {
		return [][]byte{}, nil
	}

	list := item.Value().list
	n := int64(len(list))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return [][]byte{}, nil
	}

	result := make([][]byte, 0, stop-start+1)
	for _, v := range list[start : stop+1] {
		result = append(result, append([]byte(nil), v...))
	}

	return result, nil
}

func (c *MemoryCache) CountKeys(_ context.Context, prefix string) (int64, error) {
	var count int64
	for key, item := range c.items.Items() {
		if strings.HasPrefix(key, prefix) && !item.IsExpired() {
			count++
		}
	}

	return count, nil
}

func (c *MemoryCache) Ping(context.Context) error {
	return nil
}

func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		c.items.Stop()
		c.items.DeleteAll()
	})
	return nil
}

func memoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ttlcache.NoTTL
	}
	return ttl
}
