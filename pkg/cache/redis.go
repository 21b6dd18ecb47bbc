package cache

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces cache keys inside a shared Redis database.
const DefaultRedisPrefix = "inat:cache:"

const backendRedis = "redis"

// RedisStore keeps entries in Redis without TTL. Durability follows the
// server's persistence settings (AOF/RDB).
type RedisStore struct {
	redis  *redis.Client
	prefix string
}

// NewRedisStore creates a store on redisClient using DefaultRedisPrefix.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return NewRedisStoreWithPrefix(redisClient, DefaultRedisPrefix)
}

// NewRedisStoreWithPrefix creates a store whose keys live under prefix.
func NewRedisStoreWithPrefix(redisClient *redis.Client, prefix string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

// Get retrieves the value stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (json.RawMessage, error) {
	entry, err := s.Entry(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Value, nil
}

// Entry retrieves the stored entry for key.
func (s *RedisStore) Entry(ctx context.Context, key string) (*Entry, error) {
	data, err := s.redis.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			CacheMisses.WithLabelValues(backendRedis).Inc()
			return nil, ErrCacheMiss
		}
		return nil, storageError(backendRedis, "get", key, err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "get").Inc()
		return nil, err
	}

	CacheHits.WithLabelValues(backendRedis).Inc()
	return entry, nil
}

// Put stores value under key with no expiry.
func (s *RedisStore) Put(ctx context.Context, key string, value json.RawMessage) error {
	data, err := encodeEntry(value)
	if err != nil {
		CacheErrors.WithLabelValues(backendRedis, "put").Inc()
		return err
	}

	if err := s.redis.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return storageError(backendRedis, "put", key, err)
	}

	CacheWriteBytes.WithLabelValues(backendRedis).Add(float64(len(data)))
	return nil
}

// Delete removes a cache entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.prefix+key).Err(); err != nil {
		return storageError(backendRedis, "delete", key, err)
	}
	return nil
}

// Clear removes every key under the store prefix. Other keys in the same
// Redis database are left alone.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys, err := s.scan(ctx)
	if err != nil {
		return storageError(backendRedis, "clear", "", err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := s.redis.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storageError(backendRedis, "clear", "", err)
	}
	return nil
}

// Keys lists the stored keys without the prefix.
func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx)
	if err != nil {
		return nil, storageError(backendRedis, "keys", "", err)
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStore) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
