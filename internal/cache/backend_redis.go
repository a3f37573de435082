// Copyright 2025 James Ross
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries as plain Redis keys with native TTLs;
// eviction beyond TTL expiry is delegated to Redis's own policy.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing *redis.Client (shared with the
// queue's Redis backend via internal/redisclient).
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// Keys scans the keyspace with a widened "*" (Redis's own glob has no
// notion of ':' as a namespace separator the way this cache's pattern
// language does) and filters every candidate client-side with
// globMatch for correctness.
func (r *RedisBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, "*", 200).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			matched, err := globMatch(pattern, k)
			if err != nil {
				return nil, err
			}
			if matched {
				out = append(out, k)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Clear deletes every key under namespace (Redis's own "*" crosses ':'
// freely, which is exactly what wiping a whole namespace subtree
// needs).
func (r *RedisBackend) Clear(ctx context.Context, namespace string) error {
	pattern := "*"
	if namespace != "" {
		pattern = namespace + ":*"
	}
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (r *RedisBackend) Close() error { return nil }
