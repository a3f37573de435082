// Copyright 2025 James Ross
package cache

import (
	"context"
	"time"

	"github.com/flyingrobots/djed/internal/obs"
)

// GetOrSet implements cache-aside with stampede prevention: concurrent
// callers for the same absent key share one in-flight call to compute.
// A compute failure propagates to every waiter and nothing is written.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok, err := Get[T](ctx, c, key); err != nil {
		var zero T
		return zero, err
	} else if ok {
		obs.CacheHits.WithLabelValues(c.namespace).Inc()
		return v, nil
	}
	obs.CacheMisses.WithLabelValues(c.namespace).Inc()

	type outcome struct {
		value T
		err   error
	}
	sfKey := c.namespaced(key)
	res, err, shared := c.group.Do(sfKey, func() (any, error) {
		v, err := compute(ctx)
		if err != nil {
			return outcome{err: err}, nil
		}
		if setErr := c.Set(ctx, key, v, ttl); setErr != nil {
			return outcome{value: v, err: setErr}, nil
		}
		return outcome{value: v}, nil
	})
	if shared {
		obs.CacheStampedesAvoided.WithLabelValues(c.namespace).Inc()
	}
	if err != nil {
		var zero T
		return zero, err
	}
	o := res.(outcome)
	return o.value, o.err
}
