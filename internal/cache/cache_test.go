// Copyright 2025 James Ross
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "hello", 0))
	v, ok, err := Get[string](ctx, c, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestGetMissReturnsFalseNotError(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", time.Minute)
	_, ok, err := Get[string](context.Background(), c, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetRespectsExplicitTTLExpiry(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", 0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)
	_, ok, err := Get[string](ctx, c, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLCombinesAsMax(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", 5*time.Millisecond)
	ctx := context.Background()
	// explicit TTL is smaller than default; default should win
	require.NoError(t, c.Set(ctx, "k", "v", time.Millisecond))
	time.Sleep(2 * time.Millisecond)
	_, ok, err := Get[string](ctx, c, "k")
	require.NoError(t, err)
	assert.True(t, ok, "default TTL should outlive the shorter explicit TTL")
}

func TestDeleteByPatternGlob(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "user:1", "a", 0))
	require.NoError(t, c.Set(ctx, "user:2", "b", 0))
	require.NoError(t, c.Set(ctx, "order:1", "c", 0))

	n, err := c.DeleteByPattern(ctx, "user:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok, _ := Get[string](ctx, c, "order:1")
	assert.True(t, ok)
}

func TestGetOrSetDeduplicatesConcurrentCalls(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", time.Minute)
	var computeCalls int32
	const N = 100
	var ready sync.WaitGroup
	var start sync.WaitGroup
	var done sync.WaitGroup
	ready.Add(N)
	start.Add(1)
	done.Add(N)
	results := make([]int, N)
	for i := 0; i < N; i++ {
		i := i
		go func() {
			defer done.Done()
			ready.Done()
			start.Wait()
			v, err := GetOrSet(context.Background(), c, "shared-key", time.Minute, func(ctx context.Context) (int, error) {
				atomic.AddInt32(&computeCalls, 1)
				time.Sleep(50 * time.Millisecond)
				return 42, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}
	ready.Wait()
	start.Done()
	done.Wait()
	for _, r := range results {
		assert.Equal(t, 42, r)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&computeCalls), "compute must run exactly once for N concurrent callers on an absent key")
}

func TestGlobStarStopsAtNamespaceColon(t *testing.T) {
	b := NewMemoryBackend(100)
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "ns:shallow", []byte("a"), 0))
	require.NoError(t, b.Set(ctx, "ns:sub:deep", []byte("b"), 0))

	keys, err := b.Keys(ctx, "ns:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"ns:shallow"}, keys, "'*' must not cross a ':' boundary")

	keys, err = b.Keys(ctx, "ns:**")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ns:shallow", "ns:sub:deep"}, keys, "'**' must cross ':' boundaries")
}

func TestClearRemovesWholeNamespace(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "b", "2", 0))

	require.NoError(t, c.Clear(ctx, ""))

	_, ok, _ := Get[string](ctx, c, "a")
	assert.False(t, ok)
	_, ok, _ = Get[string](ctx, c, "b")
	assert.False(t, ok)
}

func TestGetOrSetPropagatesComputeError(t *testing.T) {
	c := New(NewMemoryBackend(100), "ns", time.Minute)
	_, err := GetOrSet(context.Background(), c, "k", time.Minute, func(ctx context.Context) (int, error) {
		return 0, fmt.Errorf("boom")
	})
	require.Error(t, err)
	_, ok, _ := Get[int](context.Background(), c, "k")
	assert.False(t, ok, "failed compute must not write a value")
}

func TestRedisBackendRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(NewRedisBackend(client), "ns", time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", "v1", 0))
	v, ok, err := Get[string](ctx, c, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestFileBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(dir)
	require.NoError(t, err)
	c := New(fb, "ns", time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a:1", "v", 0))
	keys, err := c.Keys(ctx, "a:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1"}, keys)
}
