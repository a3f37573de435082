// Copyright 2025 James Ross

// Package cache implements a key/value cache-aside layer with stampede
// prevention, TTL combination, namespacing, and pluggable backends.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/singleflight"
)

// ErrBackend is returned when a backend operation fails for reasons
// other than a missing key.
var ErrBackend = errors.New("cache: backend error")

// ErrSerialization is returned when encoding or decoding a cached value
// fails.
var ErrSerialization = errors.New("cache: serialization error")

// Backend is the storage contract a Cache delegates to. Values are
// opaque serialized bytes; the Cache layer owns (de)serialization.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Clear(ctx context.Context, namespace string) error
	Close() error
}

// globMatch reports whether key matches pattern using doublestar glob
// syntax with ':' as the namespace separator: a bare '*' does not
// cross a ':' boundary, while '**' does. doublestar itself only
// special-cases '/' as a path separator, so both operands are
// translated from ':' to '/' before matching.
func globMatch(pattern, key string) (bool, error) {
	return doublestar.Match(strings.ReplaceAll(pattern, ":", "/"), strings.ReplaceAll(key, ":", "/"))
}

// Codec (de)serializes values stored in the cache. JSONCodec is the
// default.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// Cache is a namespaced, TTL-aware key/value store backed by Backend,
// with in-process stampede prevention for GetOrSet.
type Cache struct {
	backend    Backend
	codec      Codec
	namespace  string
	defaultTTL time.Duration
	group      singleflight.Group
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithCodec overrides the default JSON codec.
func WithCodec(c Codec) Option { return func(ca *Cache) { ca.codec = c } }

// New builds a Cache over backend, namespaced under ns with defaultTTL
// applied whenever Set is called without an explicit TTL.
func New(backend Backend, ns string, defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{backend: backend, codec: JSONCodec{}, namespace: ns, defaultTTL: defaultTTL}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) namespaced(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// combineTTL is the cache's TTL monoid: the larger of two bounds wins,
// so a caller-supplied TTL never shortens the backend default.
func combineTTL(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// Get looks up key and decodes it into a value of type T. The boolean
// return is false for both a backend miss and an expired entry; a
// decode failure is reported as an error, never a silent miss.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T
	raw, ok, err := c.backend.Get(ctx, c.namespaced(key))
	if err != nil {
		return zero, false, errJoin(ErrBackend, err)
	}
	if !ok {
		return zero, false, nil
	}
	var out T
	if err := c.codec.Decode(raw, &out); err != nil {
		return zero, false, errJoin(ErrSerialization, err)
	}
	return out, true, nil
}

// Set stores value under key with the larger of ttl and the cache's
// default TTL. Passing ttl<=0 uses the default alone.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := c.codec.Encode(value)
	if err != nil {
		return errJoin(ErrSerialization, err)
	}
	effective := combineTTL(ttl, c.defaultTTL)
	if err := c.backend.Set(ctx, c.namespaced(key), raw, effective); err != nil {
		return errJoin(ErrBackend, err)
	}
	return nil
}

// Delete removes key, if present.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, c.namespaced(key)); err != nil {
		return errJoin(ErrBackend, err)
	}
	return nil
}

// Has reports whether key is currently present and unexpired.
func (c *Cache) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.backend.Get(ctx, c.namespaced(key))
	if err != nil {
		return false, errJoin(ErrBackend, err)
	}
	return ok, nil
}

// Keys lists namespaced keys matching a doublestar glob pattern, with
// the namespace prefix stripped from results.
func (c *Cache) Keys(ctx context.Context, pattern string) ([]string, error) {
	full := c.namespaced(pattern)
	keys, err := c.backend.Keys(ctx, full)
	if err != nil {
		return nil, errJoin(ErrBackend, err)
	}
	out := make([]string, len(keys))
	prefix := c.namespace + ":"
	for i, k := range keys {
		if c.namespace != "" && len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out[i] = k[len(prefix):]
		} else {
			out[i] = k
		}
	}
	return out, nil
}

// DeleteByPattern deletes every key matching pattern and returns the
// count removed.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	keys, err := c.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := c.Delete(ctx, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// Clear removes every key under namespace ns, or the cache's own
// configured namespace if ns is "".
func (c *Cache) Clear(ctx context.Context, ns string) error {
	if ns == "" {
		ns = c.namespace
	}
	if err := c.backend.Clear(ctx, ns); err != nil {
		return errJoin(ErrBackend, err)
	}
	return nil
}

// Close releases the underlying backend.
func (c *Cache) Close() error { return c.backend.Close() }

func errJoin(sentinel, cause error) error {
	return &wrappedErr{sentinel: sentinel, cause: cause}
}

type wrappedErr struct {
	sentinel error
	cause    error
}

func (w *wrappedErr) Error() string { return w.sentinel.Error() + ": " + w.cause.Error() }
func (w *wrappedErr) Unwrap() []error { return []error{w.sentinel, w.cause} }
