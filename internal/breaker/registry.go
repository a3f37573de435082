// Copyright 2025 James Ross
package breaker

import (
	"sync"
	"time"
)

// Registry owns one CircuitBreaker per endpoint key. It is meant to be
// held by a single httpclient.Client instance, never shared as a
// package-level global.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	window   time.Duration
	cooldown time.Duration
	failure  float64
	minSamp  int
}

// NewRegistry builds a Registry that lazily creates a CircuitBreaker per
// key using the given thresholds.
func NewRegistry(window, cooldown time.Duration, failureThresh float64, minSamples int) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		window:   window,
		cooldown: cooldown,
		failure:  failureThresh,
		minSamp:  minSamples,
	}
}

// Get returns the CircuitBreaker for key, creating it on first use.
func (reg *Registry) Get(key string) *CircuitBreaker {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	cb, ok := reg.breakers[key]
	if !ok {
		cb = New(reg.window, reg.cooldown, reg.failure, reg.minSamp)
		reg.breakers[key] = cb
	}
	return cb
}

// Snapshot returns the current state of every known breaker, for
// diagnostics/metrics export.
func (reg *Registry) Snapshot() map[string]State {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	out := make(map[string]State, len(reg.breakers))
	for k, cb := range reg.breakers {
		out[k] = cb.State()
	}
	return out
}
