// Copyright 2025 James Ross

// Package breaker implements a per-endpoint circuit breaker: a sliding
// window of recent outcomes gates a Closed/Open/HalfOpen state machine,
// guarding internal/httpclient's transport from hammering a failing
// downstream.
package breaker

import (
	"sync"
	"time"
)

// State is one position in the breaker's state machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

// outcome is one recorded call result, timestamped so Record can evict
// entries that have aged out of the sliding window.
type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker tracks a sliding window of call outcomes for one
// endpoint and trips Open once the failure rate within that window
// crosses failureThresh, provided at least minSamples calls have been
// observed. After cooldown elapses it admits a single HalfOpen probe;
// that probe's outcome alone decides whether to close or re-open.
type CircuitBreaker struct {
	mu sync.Mutex

	window        time.Duration
	cooldown      time.Duration
	failureThresh float64
	minSamples    int

	state          State
	trippedAt      time.Time
	probeInFlight  bool
	windowOutcomes []outcome
}

// New builds a Closed CircuitBreaker with the given window, cooldown,
// failure-rate threshold, and minimum sample count before the threshold
// is evaluated.
func New(window, cooldown time.Duration, failureThresh float64, minSamples int) *CircuitBreaker {
	return &CircuitBreaker{
		window:        window,
		cooldown:      cooldown,
		failureThresh: failureThresh,
		minSamples:    minSamples,
		state:         Closed,
		trippedAt:     time.Now(),
	}
}

// State reports the breaker's current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. Open refuses every call
// until cooldown has elapsed since the trip, at which point it admits
// exactly one HalfOpen probe and refuses further calls until that probe
// resolves via Record.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Open:
		if time.Since(cb.trippedAt) < cb.cooldown {
			return false
		}
		cb.state = HalfOpen
		cb.trippedAt = time.Now()
		cb.probeInFlight = true
		return true
	case HalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	default: // Closed
		return true
	}
}

// Record reports one call's outcome and re-evaluates the breaker's
// state. A HalfOpen probe closes the breaker on success or re-opens it
// on failure; a Closed breaker trips Open once the window's failure
// rate reaches failureThresh, as long as minSamples have accumulated.
func (cb *CircuitBreaker) Record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.windowOutcomes = append(cb.evictStale(now), outcome{at: now, success: success})

	if cb.state == HalfOpen {
		cb.resolveProbe(success, now)
		return
	}

	if len(cb.windowOutcomes) < cb.minSamples {
		return
	}
	if cb.failureRate() >= cb.failureThresh {
		cb.state = Open
		cb.trippedAt = now
	}
}

// evictStale drops every recorded outcome older than the sliding
// window, reusing the backing array.
func (cb *CircuitBreaker) evictStale(now time.Time) []outcome {
	cutoff := now.Add(-cb.window)
	kept := cb.windowOutcomes[:0]
	for _, o := range cb.windowOutcomes {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	return kept
}

func (cb *CircuitBreaker) failureRate() float64 {
	fails := 0
	for _, o := range cb.windowOutcomes {
		if !o.success {
			fails++
		}
	}
	return float64(fails) / float64(len(cb.windowOutcomes))
}

// resolveProbe applies a HalfOpen probe's result: a success closes the
// breaker and clears its window so a fresh sample set starts counting
// the next potential trip; a failure re-opens it for another cooldown.
func (cb *CircuitBreaker) resolveProbe(success bool, now time.Time) {
	cb.probeInFlight = false
	cb.trippedAt = now
	if success {
		cb.state = Closed
		cb.windowOutcomes = nil
		return
	}
	cb.state = Open
}
