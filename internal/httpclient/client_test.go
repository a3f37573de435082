// Copyright 2025 James Ross
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flyingrobots/djed/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(config.LiteralSource(map[string]any{
		"http_client": map[string]any{
			"retry_attempts":            3,
			"retry_base_delay":          time.Millisecond,
			"retry_max_delay":           5 * time.Millisecond,
			"retry_jitter":              time.Duration(0),
			"breaker_failure_threshold": 0.5,
			"breaker_window":            time.Second,
			"breaker_cooldown_period":   20 * time.Millisecond,
			"breaker_min_samples":       2,
		},
	}))
	require.NoError(t, err)
	return cfg
}

func TestDoSucceedsOnFirstTry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(testConfig(t), zap.NewNop())
	resp, err := c.Do(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "ok", string(resp.Body))
}

func TestDoRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testConfig(t), zap.NewNop())
	resp, err := c.Do(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestDoDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(testConfig(t), zap.NewNop())
	_, err := c.Do(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestBreakerOpensAndRejectsWithoutTouchingTransport(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.HTTPClient.RetryAttempts = 1
	c := New(cfg, zap.NewNop())
	d := Descriptor{Method: http.MethodGet, URL: srv.URL, EndpointKey: "test-endpoint"}

	for i := 0; i < 2; i++ {
		_, _ = c.Do(context.Background(), d)
	}
	before := atomic.LoadInt32(&calls)

	_, err := c.Do(context.Background(), d)
	require.Error(t, err)
	_, isOpen := err.(*CircuitOpenError)
	assert.True(t, isOpen)
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestDefaultEndpointKeyIgnoresQueryAndTemplatizesPath(t *testing.T) {
	d1 := Descriptor{Method: http.MethodGet, URL: "https://api.example.com/users/1?trace=abc"}
	d2 := Descriptor{Method: http.MethodGet, URL: "https://api.example.com/users/2?trace=xyz"}
	assert.Equal(t, d1.endpointKey(), d2.endpointKey(), "distinct query strings and numeric IDs must share one endpoint key")
	assert.Equal(t, "GET api.example.com/users/{id}", d1.endpointKey())

	d3 := Descriptor{Method: http.MethodGet, URL: "https://api.example.com/orders/1"}
	assert.NotEqual(t, d1.endpointKey(), d3.endpointKey(), "distinct path templates must not collide")
}

func TestBreakerScopesToDefaultEndpointKeyAcrossQueryStrings(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.HTTPClient.RetryAttempts = 1
	c := New(cfg, zap.NewNop())

	for i := 0; i < 2; i++ {
		_, _ = c.Do(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL + fmt.Sprintf("?n=%d", i)})
	}
	before := atomic.LoadInt32(&calls)

	_, err := c.Do(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL + "?n=99"})
	require.Error(t, err)
	_, isOpen := err.(*CircuitOpenError)
	assert.True(t, isOpen, "requests differing only by query string must share one breaker")
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestEventsEmittedPerAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(testConfig(t), zap.NewNop())
	var events []Event
	c.Events.On(func(e Event) { events = append(events, e) })
	_, err := c.Do(context.Background(), Descriptor{Method: http.MethodGet, URL: srv.URL, EndpointKey: "ep"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, OutcomeSuccess, events[0].Outcome)
}
