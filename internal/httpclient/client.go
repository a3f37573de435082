// Copyright 2025 James Ross
package httpclient

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/flyingrobots/djed/internal/breaker"
	"github.com/flyingrobots/djed/internal/config"
	"github.com/flyingrobots/djed/internal/obs"
	"go.uber.org/zap"
)

// Response is the outcome of a successful (possibly after retries) call.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// RequestInterceptor transforms or rejects a Descriptor before it is
// sent. Interceptors run in registration order.
type RequestInterceptor func(Descriptor) (Descriptor, error)

// ResponseInterceptor observes or transforms the outcome of a request.
// err is non-nil when the pipeline ultimately failed.
type ResponseInterceptor func(*Response, error) (*Response, error)

// Client executes Descriptors through interceptors, a circuit breaker
// per endpoint, and a configurable retry policy.
type Client struct {
	transport    *http.Client
	breakers     *breaker.Registry
	logger       *zap.Logger
	defaultRetry RetryPolicy
	reqInts      []RequestInterceptor
	respInts     []ResponseInterceptor
	Events       *Emitter
}

// New builds a Client wired to cfg's HTTP client defaults and breaker
// thresholds, with its own private breaker.Registry.
func New(cfg *config.Config, logger *zap.Logger) *Client {
	bt := BackoffExponential
	if cfg.HTTPClient.RetryBackoffType == "fixed" {
		bt = BackoffFixed
	}
	return &Client{
		transport: &http.Client{Timeout: cfg.HTTPClient.Timeout},
		breakers: breaker.NewRegistry(
			cfg.HTTPClient.BreakerWindow,
			cfg.HTTPClient.BreakerCooldownPeriod,
			cfg.HTTPClient.BreakerFailureThreshold,
			cfg.HTTPClient.BreakerMinSamples,
		),
		logger: logger,
		defaultRetry: RetryPolicy{
			Attempts:    cfg.HTTPClient.RetryAttempts,
			BackoffType: bt,
			BaseDelay:   cfg.HTTPClient.RetryBaseDelay,
			MaxDelay:    cfg.HTTPClient.RetryMaxDelay,
			Jitter:      cfg.HTTPClient.RetryJitter,
		},
		Events: &Emitter{},
	}
}

// Use registers a request interceptor, applied in registration order.
func (c *Client) Use(ri RequestInterceptor) { c.reqInts = append(c.reqInts, ri) }

// UseResponse registers a response interceptor, applied in registration order.
func (c *Client) UseResponse(ri ResponseInterceptor) { c.respInts = append(c.respInts, ri) }

// Breakers exposes the client's private registry for diagnostics.
func (c *Client) Breakers() *breaker.Registry { return c.breakers }

// delay computes the wait after failed attempt number attempt.
// Exponential backoff is driven by cenkalti/backoff's ExponentialBackOff,
// the library internal/queue also uses for job retries, and yields
// BaseDelay × 2^(attempt−1), capped at MaxDelay, with the policy's own
// Jitter added on top instead of the library's randomization.
func (c *Client) delay(policy RetryPolicy, attempt int) time.Duration {
	var d time.Duration
	switch policy.BackoffType {
	case BackoffFixed:
		d = policy.BaseDelay
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = policy.BaseDelay
		b.Multiplier = 2
		b.RandomizationFactor = 0
		b.MaxInterval = time.Duration(math.MaxInt64)
		b.Reset()
		for i := 1; i <= attempt; i++ {
			d = b.NextBackOff()
		}
	}
	if policy.MaxDelay > 0 && d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if policy.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(policy.Jitter) + 1))
	}
	return d
}

// Do runs descriptor through the full pipeline: request interceptors,
// breaker check, transport with retries, response interceptors.
func (c *Client) Do(ctx context.Context, d Descriptor) (*Response, error) {
	for _, ri := range c.reqInts {
		nd, err := ri(d)
		if err != nil {
			return c.finish(nil, &SerializationError{Cause: err})
		}
		d = nd
	}

	policy := d.RetryPolicy
	if policy.Attempts == 0 {
		policy = c.defaultRetry
	}
	key := d.endpointKey()
	cb := c.breakers.Get(key)

	if !cb.Allow() {
		c.Events.emit(Event{EndpointKey: key, Outcome: OutcomeCircuitOpen})
		return c.finish(nil, &CircuitOpenError{EndpointKey: key})
	}

	var resp *Response
	var lastErr error
attempts:
	for attempt := 1; attempt <= maxInt(policy.Attempts, 1); attempt++ {
		if ctx.Err() != nil {
			lastErr = &CancelledError{Cause: ctx.Err()}
			break
		}
		start := time.Now()
		r, err := c.attempt(ctx, d)
		elapsed := time.Since(start)

		if err == nil {
			cb.Record(true)
			c.Events.emit(Event{EndpointKey: key, Attempt: attempt, Status: r.Status, Duration: elapsed, Outcome: OutcomeSuccess})
			resp = r
			lastErr = nil
			break
		}

		cb.Record(false)
		retryable := isRetryable(err)
		outcome := OutcomeTerminalFailure
		if retryable {
			outcome = OutcomeRetryableFailure
		}
		status := 0
		if ne, ok := err.(*Non2xxError); ok {
			status = ne.Status
		}
		c.Events.emit(Event{EndpointKey: key, Attempt: attempt, Status: status, Duration: elapsed, Outcome: outcome})
		lastErr = err

		if !retryable || attempt == policy.Attempts {
			break
		}
		timer := time.NewTimer(c.delay(policy, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = &CancelledError{Cause: ctx.Err()}
			break attempts
		case <-timer.C:
		}
	}

	if lastErr != nil {
		return c.finish(nil, lastErr)
	}
	return c.finish(resp, nil)
}

func (c *Client) attempt(ctx context.Context, d Descriptor) (*Response, error) {
	timeout := d.Timeout
	reqCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := d.toRequest()
	if err != nil {
		return nil, &SerializationError{Cause: err}
	}
	req = req.WithContext(reqCtx)

	httpResp, err := c.transport.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, &TimeoutError{Cause: err}
		}
		return nil, &NetworkError{Cause: err}
	}
	defer httpResp.Body.Close()
	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &NetworkError{Cause: err}
	}

	resp := &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: body}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &Non2xxError{Status: httpResp.StatusCode, Body: body}
	}
	return resp, nil
}

func (c *Client) finish(resp *Response, err error) (*Response, error) {
	for _, ri := range c.respInts {
		resp, err = ri(resp, err)
	}
	if err != nil && c.logger != nil {
		c.logger.Debug("httpclient request failed", obs.Err(err))
	}
	return resp, err
}

func isRetryable(err error) bool {
	switch e := err.(type) {
	case *NetworkError, *TimeoutError:
		return true
	case *Non2xxError:
		return isRetryableStatus(e.Status)
	default:
		return false
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
