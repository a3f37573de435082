// Copyright 2025 James Ross

// Package httpclient implements an HTTP request pipeline with
// interceptors, a configurable retry policy, and a per-endpoint circuit
// breaker guarding the underlying transport.
package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackoffType selects how Descriptor.RetryPolicy spaces out attempts.
type BackoffType int

const (
	BackoffFixed BackoffType = iota
	BackoffExponential
)

// RetryPolicy controls how many attempts a Descriptor gets and how long
// the client waits between them.
type RetryPolicy struct {
	Attempts    int
	BackoffType BackoffType
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// Descriptor is an immutable description of one logical HTTP call.
// Interceptors return a new Descriptor rather than mutating this one.
type Descriptor struct {
	Method      string
	URL         string
	Header      http.Header
	Body        []byte
	Timeout     time.Duration
	RetryPolicy RetryPolicy
	EndpointKey string
}

// WithHeader returns a copy of d with header k set to v.
func (d Descriptor) WithHeader(k, v string) Descriptor {
	h := d.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(k, v)
	d.Header = h
	return d
}

// WithBody returns a copy of d carrying a new body.
func (d Descriptor) WithBody(body []byte) Descriptor {
	d.Body = body
	return d
}

// endpointKey is the key the breaker and retry policy scope their state
// to. Defaulting to the raw URL would give every distinct query string
// or resource ID its own breaker/retry budget, so the fallback strips
// the query string and templatizes dynamic path segments, leaving
// Method + host + path-template.
func (d Descriptor) endpointKey() string {
	if d.EndpointKey != "" {
		return d.EndpointKey
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return d.Method + " " + d.URL
	}
	return d.Method + " " + u.Host + templatizePath(u.Path)
}

// templatizePath replaces path segments that look like dynamic
// resource identifiers (integers, UUIDs) with a stable placeholder, so
// e.g. "/users/1" and "/users/2" collapse onto the same template.
func templatizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isDynamicSegment(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isDynamicSegment(seg string) bool {
	if seg == "" {
		return false
	}
	if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
		return true
	}
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	return false
}

func (d Descriptor) toRequest() (*http.Request, error) {
	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}
	req, err := http.NewRequest(d.Method, d.URL, body)
	if err != nil {
		return nil, err
	}
	if d.Header != nil {
		req.Header = d.Header.Clone()
	}
	return req, nil
}
