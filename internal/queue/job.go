// Copyright 2025 James Ross

// Package queue implements a priority + delayed job queue with a
// pluggable backend, retry with backoff, a dead-letter queue, and a
// synchronous lifecycle event stream.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is a job's position in its lifecycle state machine.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDelayed   Status = "delayed"
	StatusPaused    Status = "paused"
)

// BackoffType selects how retries between attempts are spaced.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff configures retry spacing for a job's Options.
type Backoff struct {
	Type    BackoffType   `json:"type"`
	DelayMs int64         `json:"delay_ms"`
}

// Options configures one job's retry and cleanup behavior.
type Options struct {
	Attempts         int     `json:"attempts"`
	Timeout          time.Duration `json:"timeout"`
	Backoff          Backoff `json:"backoff"`
	RemoveOnComplete bool    `json:"remove_on_complete"`
	RemoveOnFail     bool    `json:"remove_on_fail"`
}

// Attempt records one execution of a job.
type Attempt struct {
	N         int       `json:"n"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// Job is the unit of work managed by a Queue.
type Job struct {
	ID        string        `json:"id"`
	Payload   []byte        `json:"payload"`
	Priority  int           `json:"priority"`
	Delay     time.Duration `json:"delay"`
	Status    Status        `json:"status"`
	Attempts  []Attempt     `json:"attempts"`
	Options   Options       `json:"options"`
	CreatedAt time.Time     `json:"created_at"`
	DueAt     time.Time     `json:"due_at"`
}

// NewJob builds a Job ready to be added to a Queue.
func NewJob(payload []byte, priority int, delay time.Duration, opts Options) Job {
	now := time.Now().UTC()
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	return Job{
		ID:        uuid.NewString(),
		Payload:   payload,
		Priority:  priority,
		Delay:     delay,
		Status:    StatusWaiting,
		Options:   opts,
		CreatedAt: now,
		DueAt:     now.Add(delay),
	}
}

// Marshal serializes a Job to JSON for backend storage.
func (j Job) Marshal() ([]byte, error) { return json.Marshal(j) }

// UnmarshalJob deserializes a Job previously produced by Marshal.
func UnmarshalJob(data []byte) (Job, error) {
	var j Job
	err := json.Unmarshal(data, &j)
	return j, err
}

// attemptsUsed is the number of attempts recorded so far.
func (j Job) attemptsUsed() int { return len(j.Attempts) }

// exhausted reports whether the job has used all its configured attempts.
func (j Job) exhausted() bool { return j.attemptsUsed() >= j.Options.Attempts }
