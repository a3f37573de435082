// Copyright 2025 James Ross
package queue

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/flyingrobots/djed/internal/effect"
	"github.com/flyingrobots/djed/internal/obs"
	"go.uber.org/zap"
)

// ErrClosed is returned by Add/AddBulk once Close has been called.
var ErrClosed = errors.New("queue: closed")

// ErrJobTimeout is the failure recorded when a handler does not
// complete within its Job's Options.Timeout.
var ErrJobTimeout = errors.New("queue: job handler timed out")

// Handler processes one job, returning an Effect whose Run outcome
// drives the job's completion/failure path. Process runs it with a nil
// environment.
type Handler func(ctx context.Context, job Job) effect.Effect[any, error, struct{}]

// Queue is the producer- and worker-facing API over a Backend: it adds
// jobs, drives Process loops against them, and exposes pause/DLQ/clean
// operations, emitting synchronous lifecycle Events throughout.
type Queue struct {
	Name    string
	Events  *Emitter
	backend Backend
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// New builds a Queue named name over backend.
func New(name string, backend Backend, log *zap.Logger) *Queue {
	return &Queue{Name: name, Events: &Emitter{}, backend: backend, log: log}
}

// Add persists a new job and emits job:added.
func (q *Queue) Add(ctx context.Context, payload []byte, priority int, delay time.Duration, opts Options) (Job, error) {
	if q.isClosed() {
		return Job{}, ErrClosed
	}
	job := NewJob(payload, priority, delay, opts)
	if delay > 0 {
		job.Status = StatusDelayed
	}
	if err := q.backend.Enqueue(ctx, q.Name, job); err != nil {
		return Job{}, err
	}
	obs.JobsAdded.WithLabelValues(q.Name).Inc()
	q.Events.emit(Event{Type: EventJobAdded, Job: job})
	return job, nil
}

// AddBulk adds every payload as its own job. When the backend
// implements BulkEnqueuer the batch is persisted atomically; otherwise
// each job is enqueued one at a time, in order.
func (q *Queue) AddBulk(ctx context.Context, payloads [][]byte, priority int, delay time.Duration, opts Options) ([]Job, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}
	jobs := make([]Job, len(payloads))
	for i, p := range payloads {
		job := NewJob(p, priority, delay, opts)
		if delay > 0 {
			job.Status = StatusDelayed
		}
		jobs[i] = job
	}
	if bulk, ok := q.backend.(BulkEnqueuer); ok {
		if err := bulk.EnqueueBulk(ctx, q.Name, jobs); err != nil {
			return nil, err
		}
	} else {
		for _, job := range jobs {
			if err := q.backend.Enqueue(ctx, q.Name, job); err != nil {
				return nil, err
			}
		}
	}
	for _, job := range jobs {
		obs.JobsAdded.WithLabelValues(q.Name).Inc()
		q.Events.emit(Event{Type: EventJobAdded, Job: job})
	}
	return jobs, nil
}

// Process reserves jobs and runs handler against at most concurrency of
// them at a time, until ctx is done. Reservation polls the backend
// between empty results; a backend that can push would let this loop
// block instead, but every Backend here is poll-based.
func (q *Queue) Process(ctx context.Context, handler Handler, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	const pollInterval = 20 * time.Millisecond
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	drained := false

	for {
		if ctx.Err() != nil {
			wg.Wait()
			return ctx.Err()
		}

		job, err := q.backend.Reserve(ctx, q.Name)
		if err != nil {
			q.Events.emit(Event{Type: EventQueueError, Error: err})
			if q.log != nil {
				q.log.Warn("queue: reserve failed", obs.String("queue", q.Name), obs.Err(err))
			}
			sleepOrDone(ctx, pollInterval)
			continue
		}
		if job == nil {
			if !drained {
				if depth, derr := q.backend.Depth(ctx, q.Name); derr == nil && depth == 0 {
					q.Events.emit(Event{Type: EventQueueDrained})
					drained = true
				}
			}
			sleepOrDone(ctx, pollInterval)
			continue
		}
		drained = false

		sem <- struct{}{}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }()
			q.runOne(ctx, handler, j)
		}(*job)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// runOne drives one reserved job through handler and its resulting
// state transition. It never returns an error: failures are recorded on
// the job and surfaced only through Events and the backend.
func (q *Queue) runOne(ctx context.Context, handler Handler, job Job) {
	job.Status = StatusActive
	q.Events.emit(Event{Type: EventJobActive, Job: job})

	start := time.Now()
	eff := handler(ctx, job)
	if job.Options.Timeout > 0 {
		eff = effect.Timeout(eff, job.Options.Timeout, func() error { return ErrJobTimeout })
	}
	res := eff.Run(ctx, nil)
	obs.JobProcessingDuration.WithLabelValues(q.Name).Observe(time.Since(start).Seconds())

	if res.IsOk() {
		if err := q.backend.Ack(ctx, q.Name, job); err != nil && q.log != nil {
			q.log.Warn("queue: ack failed", obs.String("job", job.ID), obs.Err(err))
		}
		job.Status = StatusCompleted
		obs.JobsCompleted.WithLabelValues(q.Name).Inc()
		value, _ := res.Get()
		q.Events.emit(Event{Type: EventJobCompleted, Job: job, Result: value})
		return
	}

	failErr, _ := res.GetErr()
	job.Attempts = append(job.Attempts, Attempt{
		N:         len(job.Attempts) + 1,
		Timestamp: time.Now().UTC(),
		Error:     failErr.Error(),
	})

	if job.exhausted() {
		job.Status = StatusFailed
		if err := q.backend.DeadLetter(ctx, q.Name, job); err != nil && q.log != nil {
			q.log.Warn("queue: dead-letter failed", obs.String("job", job.ID), obs.Err(err))
		}
		obs.JobsFailed.WithLabelValues(q.Name).Inc()
		obs.JobsDeadLettered.WithLabelValues(q.Name).Inc()
		q.Events.emit(Event{Type: EventJobFailed, Job: job, Error: failErr})
		return
	}

	job.Status = StatusWaiting
	dueAt := time.Now().Add(backoffDelay(job))
	if err := q.backend.Nack(ctx, q.Name, job, dueAt); err != nil && q.log != nil {
		q.log.Warn("queue: nack failed", obs.String("job", job.ID), obs.Err(err))
	}
	obs.JobsRetried.WithLabelValues(q.Name).Inc()
	q.Events.emit(Event{Type: EventJobFailed, Job: job, Error: failErr})
}

// backoffDelay computes the wait before the next attempt from a job's
// Backoff policy. Exponential backoff is driven by cenkalti/backoff's
// ExponentialBackOff, the library HTTP retries also use, without jitter:
// the first two retries wait the base delay and each later retry waits
// twice as long as the one before.
func backoffDelay(job Job) time.Duration {
	base := time.Duration(job.Options.Backoff.DelayMs) * time.Millisecond
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if job.Options.Backoff.Type != BackoffExponential {
		return base
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.Reset()

	delay := base
	for i := 1; i < job.attemptsUsed(); i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Pause latches the queue so Reserve yields nothing until Resume.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.backend.Pause(ctx, q.Name); err != nil {
		return err
	}
	q.Events.emit(Event{Type: EventQueuePaused})
	return nil
}

// Resume undoes Pause.
func (q *Queue) Resume(ctx context.Context) error {
	if err := q.backend.Resume(ctx, q.Name); err != nil {
		return err
	}
	q.Events.emit(Event{Type: EventQueueResumed})
	return nil
}

// IsPaused reports the current pause state.
func (q *Queue) IsPaused(ctx context.Context) (bool, error) {
	return q.backend.IsPaused(ctx, q.Name)
}

// Depth returns the number of waiting+delayed jobs and records it to
// the queue_depth gauge.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	d, err := q.backend.Depth(ctx, q.Name)
	if err != nil {
		return 0, err
	}
	obs.QueueDepth.WithLabelValues(q.Name).Set(float64(d))
	return d, nil
}

// GetFailedJobs returns up to limit dead-lettered jobs, most recent
// first. limit<=0 returns all of them.
func (q *Queue) GetFailedJobs(ctx context.Context, limit int) ([]Job, error) {
	return q.backend.FailedJobs(ctx, q.Name, limit)
}

// RetryFailed moves a dead-lettered job back to waiting, resetting its
// attempts.
func (q *Queue) RetryFailed(ctx context.Context, jobID string) error {
	return q.backend.RequeueFailed(ctx, q.Name, jobID)
}

// Clean removes terminal (dead-lettered) jobs older than grace.
func (q *Queue) Clean(ctx context.Context, grace time.Duration) (int, error) {
	return q.backend.Clean(ctx, q.Name, grace)
}

// Close marks the queue closed, rejecting further Add/AddBulk calls,
// and releases the backend.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.backend.Close()
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
