// Copyright 2025 James Ross
package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/djed/internal/effect"
)

func succeedHandler() Handler {
	return func(ctx context.Context, job Job) effect.Effect[any, error, struct{}] {
		return effect.Succeed[any, error, struct{}](struct{}{})
	}
}

func failHandler(err error) Handler {
	return func(ctx context.Context, job Job) effect.Effect[any, error, struct{}] {
		return effect.Fail[any, error, struct{}](err)
	}
}

func TestAddEmitsJobAdded(t *testing.T) {
	q := New("q", NewMemoryBackend(), nil)
	var got Event
	q.Events.On(EventJobAdded, func(e Event) { got = e })

	job, err := q.Add(context.Background(), []byte("payload"), 0, 0, Options{Attempts: 1})
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.Job.ID)
}

func TestPriorityThenFIFOOrdering(t *testing.T) {
	backend := NewMemoryBackend()
	q := New("q", backend, nil)
	ctx := context.Background()

	a, err := q.Add(ctx, []byte("A"), 1, 0, Options{Attempts: 1})
	require.NoError(t, err)
	b, err := q.Add(ctx, []byte("B"), 5, 0, Options{Attempts: 1})
	require.NoError(t, err)
	c, err := q.Add(ctx, []byte("C"), 5, 50*time.Millisecond, Options{Attempts: 1})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})

	handler := func(ctx context.Context, job Job) effect.Effect[any, error, struct{}] {
		mu.Lock()
		order = append(order, job.ID)
		finished := len(order) == 3
		mu.Unlock()
		if finished {
			close(done)
		}
		return effect.Succeed[any, error, struct{}](struct{}{})
	}

	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	go func() { _ = q.Process(pctx, handler, 1) }()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("processing did not complete in time")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, b.ID, order[0], "higher priority with no delay goes first")
	assert.Equal(t, c.ID, order[1], "delayed same-priority job follows once due")
	assert.Equal(t, a.ID, order[2], "lower priority goes last")
}

func TestRetryThenDeadLetter(t *testing.T) {
	q := New("q", NewMemoryBackend(), nil)
	ctx := context.Background()

	boom := errors.New("boom")
	job, err := q.Add(ctx, []byte("payload"), 0, 0, Options{
		Attempts: 3,
		Backoff:  Backoff{Type: BackoffFixed, DelayMs: 5},
	})
	require.NoError(t, err)

	var failedEvents int
	q.Events.On(EventJobFailed, func(e Event) { failedEvents++ })

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	go func() { _ = q.Process(pctx, failHandler(boom), 1) }()

	require.Eventually(t, func() bool {
		failed, err := q.GetFailedJobs(ctx, 0)
		return err == nil && len(failed) == 1
	}, time.Second, 5*time.Millisecond)

	failed, err := q.GetFailedJobs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
	assert.Equal(t, StatusFailed, failed[0].Status)
	assert.Len(t, failed[0].Attempts, 3)
	assert.Equal(t, 3, failedEvents, "one job:failed per retry plus the terminal failure")

	require.NoError(t, q.RetryFailed(ctx, job.ID))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestPauseBlocksReserve(t *testing.T) {
	q := New("q", NewMemoryBackend(), nil)
	ctx := context.Background()
	_, err := q.Add(ctx, []byte("payload"), 0, 0, Options{Attempts: 1})
	require.NoError(t, err)

	require.NoError(t, q.Pause(ctx))
	paused, err := q.IsPaused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	var ran bool
	pctx, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	q.Process(pctx, func(ctx context.Context, job Job) effect.Effect[any, error, struct{}] {
		ran = true
		return effect.Succeed[any, error, struct{}](struct{}{})
	}, 1)
	assert.False(t, ran, "a paused queue must not dispatch any handler")

	require.NoError(t, q.Resume(ctx))
}

func TestAddFailsAfterClose(t *testing.T) {
	q := New("q", NewMemoryBackend(), nil)
	require.NoError(t, q.Close())
	_, err := q.Add(context.Background(), []byte("x"), 0, 0, Options{Attempts: 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestAddBulkAddsEveryJob(t *testing.T) {
	q := New("q", NewMemoryBackend(), nil)
	jobs, err := q.AddBulk(context.Background(), [][]byte{[]byte("a"), []byte("b"), []byte("c")}, 0, 0, Options{Attempts: 1})
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, depth)
}

func TestJobTimeoutCountsAsFailure(t *testing.T) {
	q := New("q", NewMemoryBackend(), nil)
	ctx := context.Background()
	_, err := q.Add(ctx, []byte("payload"), 0, 0, Options{
		Attempts: 1,
		Timeout:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	slow := func(ctx context.Context, job Job) effect.Effect[any, error, struct{}] {
		return effect.FromAsync(func(ctx context.Context, env any) (struct{}, error, bool) {
			select {
			case <-time.After(time.Second):
				return struct{}{}, nil, true
			case <-ctx.Done():
				return struct{}{}, ctx.Err(), false
			}
		})
	}

	pctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	go func() { _ = q.Process(pctx, slow, 1) }()

	require.Eventually(t, func() bool {
		failed, err := q.GetFailedJobs(ctx, 0)
		return err == nil && len(failed) == 1
	}, 500*time.Millisecond, 5*time.Millisecond)
}
