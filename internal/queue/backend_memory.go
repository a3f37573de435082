// Copyright 2025 James Ross
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// readyItem is one entry in a queue's heap: every waiting or delayed
// job, ordered by Priority descending then CreatedAt ascending — the
// same total order regardless of whether a job is currently due.
type readyItem struct {
	job   Job
	index int
}

// readyHeap orders jobs by Priority descending, then creation time
// ascending. Readiness (DueAt) is deliberately NOT part of this order:
// Reserve only ever looks at the heap's top, so a higher-priority job
// that is not yet due holds up every lower-priority job behind it,
// matching the spec's priority-then-FIFO ordering guarantee across the
// whole queue rather than just among currently-ready jobs.
type readyHeap []*readyItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority > h[j].job.Priority
	}
	return h[i].job.CreatedAt.Before(h[j].job.CreatedAt)
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *readyHeap) Push(x any) {
	item := x.(*readyItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// dlqEntry pairs a dead-lettered job with the time it was moved to the
// DLQ, so Clean's grace period is measured from when the job became
// terminal rather than from its original creation time.
type dlqEntry struct {
	job         Job
	deadLetteredAt time.Time
}

type memoryQueueState struct {
	ready  readyHeap
	dlq    []dlqEntry
	paused bool
}

// MemoryBackend is an in-process Backend, suited to single-instance
// deployments and tests. State is kept per queue name.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memoryQueueState
}

// NewMemoryBackend builds an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{queues: make(map[string]*memoryQueueState)}
}

func (m *MemoryBackend) state(name string) *memoryQueueState {
	s, ok := m.queues[name]
	if !ok {
		s = &memoryQueueState{}
		heap.Init(&s.ready)
		m.queues[name] = s
	}
	return s
}

func (m *MemoryBackend) Enqueue(ctx context.Context, queueName string, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(queueName)
	heap.Push(&s.ready, &readyItem{job: job})
	return nil
}

func (m *MemoryBackend) Reserve(ctx context.Context, queueName string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(queueName)
	if s.paused {
		return nil, nil
	}
	if s.ready.Len() == 0 {
		return nil, nil
	}
	now := time.Now()
	top := s.ready[0]
	if top.job.DueAt.After(now) {
		return nil, nil
	}
	item := heap.Pop(&s.ready).(*readyItem)
	job := item.job
	return &job, nil
}

func (m *MemoryBackend) Ack(ctx context.Context, queueName string, job Job) error {
	return nil
}

func (m *MemoryBackend) Nack(ctx context.Context, queueName string, job Job, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(queueName)
	job.DueAt = dueAt
	job.Status = StatusWaiting
	heap.Push(&s.ready, &readyItem{job: job})
	return nil
}

func (m *MemoryBackend) DeadLetter(ctx context.Context, queueName string, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(queueName)
	job.Status = StatusFailed
	s.dlq = append(s.dlq, dlqEntry{job: job, deadLetteredAt: time.Now()})
	return nil
}

func (m *MemoryBackend) Pause(ctx context.Context, queueName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(queueName).paused = true
	return nil
}

func (m *MemoryBackend) Resume(ctx context.Context, queueName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state(queueName).paused = false
	return nil
}

func (m *MemoryBackend) IsPaused(ctx context.Context, queueName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(queueName).paused, nil
}

func (m *MemoryBackend) Depth(ctx context.Context, queueName string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(queueName).ready.Len(), nil
}

func (m *MemoryBackend) FailedJobs(ctx context.Context, queueName string, limit int) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(queueName)
	if limit <= 0 || limit > len(s.dlq) {
		limit = len(s.dlq)
	}
	out := make([]Job, limit)
	// most recent first
	for i := 0; i < limit; i++ {
		out[i] = s.dlq[len(s.dlq)-1-i].job
	}
	return out, nil
}

func (m *MemoryBackend) RequeueFailed(ctx context.Context, queueName string, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(queueName)
	for i, e := range s.dlq {
		if e.job.ID == jobID {
			s.dlq = append(s.dlq[:i], s.dlq[i+1:]...)
			j := e.job
			j.Status = StatusWaiting
			j.Attempts = nil
			j.DueAt = time.Now()
			heap.Push(&s.ready, &readyItem{job: j})
			return nil
		}
	}
	return ErrNotFound
}

// Clean removes dead-lettered jobs that have sat in the DLQ longer than
// olderThan, measured from when each was dead-lettered.
func (m *MemoryBackend) Clean(ctx context.Context, queueName string, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state(queueName)
	cutoff := time.Now().Add(-olderThan)
	kept := s.dlq[:0]
	removed := 0
	for _, e := range s.dlq {
		if e.deadLetteredAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.dlq = kept
	return removed, nil
}

func (m *MemoryBackend) Close() error { return nil }
