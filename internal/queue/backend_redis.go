// Copyright 2025 James Ross
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// reserveScript mirrors MemoryBackend.Reserve: it looks only at the
// highest-ranked job in the queue (priority descending, then creation
// time ascending) and pops it iff that job's DueAt has elapsed. A
// lower-ranked job that happens to be due is never skipped to, so the
// whole queue holds up behind a not-yet-due high-priority job exactly
// as the in-memory backend does. This is the same Lua-script-for-
// atomicity pattern the teacher uses in internal/advanced-rate-limiting.
//
// KEYS: 1=order zset, 2=jobs hash, 3=due hash, 4=paused key
// ARGV: 1=now (unix ms)
var reserveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 1 then
  return false
end
local top = redis.call('ZREVRANGE', KEYS[1], 0, 0)
if #top == 0 then
  return false
end
local id = top[1]
local due = redis.call('HGET', KEYS[3], id)
if due and tonumber(due) > tonumber(ARGV[1]) then
  return false
end
redis.call('ZREM', KEYS[1], id)
local payload = redis.call('HGET', KEYS[2], id)
redis.call('HDEL', KEYS[2], id)
redis.call('HDEL', KEYS[3], id)
return payload
`)

// RedisBackend persists jobs for one or more named queues in Redis. Per
// queue name it keeps: an order ZSET (score=priority/creation-time,
// holding every waiting or delayed job), a jobs HASH with each job's
// marshaled payload, a due HASH recording each job's DueAt so Reserve
// can gate on it without decoding the payload, and a dlq HASH/ZSET pair
// for dead-lettered jobs.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing *redis.Client, shared with the
// cache's Redis backend via internal/redisclient.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

type redisKeys struct {
	order, jobs, due, paused, dlq, dlqOrder string
}

func (r *RedisBackend) keys(name string) redisKeys {
	return redisKeys{
		order:    name + ":order",
		jobs:     name + ":jobs",
		due:      name + ":due",
		paused:   name + ":paused",
		dlq:      name + ":dlq",
		dlqOrder: name + ":dlq:order",
	}
}

// orderScore ranks a job by Priority descending, then CreatedAt
// ascending: ZREVRANGE returns the highest score first, so higher
// Priority must score higher, and within equal Priority an earlier
// CreatedAt must score higher too (subtracting a smaller millis value
// keeps the score larger).
func orderScore(job Job) float64 {
	return float64(job.Priority)*1e15 - float64(job.CreatedAt.UnixMilli())
}

func (r *RedisBackend) Enqueue(ctx context.Context, queueName string, job Job) error {
	k := r.keys(queueName)
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, k.jobs, job.ID, payload)
	pipe.HSet(ctx, k.due, job.ID, job.DueAt.UnixMilli())
	pipe.ZAdd(ctx, k.order, redis.Z{Score: orderScore(job), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

// EnqueueBulk implements BulkEnqueuer, persisting the whole batch in
// one pipeline round-trip.
func (r *RedisBackend) EnqueueBulk(ctx context.Context, queueName string, jobs []Job) error {
	k := r.keys(queueName)
	pipe := r.client.TxPipeline()
	for _, job := range jobs {
		payload, err := job.Marshal()
		if err != nil {
			return err
		}
		pipe.HSet(ctx, k.jobs, job.ID, payload)
		pipe.HSet(ctx, k.due, job.ID, job.DueAt.UnixMilli())
		pipe.ZAdd(ctx, k.order, redis.Z{Score: orderScore(job), Member: job.ID})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) Reserve(ctx context.Context, queueName string) (*Job, error) {
	k := r.keys(queueName)
	now := time.Now().UnixMilli()
	res, err := reserveScript.Run(ctx, r.client, []string{k.order, k.jobs, k.due, k.paused}, now).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	payload, ok := res.(string)
	if !ok || payload == "" {
		return nil, nil
	}
	job, err := UnmarshalJob([]byte(payload))
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Ack is a no-op: Reserve already removed the job's bookkeeping from
// the order/jobs/due keys, matching MemoryBackend's completed-job
// handling (completed jobs are not separately persisted).
func (r *RedisBackend) Ack(ctx context.Context, queueName string, job Job) error { return nil }

func (r *RedisBackend) Nack(ctx context.Context, queueName string, job Job, dueAt time.Time) error {
	k := r.keys(queueName)
	job.DueAt = dueAt
	job.Status = StatusWaiting
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, k.jobs, job.ID, payload)
	pipe.HSet(ctx, k.due, job.ID, dueAt.UnixMilli())
	pipe.ZAdd(ctx, k.order, redis.Z{Score: orderScore(job), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) DeadLetter(ctx context.Context, queueName string, job Job) error {
	k := r.keys(queueName)
	job.Status = StatusFailed
	payload, err := job.Marshal()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, k.dlq, job.ID, payload)
	pipe.ZAdd(ctx, k.dlqOrder, redis.Z{Score: float64(time.Now().UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) Pause(ctx context.Context, queueName string) error {
	return r.client.Set(ctx, r.keys(queueName).paused, "1", 0).Err()
}

func (r *RedisBackend) Resume(ctx context.Context, queueName string) error {
	return r.client.Del(ctx, r.keys(queueName).paused).Err()
}

func (r *RedisBackend) IsPaused(ctx context.Context, queueName string) (bool, error) {
	n, err := r.client.Exists(ctx, r.keys(queueName).paused).Result()
	return n > 0, err
}

func (r *RedisBackend) Depth(ctx context.Context, queueName string) (int, error) {
	n, err := r.client.ZCard(ctx, r.keys(queueName).order).Result()
	return int(n), err
}

func (r *RedisBackend) FailedJobs(ctx context.Context, queueName string, limit int) ([]Job, error) {
	k := r.keys(queueName)
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, k.dlqOrder, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	vals, err := r.client.HMGet(ctx, k.dlq, ids...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		job, err := UnmarshalJob([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (r *RedisBackend) RequeueFailed(ctx context.Context, queueName string, jobID string) error {
	k := r.keys(queueName)
	payload, err := r.client.HGet(ctx, k.dlq, jobID).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	job, err := UnmarshalJob([]byte(payload))
	if err != nil {
		return err
	}
	job.Status = StatusWaiting
	job.Attempts = nil
	job.DueAt = time.Now()
	newPayload, err := job.Marshal()
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, k.dlq, jobID)
	pipe.ZRem(ctx, k.dlqOrder, jobID)
	pipe.HSet(ctx, k.jobs, job.ID, newPayload)
	pipe.HSet(ctx, k.due, job.ID, job.DueAt.UnixMilli())
	pipe.ZAdd(ctx, k.order, redis.Z{Score: orderScore(job), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisBackend) Clean(ctx context.Context, queueName string, olderThan time.Duration) (int, error) {
	k := r.keys(queueName)
	cutoff := strconv.FormatInt(time.Now().Add(-olderThan).UnixMilli(), 10)
	ids, err := r.client.ZRangeByScore(ctx, k.dlqOrder, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := r.client.TxPipeline()
	pipe.ZRem(ctx, k.dlqOrder, members...)
	pipe.HDel(ctx, k.dlq, ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Close is a no-op: the *redis.Client is owned and closed by whoever
// built it via internal/redisclient.
func (r *RedisBackend) Close() error { return nil }
