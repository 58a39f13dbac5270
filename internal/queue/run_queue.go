// Package queue hands job IDs from the API to the orchestration daemon
// through Redis. A dequeued job holds a lease; if the daemon dies mid-run the
// lease expires and the job is requeued, where the orchestrator's resume
// semantics make the re-run idempotent.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunQueue coordinates the ready list and the in-flight lease set.
type RunQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	leaseTTL    time.Duration
}

// NewRunQueue builds a queue client.
func NewRunQueue(client *redis.Client, leaseTTL time.Duration) *RunQueue {
	if leaseTTL == 0 {
		leaseTTL = 10 * time.Minute
	}
	return &RunQueue{
		client:      client,
		readyKey:    "thema:runs:ready",
		inflightKey: "thema:runs:inflight",
		leaseTTL:    leaseTTL,
	}
}

// Enqueue appends a job to the ready list.
func (q *RunQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.readyKey, jobID).Err()
}

// DequeueWithLease pops the next job and places it in-flight with a lease
// deadline. Returns "" when the queue is empty.
func (q *RunQueue) DequeueWithLease(ctx context.Context) (string, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.leaseTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the lease deadline forward for a long-running job.
func (q *RunQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a finished job from in-flight tracking.
func (q *RunQueue) Ack(ctx context.Context, jobID string) error {
	return q.client.ZRem(ctx, q.inflightKey, jobID).Err()
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the jobs.
func (q *RunQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Remove drops a job from both the ready list and the in-flight set.
func (q *RunQueue) Remove(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.readyKey, 0, jobID)
	pipe.ZRem(ctx, q.inflightKey, jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// Depth returns the ready list length.
func (q *RunQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
