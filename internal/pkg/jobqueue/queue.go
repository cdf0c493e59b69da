package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "jobqueue:pending"

// Queue is a Redis-list backed job queue shared across instances. Producers
// LPUSH, workers BRPOP; a job in flight that dies with its worker is lost,
// which is acceptable here because every queued job is re-creatable from a
// resync.
type Queue struct {
	redis *redis.Client
	key   string
}

// NewQueue creates a queue on the shared Redis client.
func NewQueue(client *redis.Client, key string) *Queue {
	if key == "" {
		key = defaultQueueKey
	}
	return &Queue{redis: client, key: key}
}

// Enqueue appends the job.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: encode job: %w", err)
	}
	if err := q.redis.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("jobqueue: enqueue: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job. Returns (nil, nil) when the
// timeout elapses with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.redis.BRPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: dequeue: %w", err)
	}
	// BRPOP returns [key, value]
	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("jobqueue: decode job: %w", err)
	}
	return &job, nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.redis.LLen(ctx, q.key).Result()
}
