package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LineupChangedJob tells the export worker that the persisted lineup changed.
type LineupChangedJob struct {
	SessionID   string    `json:"session_id,omitempty"`
	Committed   int       `json:"committed"`
	ChannelIDs  []int64   `json:"channel_ids,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// DefaultQueue is the Redis list key used for the export job queue.
const DefaultQueue = "lineup:jobs:export"

// Enqueue pushes a job onto the left side of a Redis list.
func Enqueue(ctx context.Context, r *Redis, queue string, job LineupChangedJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue marshal: %w", err)
	}
	return r.client.LPush(ctx, queue, data).Err()
}

// Dequeue blocks until a job is available on the right side of the list
// or the timeout expires. When the timeout elapses without a job,
// (nil, nil) is returned so the caller can loop and check for shutdown.
func Dequeue(ctx context.Context, r *Redis, queue string, timeout time.Duration) (*LineupChangedJob, error) {
	result, err := r.client.BRPop(ctx, timeout, queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		// Context cancelled on shutdown.
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("queue dequeue: %w", err)
	}
	// BRPop returns [key, value].
	if len(result) < 2 {
		return nil, nil
	}
	var job LineupChangedJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("queue unmarshal: %w", err)
	}
	return &job, nil
}

// Drain removes every queued job and returns how many were dropped. The export
// worker uses it to coalesce a burst of commits into one rewrite.
func Drain(ctx context.Context, r *Redis, queue string) (int64, error) {
	n, err := r.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	if err := r.client.LTrim(ctx, queue, 1, 0).Err(); err != nil {
		return 0, fmt.Errorf("queue trim: %w", err)
	}
	return n, nil
}
