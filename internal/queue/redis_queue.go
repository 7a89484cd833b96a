package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/paperstack/analysis-service/internal/domain"
)

// Key suffixes relative to the configured stream name.
const (
	pauseKeySuffix  = ":paused"
	dedupeKeyPrefix = ":dedupe:"
)

// defaultDedupeTTL bounds how long an enqueue dedupe marker outlives its job.
const defaultDedupeTTL = 24 * time.Hour

// Config holds configuration for the Redis queue.
type Config struct {
	URL       string
	Password  string
	Stream    string
	DedupeTTL time.Duration
}

// Compile-time interface verification.
var _ Queue = (*RedisQueue)(nil)

// RedisQueue implements Queue on a Redis stream. Jobs are appended with
// XADD; workers consume them through a consumer group on their side. A
// per-job SETNX marker with a TTL makes Enqueue idempotent across restarts
// of the dispatch loop.
type RedisQueue struct {
	client    *redis.Client
	stream    string
	dedupeTTL time.Duration
	logger    zerolog.Logger
}

// NewRedisQueue creates a queue backed by the Redis server at cfg.URL and
// verifies the connection.
func NewRedisQueue(ctx context.Context, cfg Config, logger zerolog.Logger) (*RedisQueue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	q := newRedisQueue(client, cfg, logger)
	logger.Info().Str("stream", q.stream).Msg("work queue connected")
	return q, nil
}

// newRedisQueue wires a queue over an existing client. Split out so tests
// can inject a miniredis-backed client.
func newRedisQueue(client *redis.Client, cfg Config, logger zerolog.Logger) *RedisQueue {
	ttl := cfg.DedupeTTL
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &RedisQueue{
		client:    client,
		stream:    cfg.Stream,
		dedupeTTL: ttl,
		logger:    logger,
	}
}

// Enqueue hands a job to the queue. The dedupe marker is claimed before the
// XADD; if the marker already exists the job is skipped.
func (q *RedisQueue) Enqueue(ctx context.Context, msg JobMessage) (bool, error) {
	dedupeKey := q.stream + dedupeKeyPrefix + msg.DedupeKey()

	claimed, err := q.client.SetNX(ctx, dedupeKey, "1", q.dedupeTTL).Result()
	if err != nil {
		return false, domain.NewQueueError("enqueue", err)
	}
	if !claimed {
		q.logger.Debug().Str("job_id", msg.JobID.String()).Msg("job already enqueued, skipping")
		return false, nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job message: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{
			"job_id":      msg.JobID.String(),
			"batch_id":    msg.BatchID.String(),
			"paper_id":    msg.PaperID.String(),
			"model":       msg.Model,
			"payload":     string(payload),
			"enqueued_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		// Release the marker so a retry can claim it again.
		if delErr := q.client.Del(ctx, dedupeKey).Err(); delErr != nil {
			q.logger.Warn().Err(delErr).Str("job_id", msg.JobID.String()).
				Msg("failed to release dedupe marker after enqueue failure")
		}
		return false, domain.NewQueueError("enqueue", err)
	}

	return true, nil
}

// Pause sets the pause flag workers check before taking new items.
func (q *RedisQueue) Pause(ctx context.Context) error {
	if err := q.client.Set(ctx, q.stream+pauseKeySuffix, "1", 0).Err(); err != nil {
		return domain.NewQueueError("pause", err)
	}
	return nil
}

// Resume clears the pause flag.
func (q *RedisQueue) Resume(ctx context.Context) error {
	if err := q.client.Del(ctx, q.stream+pauseKeySuffix).Err(); err != nil {
		return domain.NewQueueError("resume", err)
	}
	return nil
}

// Paused reports whether the pause flag is set.
func (q *RedisQueue) Paused(ctx context.Context) (bool, error) {
	n, err := q.client.Exists(ctx, q.stream+pauseKeySuffix).Result()
	if err != nil {
		return false, domain.NewQueueError("paused", err)
	}
	return n > 0, nil
}

// Drain removes all queued items and their dedupe markers. Items already
// claimed by a worker are not recalled; their outcomes are discarded later
// by the idempotent outcome path.
func (q *RedisQueue) Drain(ctx context.Context) (int64, error) {
	depth, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, domain.NewQueueError("drain", err)
	}

	if err := q.client.Del(ctx, q.stream).Err(); err != nil {
		return 0, domain.NewQueueError("drain", err)
	}

	// Sweep dedupe markers so the papers can be re-enqueued by a later batch.
	var cursor uint64
	pattern := q.stream + dedupeKeyPrefix + "*"
	for {
		keys, next, err := q.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return depth, domain.NewQueueError("drain", err)
		}
		if len(keys) > 0 {
			if err := q.client.Del(ctx, keys...).Err(); err != nil {
				return depth, domain.NewQueueError("drain", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return depth, nil
}

// Depth returns the number of items currently queued.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		return 0, domain.NewQueueError("depth", err)
	}
	return depth, nil
}

// Close releases the underlying connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
