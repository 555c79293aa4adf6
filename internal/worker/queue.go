// Package worker drains the Redis persistence queues into PostgreSQL.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// batchInterval bounds how long a partial batch waits before it is flushed.
const batchInterval = 2 * time.Second

// drainer pops JSON items of type T from one Redis list and writes them in
// batches. A failed bulk write falls back to row-by-row writes; rows that
// still fail are pushed back to the queue.
type drainer[T any] struct {
	rdb   *redis.Client
	queue string
	cfg   config.WorkerConfig
	log   zerolog.Logger

	bulk   func(ctx context.Context, batch []T) error
	single func(ctx context.Context, item T) error
}

func (d *drainer[T]) run(ctx context.Context) {
	d.log.Info().Str("queue", d.queue).Msg("Worker started")

	size := max(d.cfg.BatchSize, 1)
	poll := max(d.cfg.PollTimeout, time.Second) // BLPOP takes whole seconds
	buffer := make([]T, 0, size)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= size || time.Since(lastFlush) >= batchInterval) {
			d.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			d.shutdown(buffer)
			return
		default:
		}

		result, err := d.rdb.BLPop(ctx, poll, d.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			d.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			d.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed payload")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (d *drainer[T]) flush(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	err := d.bulk(ctx, batch)
	if err == nil {
		d.log.Debug().Int("count", len(batch)).Msg("Batch persisted")
		return
	}
	d.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk write failed, attempting row-by-row recovery")

	var failed []T
	for _, item := range batch {
		if err := d.single(ctx, item); err != nil {
			d.log.Error().Err(err).Msg("Row write failed, requeueing")
			failed = append(failed, item)
		}
	}
	if len(failed) > 0 {
		d.requeue(ctx, failed)
	}
}

func (d *drainer[T]) requeue(ctx context.Context, items []T) {
	// The worker context may already be cancelled during shutdown.
	pushCtx := context.WithoutCancel(ctx)

	pipe := d.rdb.Pipeline()
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		pipe.RPush(pushCtx, d.queue, data)
	}
	if _, err := pipe.Exec(pushCtx); err != nil {
		d.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	d.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	// Back off so a database outage does not spin the loop.
	sleep(ctx, 2*time.Second)
}

func (d *drainer[T]) shutdown(buffer []T) {
	d.log.Info().Int("pending", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FlushTimeout)
	defer cancel()
	d.flush(ctx, buffer)

	d.log.Info().Msg("Worker stopped")
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
