package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/shuffle"
)

// OrderStore keeps each attempt's presentation order so a reconnecting
// student sees the same sequence.
type OrderStore struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewOrderStore creates a new OrderStore.
func NewOrderStore(pool *pgxpool.Pool, rdb *redis.Client) *OrderStore {
	return &OrderStore{pool: pool, rdb: rdb}
}

// RecordOrder caches the order and queues it for the question-order worker.
func (s *OrderStore) RecordOrder(ctx context.Context, attemptID uuid.UUID, order shuffle.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	job, err := json.Marshal(model.OrderSnapshot{AttemptID: attemptID, Order: data})
	if err != nil {
		return fmt.Errorf("marshal order job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.AttemptOrderKey(attemptID.String()), data, attemptBufferTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer order: %w", err)
	}
	return nil
}

// GetOrder returns the stored order, or nil when the attempt has none yet.
// A PostgreSQL hit is written back to Redis.
func (s *OrderStore) GetOrder(ctx context.Context, attemptID uuid.UUID) (*shuffle.Order, error) {
	key := config.CacheKey.AttemptOrderKey(attemptID.String())

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read cached order: %w", err)
	}
	if errors.Is(err, redis.Nil) {
		err = s.pool.QueryRow(ctx,
			`SELECT question_order FROM exam_attempts WHERE id = $1 AND question_order IS NOT NULL`,
			attemptID,
		).Scan(&data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read stored order: %w", err)
		}
		_ = s.rdb.Set(ctx, key, data, attemptBufferTTL).Err()
	}

	var o shuffle.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}
