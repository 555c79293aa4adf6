package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorMessage is what the live monitor channel carries.
type MonitorMessage struct {
	Type       string            `json:"type"`
	Event      *model.AuditEvent `json:"event,omitempty"`
	Violations int64             `json:"violations,omitempty"`
}

// AuditRepository appends proctoring events. Writes go through Redis: the
// event is queued for the audit worker, announced on the exam's monitor
// channel and, for violations, counted so a reconnect can restore the count.
type AuditRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool, rdb *redis.Client) *AuditRepository {
	return &AuditRepository{pool: pool, rdb: rdb}
}

// LogAuditEvent queues ev for persistence and publishes it to monitors.
func (r *AuditRepository) LogAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	counterKey := config.CacheKey.AttemptViolationsKey(ev.AttemptID.String())
	pipe := r.rdb.TxPipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistAuditQueue, data)
	var count *redis.IntCmd
	if ev.Kind.IsViolation() {
		count = pipe.Incr(ctx, counterKey)
		pipe.Expire(ctx, counterKey, attemptBufferTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue audit event: %w", err)
	}

	msg := MonitorMessage{Type: "audit", Event: &ev}
	if count != nil {
		msg.Violations = count.Val()
	}
	payload, _ := json.Marshal(msg)
	// Monitors are best effort; the queued event is the record.
	_ = r.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(ev.ExamID.String()), payload).Err()
	return nil
}

// ViolationCount returns the counted violations of an attempt. The Redis
// counter is authoritative while the attempt is live; after it expires the
// persisted events are counted instead.
func (r *AuditRepository) ViolationCount(ctx context.Context, attemptID uuid.UUID) (int, error) {
	n, err := r.rdb.Get(ctx, config.CacheKey.AttemptViolationsKey(attemptID.String())).Int()
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read violation counter: %w", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_audit_events
		 WHERE attempt_id = $1 AND kind IN ($2, $3)`,
		attemptID, model.AuditFocusLost, model.AuditVisibilityHidden,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

// ListByAttempt returns one page of an attempt's audit trail, oldest first.
func (r *AuditRepository) ListByAttempt(ctx context.Context, attemptID uuid.UUID, page, perPage int) ([]model.AuditEvent, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempt_audit_events WHERE attempt_id = $1`, attemptID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, exam_id, user_id, kind, at, metadata
		 FROM attempt_audit_events
		 WHERE attempt_id = $1
		 ORDER BY at, id
		 LIMIT $2 OFFSET $3`,
		attemptID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []model.AuditEvent{}
	for rows.Next() {
		var ev model.AuditEvent
		if err := rows.Scan(&ev.ID, &ev.AttemptID, &ev.ExamID, &ev.UserID, &ev.Kind, &ev.At, &ev.Metadata); err != nil {
			return nil, 0, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}
