package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AttemptRow is one attempt as listed on the live monitor.
type AttemptRow struct {
	AttemptID   uuid.UUID           `json:"attempt_id"`
	UserID      int                 `json:"user_id"`
	Status      model.AttemptStatus `json:"status"`
	Score       *float64            `json:"score,omitempty"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// MonitorRepository provides the read model behind the live exam monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// ListAttempts returns every attempt of the exam, newest first.
func (r *MonitorRepository) ListAttempts(ctx context.Context, examID uuid.UUID) ([]AttemptRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, status, score, started_at, completed_at
		 FROM exam_attempts
		 WHERE exam_id = $1
		 ORDER BY started_at DESC`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	list := []AttemptRow{}
	for rows.Next() {
		var a AttemptRow
		if err := rows.Scan(&a.AttemptID, &a.UserID, &a.Status, &a.Score, &a.StartedAt, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// AnsweredCounts returns the persisted answer count of every attempt of the exam.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT a.attempt_id, COUNT(*)
		 FROM attempt_answers a
		 JOIN exam_attempts e ON e.id = a.attempt_id
		 WHERE e.exam_id = $1
		 GROUP BY a.attempt_id`, examID)
}

// ViolationCounts returns the persisted violation count of every attempt of the exam.
func (r *MonitorRepository) ViolationCounts(ctx context.Context, examID uuid.UUID) (map[uuid.UUID]int64, error) {
	return r.countBy(ctx,
		`SELECT attempt_id, COUNT(*)
		 FROM attempt_audit_events
		 WHERE exam_id = $1 AND kind IN ($2, $3)
		 GROUP BY attempt_id`, examID, model.AuditFocusLost, model.AuditVisibilityHidden)
}

func (r *MonitorRepository) countBy(ctx context.Context, query string, args ...any) (map[uuid.UUID]int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int64)
	for rows.Next() {
		var (
			id    uuid.UUID
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
