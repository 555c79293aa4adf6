package worker

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AuditWorker consumes persist_audit_queue and appends proctoring events.
type AuditWorker struct {
	pool *pgxpool.Pool
	d    drainer[model.AuditEvent]
}

// NewAuditWorker creates a new AuditWorker.
func NewAuditWorker(pool *pgxpool.Pool, rdb *redis.Client, cfg config.WorkerConfig, log zerolog.Logger) *AuditWorker {
	w := &AuditWorker{pool: pool}
	w.d = drainer[model.AuditEvent]{
		rdb:    rdb,
		queue:  config.WorkerKey.PersistAuditQueue,
		cfg:    cfg,
		log:    log.With().Str("component", "audit_worker").Logger(),
		bulk:   w.bulkInsert,
		single: w.insert,
	}
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *AuditWorker) Start(ctx context.Context) {
	w.d.run(ctx)
}

// bulkInsert uses COPY. A requeued event that already landed makes the whole
// COPY fail on the primary key, and the row-by-row path then skips it.
func (w *AuditWorker) bulkInsert(ctx context.Context, batch []model.AuditEvent) error {
	rows := make([][]any, 0, len(batch))
	for _, ev := range batch {
		meta, err := metadata(ev)
		if err != nil {
			return err
		}
		rows = append(rows, []any{ev.ID, ev.AttemptID, ev.ExamID, ev.UserID, string(ev.Kind), ev.At, meta})
	}

	_, err := w.pool.CopyFrom(ctx,
		pgx.Identifier{"attempt_audit_events"},
		[]string{"id", "attempt_id", "exam_id", "user_id", "kind", "at", "metadata"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *AuditWorker) insert(ctx context.Context, ev model.AuditEvent) error {
	meta, err := metadata(ev)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_audit_events (id, attempt_id, exam_id, user_id, kind, at, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
		 ON CONFLICT (id) DO NOTHING`,
		ev.ID, ev.AttemptID, ev.ExamID, ev.UserID, string(ev.Kind), ev.At, meta,
	)
	return err
}

func metadata(ev model.AuditEvent) ([]byte, error) {
	if len(ev.Metadata) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(ev.Metadata)
}
