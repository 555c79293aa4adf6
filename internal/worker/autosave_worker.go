package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// upsertAnswers writes one snapshot. Snapshots that reach the worker after
// the attempt was submitted are ignored, and an older snapshot never
// overwrites a newer row.
const upsertAnswers = `
	INSERT INTO attempt_answers (attempt_id, question_id, option_id, updated_at)
	SELECT $1, u.question_id, u.option_id, $4
	FROM UNNEST($2::text[], $3::text[]) AS u (question_id, option_id)
	WHERE EXISTS (SELECT 1 FROM exam_attempts WHERE id = $1 AND status = 'in_progress')
	ON CONFLICT (attempt_id, question_id) DO UPDATE
	SET option_id = EXCLUDED.option_id, updated_at = EXCLUDED.updated_at
	WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`

// AutosaveWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	d    drainer[model.AnswersSnapshot]
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, cfg config.WorkerConfig, log zerolog.Logger) *AutosaveWorker {
	w := &AutosaveWorker{pool: pool}
	w.d = drainer[model.AnswersSnapshot]{
		rdb:    rdb,
		queue:  config.WorkerKey.PersistAnswersQueue,
		cfg:    cfg,
		log:    log.With().Str("component", "autosave_worker").Logger(),
		bulk:   w.bulkUpsert,
		single: w.upsert,
	}
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.d.run(ctx)
}

// bulkUpsert keeps only the newest snapshot per attempt and sends them in
// one round trip.
func (w *AutosaveWorker) bulkUpsert(ctx context.Context, batch []model.AnswersSnapshot) error {
	b := &pgx.Batch{}
	for _, s := range latestPerAttempt(batch) {
		qids, opts, at := columns(s)
		b.Queue(upsertAnswers, s.AttemptID, qids, opts, at)
	}
	return w.pool.SendBatch(ctx, b).Close()
}

func (w *AutosaveWorker) upsert(ctx context.Context, s model.AnswersSnapshot) error {
	qids, opts, at := columns(s)
	_, err := w.pool.Exec(ctx, upsertAnswers, s.AttemptID, qids, opts, at)
	return err
}

// latestPerAttempt drops every snapshot superseded by a newer one of the
// same attempt. Each snapshot carries the full answer set.
func latestPerAttempt(batch []model.AnswersSnapshot) map[uuid.UUID]model.AnswersSnapshot {
	latest := make(map[uuid.UUID]model.AnswersSnapshot, len(batch))
	for _, s := range batch {
		if prev, ok := latest[s.AttemptID]; !ok || !s.SavedAt.Before(prev.SavedAt) {
			latest[s.AttemptID] = s
		}
	}
	return latest
}

func columns(s model.AnswersSnapshot) ([]string, []string, time.Time) {
	qids := make([]string, 0, len(s.Answers))
	opts := make([]string, 0, len(s.Answers))
	for qid, opt := range s.Answers {
		qids = append(qids, qid)
		opts = append(opts, opt)
	}
	at := s.SavedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return qids, opts, at
}
