package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionOrderWorker consumes persist_question_order_queue and stores each
// attempt's presentation order.
type QuestionOrderWorker struct {
	pool *pgxpool.Pool
	d    drainer[model.OrderSnapshot]
}

// NewQuestionOrderWorker creates a new QuestionOrderWorker.
func NewQuestionOrderWorker(pool *pgxpool.Pool, rdb *redis.Client, cfg config.WorkerConfig, log zerolog.Logger) *QuestionOrderWorker {
	w := &QuestionOrderWorker{pool: pool}
	w.d = drainer[model.OrderSnapshot]{
		rdb:    rdb,
		queue:  config.WorkerKey.PersistQuestionOrderQueue,
		cfg:    cfg,
		log:    log.With().Str("component", "question_order_worker").Logger(),
		bulk:   w.bulkUpdate,
		single: w.update,
	}
	return w
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *QuestionOrderWorker) Start(ctx context.Context) {
	w.d.run(ctx)
}

func (w *QuestionOrderWorker) bulkUpdate(ctx context.Context, batch []model.OrderSnapshot) error {
	// Later snapshots of the same attempt replace earlier ones.
	idx := make(map[uuid.UUID]int, len(batch))
	ids := make([]uuid.UUID, 0, len(batch))
	orders := make([][]byte, 0, len(batch))
	for _, s := range batch {
		if i, ok := idx[s.AttemptID]; ok {
			orders[i] = s.Order
			continue
		}
		idx[s.AttemptID] = len(ids)
		ids = append(ids, s.AttemptID)
		orders = append(orders, s.Order)
	}

	_, err := w.pool.Exec(ctx, `
		UPDATE exam_attempts AS a
		SET question_order = t.qo
		FROM UNNEST($1::uuid[], $2::jsonb[]) AS t (id, qo)
		WHERE a.id = t.id
		  AND a.status = 'in_progress'`,
		ids, orders,
	)
	return err
}

func (w *QuestionOrderWorker) update(ctx context.Context, s model.OrderSnapshot) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET question_order = $2
		 WHERE id = $1 AND status = 'in_progress'`,
		s.AttemptID, []byte(s.Order),
	)
	return err
}
