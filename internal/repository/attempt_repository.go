package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const attemptColumns = `id, user_id, exam_id, window_id, variant_ref, duration_seconds, status,
	score, correct_count, total_count, COALESCE(submit_reason, ''), started_at, completed_at,
	review_requested, questions`

// releaseLive deletes the live marker only if it still belongs to the caller.
var releaseLive = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AttemptRepository handles attempt rows and the attempt's live marker.
type AttemptRepository struct {
	pool    *pgxpool.Pool
	rdb     *redis.Client
	answers *AnswerStore
	log     zerolog.Logger
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool, rdb *redis.Client, answers *AnswerStore, log zerolog.Logger) *AttemptRepository {
	return &AttemptRepository{
		pool:    pool,
		rdb:     rdb,
		answers: answers,
		log:     log.With().Str("component", "attempt_repository").Logger(),
	}
}

// GetByID loads an attempt with its answers. While the attempt is in
// progress the Redis buffer is preferred since the worker may lag behind.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a, err := scanAttempt(r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+` FROM exam_attempts WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	if a.InProgress() {
		buffered, err := r.answers.Buffered(ctx, id)
		if err != nil {
			r.log.Warn().Err(err).Str("attempt_id", id.String()).Msg("Answer buffer unavailable, reading PostgreSQL")
		}
		if len(buffered) > 0 {
			a.Answers = buffered
			return a, nil
		}
	}

	a.Answers, err = r.storedAnswers(ctx, id)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SubmitAttempt is the terminal write. It succeeds only for an attempt still
// in progress; otherwise it returns the stored attempt together with
// model.ErrAttemptCompleted. The final answers replace whatever the
// autosave worker stored.
func (r *AttemptRepository) SubmitAttempt(ctx context.Context, attempt *model.Attempt) (*model.Attempt, error) {
	questions, err := json.Marshal(attempt.Questions)
	if err != nil {
		return nil, fmt.Errorf("marshal questions: %w", err)
	}
	completedAt := time.Now().UTC()
	if attempt.CompletedAt != nil {
		completedAt = *attempt.CompletedAt
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin submit: %w", err)
	}
	defer tx.Rollback(ctx)

	stored, err := scanAttempt(tx.QueryRow(ctx,
		`UPDATE exam_attempts
		 SET status = $2, score = $3, correct_count = $4, total_count = $5,
		     submit_reason = $6, completed_at = $7, questions = $8
		 WHERE id = $1 AND status = $9
		 RETURNING `+attemptColumns,
		attempt.ID, model.AttemptStatusCompleted, attempt.Score, attempt.CorrectCount, attempt.TotalCount,
		attempt.SubmitReason, completedAt, questions, model.AttemptStatusInProgress,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		// Usually an earlier submit whose reply was lost. The caller gets the
		// row as stored, not the one it just graded.
		existing, err := r.GetByID(ctx, attempt.ID)
		if err != nil {
			return nil, err
		}
		return existing, model.ErrAttemptCompleted
	}
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM attempt_answers WHERE attempt_id = $1`, attempt.ID); err != nil {
		return nil, fmt.Errorf("clear answers: %w", err)
	}
	if len(attempt.Answers) > 0 {
		rows := make([][]any, 0, len(attempt.Answers))
		for qid, opt := range attempt.Answers {
			rows = append(rows, []any{attempt.ID, qid, opt, completedAt})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"attempt_answers"},
			[]string{"attempt_id", "question_id", "option_id", "updated_at"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return nil, fmt.Errorf("write final answers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit submit: %w", err)
	}

	stored.Answers = attempt.Answers.Clone()
	r.clearBuffers(ctx, attempt.ID)
	return stored, nil
}

// RequestReview flags a completed attempt. The flag is one-shot.
func (r *AttemptRepository) RequestReview(ctx context.Context, attemptID uuid.UUID, note string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET review_requested = TRUE, review_note = NULLIF($2, ''), review_requested_at = NOW()
		 WHERE id = $1 AND status = $3 AND NOT review_requested`,
		attemptID, note, model.AttemptStatusCompleted,
	)
	if err != nil {
		return fmt.Errorf("request review: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		status    model.AttemptStatus
		requested bool
	)
	err = r.pool.QueryRow(ctx,
		`SELECT status, review_requested FROM exam_attempts WHERE id = $1`, attemptID,
	).Scan(&status, &requested)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return model.ErrAttemptNotFound
	case err != nil:
		return fmt.Errorf("check attempt: %w", err)
	case requested:
		return model.ErrReviewRequested
	default:
		return model.ErrAttemptNotCompleted
	}
}

// ClaimLive marks the attempt as connected by owner for ttl. It reports
// false when another connection holds the marker.
func (r *AttemptRepository) ClaimLive(ctx context.Context, attemptID uuid.UUID, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, config.CacheKey.AttemptLiveKey(attemptID.String()), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim live marker: %w", err)
	}
	return ok, nil
}

// RefreshLive extends a marker held by owner.
func (r *AttemptRepository) RefreshLive(ctx context.Context, attemptID uuid.UUID, owner string, ttl time.Duration) error {
	key := config.CacheKey.AttemptLiveKey(attemptID.String())
	ok, err := r.rdb.SetXX(ctx, key, owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("refresh live marker: %w", err)
	}
	if !ok {
		return r.rdb.SetNX(ctx, key, owner, ttl).Err()
	}
	return nil
}

// ReleaseLive drops the marker if owner still holds it.
func (r *AttemptRepository) ReleaseLive(ctx context.Context, attemptID uuid.UUID, owner string) error {
	return releaseLive.Run(ctx, r.rdb, []string{config.CacheKey.AttemptLiveKey(attemptID.String())}, owner).Err()
}

func (r *AttemptRepository) storedAnswers(ctx context.Context, id uuid.UUID) (model.Answers, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, option_id FROM attempt_answers WHERE attempt_id = $1`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	answers := model.Answers{}
	for rows.Next() {
		var qid, opt string
		if err := rows.Scan(&qid, &opt); err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers[qid] = opt
	}
	return answers, rows.Err()
}

// clearBuffers drops the attempt's fast-lane keys and leaves a completed
// marker so an autosave still in flight cannot recreate them. Failures only
// leave keys to expire on their own.
func (r *AttemptRepository) clearBuffers(ctx context.Context, id uuid.UUID) {
	ref := id.String()
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.AttemptCompletedKey(ref), 1, attemptBufferTTL)
	pipe.Del(ctx,
		config.CacheKey.AttemptAnswersKey(ref),
		config.CacheKey.AttemptOrderKey(ref),
		config.CacheKey.AttemptViolationsKey(ref),
	)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn().Err(err).Str("attempt_id", ref).Msg("Failed to clear attempt buffers")
	}
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	var (
		a         model.Attempt
		questions []byte
	)
	err := row.Scan(
		&a.ID, &a.UserID, &a.ExamID, &a.WindowID, &a.VariantRef, &a.DurationSeconds, &a.Status,
		&a.Score, &a.CorrectCount, &a.TotalCount, &a.SubmitReason, &a.StartedAt, &a.CompletedAt,
		&a.ReviewRequested, &questions,
	)
	if err != nil {
		return nil, err
	}
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &a.Questions); err != nil {
			return nil, fmt.Errorf("decode frozen questions: %w", err)
		}
	}
	return &a, nil
}
