package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// variantTTL keeps a variant cached across a full exam day.
const variantTTL = 12 * time.Hour

// VariantRepository serves the question list of an exam variant. Redis is
// the fast lane; PostgreSQL is the source of truth and refills the cache on
// a miss.
type VariantRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewVariantRepository creates a new VariantRepository.
func NewVariantRepository(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *VariantRepository {
	return &VariantRepository{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "variant_repository").Logger(),
	}
}

// GetQuestions returns the variant's questions in authored order, answer
// keys included. An unknown variant yields an empty slice.
func (r *VariantRepository) GetQuestions(ctx context.Context, variantRef string) ([]model.Question, error) {
	key := config.CacheKey.VariantQuestionsKey(variantRef)

	data, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var qs []model.Question
		if err := json.Unmarshal(data, &qs); err == nil {
			return qs, nil
		}
		r.log.Warn().Str("variant_ref", variantRef).Msg("Corrupt variant cache entry, reloading")
	case !errors.Is(err, redis.Nil):
		r.log.Warn().Err(err).Str("variant_ref", variantRef).Msg("Variant cache unavailable, reading PostgreSQL")
	}

	qs, err := r.load(ctx, variantRef)
	if err != nil {
		return nil, err
	}
	if len(qs) > 0 {
		r.warm(ctx, variantRef, qs)
	}
	return qs, nil
}

// PrewarmActive caches every variant that has an attempt in progress, so a
// reconnect storm after a restart does not hit PostgreSQL once per student.
func (r *VariantRepository) PrewarmActive(ctx context.Context) error {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT variant_ref FROM exam_attempts WHERE status = $1`,
		model.AttemptStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("list active variants: %w", err)
	}
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return fmt.Errorf("scan variant ref: %w", err)
		}
		refs = append(refs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("list active variants: %w", err)
	}

	warmed := 0
	for _, ref := range refs {
		qs, err := r.load(ctx, ref)
		if err != nil {
			r.log.Warn().Err(err).Str("variant_ref", ref).Msg("Failed to warm variant, skipping")
			continue
		}
		if len(qs) > 0 && r.warm(ctx, ref, qs) {
			warmed++
		}
	}

	r.log.Info().Int("warmed", warmed).Int("total", len(refs)).Msg("Prewarming complete")
	return nil
}

func (r *VariantRepository) load(ctx context.Context, variantRef string) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, stem, options, answer_key,
		        COALESCE(topic, ''), COALESCE(difficulty, ''), COALESCE(image_ref, '')
		 FROM exam_variant_questions
		 WHERE variant_ref = $1
		 ORDER BY position`, variantRef,
	)
	if err != nil {
		return nil, fmt.Errorf("query variant questions: %w", err)
	}
	defer rows.Close()

	qs := []model.Question{}
	for rows.Next() {
		var (
			q    model.Question
			opts []byte
		)
		if err := rows.Scan(&q.ID, &q.Stem, &opts, &q.AnswerKey, &q.Topic, &q.Difficulty, &q.ImageRef); err != nil {
			return nil, fmt.Errorf("scan variant question: %w", err)
		}
		if err := json.Unmarshal(opts, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
		}
		qs = append(qs, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read variant questions: %w", err)
	}
	return qs, nil
}

func (r *VariantRepository) warm(ctx context.Context, variantRef string, qs []model.Question) bool {
	data, err := json.Marshal(qs)
	if err != nil {
		return false
	}
	if err := r.rdb.Set(ctx, config.CacheKey.VariantQuestionsKey(variantRef), data, variantTTL).Err(); err != nil {
		r.log.Warn().Err(err).Str("variant_ref", variantRef).Msg("Failed to cache variant")
		return false
	}
	return true
}
