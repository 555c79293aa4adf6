package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// attemptBufferTTL bounds how long per-attempt Redis buffers outlive a
// student who never comes back.
const attemptBufferTTL = 24 * time.Hour

// bufferAnswers writes the hash and queues the job unless the attempt was
// already submitted. KEYS: answers hash, queue, completed marker.
// ARGV: ttl seconds, job, then question/option pairs.
var bufferAnswers = redis.NewScript(`
if redis.call("EXISTS", KEYS[3]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("EXPIRE", KEYS[1], ARGV[1])
redis.call("RPUSH", KEYS[2], ARGV[2])
return 1`)

// AnswerStore buffers answers in Redis and queues them for the autosave worker.
type AnswerStore struct {
	rdb   *redis.Client
	clock func() time.Time
}

// NewAnswerStore creates a new AnswerStore.
func NewAnswerStore(rdb *redis.Client) *AnswerStore {
	return &AnswerStore{rdb: rdb, clock: time.Now}
}

// SaveAnswers writes the full answer map. The hash and the queue push run
// in one script so the worker never persists something the fast lane does
// not show. A save racing the submit returns model.ErrAttemptCompleted.
func (s *AnswerStore) SaveAnswers(ctx context.Context, attemptID uuid.UUID, answers model.Answers) error {
	if len(answers) == 0 {
		return nil
	}

	job, err := json.Marshal(model.AnswersSnapshot{
		AttemptID: attemptID,
		Answers:   answers,
		SavedAt:   s.clock().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	args := make([]any, 0, 2+2*len(answers))
	args = append(args, int(attemptBufferTTL/time.Second), job)
	for qid, opt := range answers {
		args = append(args, qid, opt)
	}

	ref := attemptID.String()
	written, err := bufferAnswers.Run(ctx, s.rdb, []string{
		config.CacheKey.AttemptAnswersKey(ref),
		config.WorkerKey.PersistAnswersQueue,
		config.CacheKey.AttemptCompletedKey(ref),
	}, args...).Int()
	if err != nil {
		return fmt.Errorf("buffer answers: %w", err)
	}
	if written == 0 {
		return model.ErrAttemptCompleted
	}
	return nil
}

// Buffered returns the answers held in the fast lane, or nil when none are.
func (s *AnswerStore) Buffered(ctx context.Context, attemptID uuid.UUID) (model.Answers, error) {
	m, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("read buffered answers: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}
	return model.Answers(m), nil
}
