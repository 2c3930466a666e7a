package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/examguard/examguard-backend/internal/config"
)

// AnswerRepository stores in-progress answers. The hot path is a Redis hash
// keyed by session; a background worker mirrors the hash into the
// session_answers table so answers survive a cache flush.
type AnswerRepository struct {
	rdb  *redis.Client
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(rdb *redis.Client, pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{rdb: rdb, pool: pool}
}

// Save records one autosaved answer in the session's Redis hash.
func (r *AnswerRepository) Save(ctx context.Context, sessionID uuid.UUID, questionID uuid.UUID, answer string) error {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	return r.rdb.HSet(ctx, key, questionID.String(), answer).Err()
}

// GetAll returns the session's autosaved answers as question ID to answer.
// Redis is consulted first; on a miss the durable mirror is used.
func (r *AnswerRepository) GetAll(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	answers, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		return answers, nil
	}
	return r.getAllDurable(ctx, sessionID)
}

func (r *AnswerRepository) getAllDurable(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id, answer FROM session_answers WHERE session_id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	answers := make(map[string]string)
	for rows.Next() {
		var questionID uuid.UUID
		var answer string
		if err := rows.Scan(&questionID, &answer); err != nil {
			return nil, err
		}
		answers[questionID.String()] = answer
	}
	return answers, rows.Err()
}

// Upsert mirrors one answer into the durable session_answers table.
func (r *AnswerRepository) Upsert(ctx context.Context, sessionID uuid.UUID, questionID uuid.UUID, answer string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_answers (session_id, question_id, answer)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id, question_id)
		 DO UPDATE SET answer = EXCLUDED.answer, updated_at = NOW()`,
		sessionID, questionID, answer)
	return err
}

// Clear drops the session's Redis hash. Called after a session reaches a
// terminal state and its answers have been graded.
func (r *AnswerRepository) Clear(ctx context.Context, sessionID uuid.UUID) error {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	return r.rdb.Del(ctx, key).Err()
}
