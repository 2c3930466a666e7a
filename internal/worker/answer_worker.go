package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/config"
	"github.com/examguard/examguard-backend/internal/repository"
)

// AnswerWorker mirrors autosaved answers from the Redis queue into the
// durable session_answers table. Answers are upserted one at a time; the
// table is only a safety net behind the Redis hash, so throughput matters
// less than for violations.
type AnswerWorker struct {
	answerRepo *repository.AnswerRepository
	rdb        *redis.Client
	log        zerolog.Logger
}

// NewAnswerWorker creates a new AnswerWorker.
func NewAnswerWorker(answerRepo *repository.AnswerRepository, rdb *redis.Client, log zerolog.Logger) *AnswerWorker {
	return &AnswerWorker{
		answerRepo: answerRepo,
		rdb:        rdb,
		log:        log.With().Str("component", "answer_worker").Logger(),
	}
}

type answerPayload struct {
	SessionID string `json:"session_id"`
	QID       string `json:"q_id"`
	Answer    string `json:"answer"`
}

// Start runs the drain loop until ctx is cancelled.
func (w *AnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("answer worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("answer worker stopping")
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var payload answerPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("discarding malformed answer payload")
			continue
		}

		w.persist(ctx, &payload, result[1])
	}
}

func (w *AnswerWorker) persist(ctx context.Context, p *answerPayload, raw string) {
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		w.log.Error().Str("session_id", p.SessionID).Msg("dropping answer with invalid session id")
		return
	}
	questionID, err := uuid.Parse(p.QID)
	if err != nil {
		w.log.Error().Str("q_id", p.QID).Msg("dropping answer with invalid question id")
		return
	}

	if err := w.answerRepo.Upsert(ctx, sessionID, questionID, p.Answer); err != nil {
		w.log.Error().Err(err).Str("session_id", p.SessionID).Msg("upsert failed, requeueing")
		if err := w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw).Err(); err != nil {
			w.log.Error().Err(err).Msg("CRITICAL: failed to requeue answer, data loss occurred")
		}
		// Sleep a bit to avoid thrashing if the DB is down hard
		time.Sleep(2 * time.Second)
	}
}
