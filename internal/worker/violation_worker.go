package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/config"
	"github.com/examguard/examguard-backend/internal/model"
	"github.com/examguard/examguard-backend/internal/repository"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// ViolationWorker drains the violation queue into PostgreSQL. The hot path
// (WebSocket ingest) only does an RPush; this worker batches, bulk-inserts,
// and falls back to row-by-row with requeue when the bulk path fails.
type ViolationWorker struct {
	violationRepo *repository.ViolationRepository
	rdb           *redis.Client
	log           zerolog.Logger
}

// NewViolationWorker creates a new ViolationWorker.
func NewViolationWorker(violationRepo *repository.ViolationRepository, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		violationRepo: violationRepo,
		rdb:           rdb,
		log:           log.With().Str("component", "violation_worker").Logger(),
	}
}

type violationPayload struct {
	SessionID  string `json:"session_id"`
	Type       string `json:"type"`
	Details    string `json:"details"`
	OccurredAt string `json:"occurred_at"`
}

// Start runs the drain loop until ctx is cancelled, then flushes whatever
// is buffered.
func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("violation worker started")

	buffer := make([]*violationPayload, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check flush conditions (time or size)
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0] // Clear buffer, keep capacity
				lastFlushTime = time.Now()
			}
		}

		// 2. Check context (graceful shutdown)
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis. BLPop blocks for 1 second and returns
		// immediately if data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty, loop back to check flush timer
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

		var payload violationPayload
		if err := json.Unmarshal([]byte(result[1]), &payload); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("discarding malformed violation payload")
			continue
		}

		buffer = append(buffer, &payload)
	}
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []*violationPayload) {
	events, bad := w.decode(batch)
	for _, p := range bad {
		w.log.Error().Str("session_id", p.SessionID).Msg("dropping violation with invalid fields")
	}
	if len(events) == 0 {
		return
	}

	if _, err := w.violationRepo.BulkInsert(ctx, events); err != nil {
		w.log.Warn().Err(err).Int("count", len(events)).Msg("bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, events)
	}
}

// decode parses payloads into model events, separating undecodable ones.
func (w *ViolationWorker) decode(batch []*violationPayload) ([]model.ViolationEvent, []*violationPayload) {
	events := make([]model.ViolationEvent, 0, len(batch))
	var bad []*violationPayload

	for _, p := range batch {
		sessionID, err := uuid.Parse(p.SessionID)
		if err != nil {
			bad = append(bad, p)
			continue
		}
		occurredAt, err := time.Parse(time.RFC3339Nano, p.OccurredAt)
		if err != nil {
			occurredAt = time.Now()
		}
		events = append(events, model.ViolationEvent{
			SessionID:  sessionID,
			Type:       p.Type,
			Details:    p.Details,
			OccurredAt: occurredAt,
		})
	}
	return events, bad
}

func (w *ViolationWorker) fallbackInsert(ctx context.Context, events []model.ViolationEvent) {
	var requeueList []model.ViolationEvent

	for i := range events {
		if err := w.violationRepo.Insert(ctx, &events[i]); err != nil {
			w.log.Error().Err(err).Str("session_id", events[i].SessionID.String()).Msg("insert failed, requeueing")
			requeueList = append(requeueList, events[i])
		}
	}

	// If the DB was down, push the failures back to Redis.
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, events []model.ViolationEvent) {
	pipe := w.rdb.Pipeline()
	for _, v := range events {
		data, _ := json.Marshal(violationPayload{
			SessionID:  v.SessionID.String(),
			Type:       v.Type,
			Details:    v.Details,
			OccurredAt: v.OccurredAt.Format(time.RFC3339Nano),
		})
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: failed to requeue violations, data loss occurred")
	} else {
		w.log.Info().Int("count", len(events)).Msg("requeued failed violations back to redis")
		// Sleep a bit to avoid thrashing if the DB is down hard
		time.Sleep(2 * time.Second)
	}
}

func (w *ViolationWorker) shutdown(buffer []*violationPayload) {
	w.log.Info().Msg("worker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		w.flushSafe(shutdownCtx, buffer)
	}
}
