package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examguard/examguard-backend/internal/model"
)

// ViolationRepository handles integrity violation persistence.
type ViolationRepository struct {
	pool *pgxpool.Pool
}

// NewViolationRepository creates a new ViolationRepository.
func NewViolationRepository(pool *pgxpool.Pool) *ViolationRepository {
	return &ViolationRepository{pool: pool}
}

// Insert records a single violation event.
func (r *ViolationRepository) Insert(ctx context.Context, v *model.ViolationEvent) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO violation_events (session_id, type, details, occurred_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id`,
		v.SessionID, v.Type, v.Details, v.OccurredAt,
	).Scan(&v.ID)
}

// BulkInsert writes a batch of violation events using COPY. Used by the
// persistence worker to flush queued events efficiently.
func (r *ViolationRepository) BulkInsert(ctx context.Context, events []model.ViolationEvent) (int64, error) {
	rows := make([][]any, 0, len(events))
	for _, v := range events {
		rows = append(rows, []any{v.SessionID, v.Type, v.Details, v.OccurredAt})
	}

	return r.pool.CopyFrom(ctx,
		pgx.Identifier{"violation_events"},
		[]string{"session_id", "type", "details", "occurred_at"},
		pgx.CopyFromRows(rows),
	)
}

// ListBySession returns a session's violations, most recent first. A limit
// of 0 returns all of them.
func (r *ViolationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]model.ViolationEvent, error) {
	query := `SELECT id, session_id, type, details, occurred_at
		 FROM violation_events
		 WHERE session_id = $1
		 ORDER BY occurred_at DESC, id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ViolationEvent
	for rows.Next() {
		var v model.ViolationEvent
		if err := rows.Scan(&v.ID, &v.SessionID, &v.Type, &v.Details, &v.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, v)
	}
	return events, rows.Err()
}

// CountBySessions returns violation counts grouped by session for the given
// session IDs.
func (r *ViolationRepository) CountBySessions(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64)
	if len(sessionIDs) == 0 {
		return counts, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT session_id, COUNT(*)
		 FROM violation_events
		 WHERE session_id = ANY($1)
		 GROUP BY session_id`,
		sessionIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var sid uuid.UUID
		var count int64
		if err := rows.Scan(&sid, &count); err != nil {
			return nil, err
		}
		counts[sid] = count
	}
	return counts, rows.Err()
}
