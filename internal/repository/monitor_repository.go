package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/examguard/examguard-backend/internal/config"
	"github.com/examguard/examguard-backend/internal/model"
)

// ActiveSessionRow is one active session joined with its student, as the
// monitoring feed needs it.
type ActiveSessionRow struct {
	SessionID   uuid.UUID `json:"session_id"`
	StudentID   int       `json:"student_id"`
	StudentName string    `json:"student_name"`
	StartedAt   time.Time `json:"started_at"`
}

// MonitorRepository provides data access for the live monitoring feed.
// It combines PostgreSQL (session state, violations) and Redis (live
// autosaved answer counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// ListActiveSessions returns all ACTIVE sessions for the given exam joined
// with student identity, ordered by student name.
func (r *MonitorRepository) ListActiveSessions(ctx context.Context, examID uuid.UUID) ([]ActiveSessionRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT es.id, s.id, s.name, es.started_at
		 FROM exam_sessions es
		 JOIN students s ON es.student_id = s.id
		 WHERE es.exam_id = $1 AND es.status = $2
		 ORDER BY s.name ASC`,
		examID, model.SessionStatusActive,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []ActiveSessionRow
	for rows.Next() {
		var row ActiveSessionRow
		if err := rows.Scan(&row.SessionID, &row.StudentID, &row.StudentName, &row.StartedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, row)
	}
	return sessions, rows.Err()
}

// GetAnsweredCounts returns, per session, how many questions currently have
// an autosaved answer in Redis.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return counts, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make(map[uuid.UUID]*redis.IntCmd, len(sessionIDs))
	for _, sid := range sessionIDs {
		cmds[sid] = pipe.HLen(ctx, config.CacheKey.SessionAnswersKey(sid.String()))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	for sid, cmd := range cmds {
		counts[sid] = cmd.Val()
	}
	return counts, nil
}
