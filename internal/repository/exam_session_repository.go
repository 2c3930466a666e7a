package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examguard/examguard-backend/internal/model"
)

// ExamSessionRepository handles exam session data access.
type ExamSessionRepository struct {
	pool *pgxpool.Pool
}

// NewExamSessionRepository creates a new ExamSessionRepository.
func NewExamSessionRepository(pool *pgxpool.Pool) *ExamSessionRepository {
	return &ExamSessionRepository{pool: pool}
}

// Create inserts a new ACTIVE session for the student-exam pair. The insert
// races against a partial unique index on (student_id, exam_id) for ACTIVE
// rows, so exactly one of two concurrent creates can win; the loser gets
// ErrConflict.
func (r *ExamSessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (student_id, exam_id, status, duration_seconds)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (student_id, exam_id) WHERE status = 'ACTIVE' DO NOTHING
		 RETURNING id, started_at, created_at`,
		s.StudentID, s.ExamID, model.SessionStatusActive, s.DurationSeconds,
	).Scan(&s.ID, &s.StartedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	s.Status = model.SessionStatusActive
	return nil
}

// GetByID retrieves a session by ID.
func (r *ExamSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, student_id, exam_id, status, started_at, duration_seconds, ended_at, final_score, created_at
		 FROM exam_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.StudentID, &s.ExamID, &s.Status, &s.StartedAt, &s.DurationSeconds, &s.EndedAt, &s.FinalScore, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// Finalize moves an ACTIVE session to a terminal state and persists its
// graded responses in one transaction. The UPDATE is conditional on the
// session still being ACTIVE, which makes the transition linearizable:
// of any number of concurrent finalizers exactly one observes applied=true.
//
// Response rows are inserted with ON CONFLICT DO NOTHING so a retried
// finalize after a partial failure cannot duplicate them.
func (r *ExamSessionRepository) Finalize(ctx context.Context, sessionID uuid.UUID, status string, endedAt time.Time, finalScore int, responses []model.Response) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $2, ended_at = $3, final_score = $4
		 WHERE id = $1 AND status = $5`,
		sessionID, status, endedAt, finalScore, model.SessionStatusActive)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Lost the race or the session never existed. Caller decides which.
		return false, nil
	}

	if len(responses) > 0 {
		batch := &pgx.Batch{}
		for _, resp := range responses {
			batch.Queue(
				`INSERT INTO responses (session_id, question_id, answer, correct, points_awarded)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (session_id, question_id) DO NOTHING`,
				resp.SessionID, resp.QuestionID, resp.Answer, resp.Correct, resp.PointsAwarded)
		}
		br := tx.SendBatch(ctx, batch)
		for range responses {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return false, err
			}
		}
		if err := br.Close(); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ListOverdue returns ACTIVE sessions whose deadline has passed as of the
// given instant.
func (r *ExamSessionRepository) ListOverdue(ctx context.Context, now time.Time) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, student_id, exam_id, status, started_at, duration_seconds, ended_at, final_score, created_at
		 FROM exam_sessions
		 WHERE status = $1
		   AND started_at + (duration_seconds || ' seconds')::interval <= $2`,
		model.SessionStatusActive, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.ExamSession
	for rows.Next() {
		var s model.ExamSession
		if err := rows.Scan(&s.ID, &s.StudentID, &s.ExamID, &s.Status, &s.StartedAt, &s.DurationSeconds, &s.EndedAt, &s.FinalScore, &s.CreatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListResponses returns the graded response rows for a session.
func (r *ExamSessionRepository) ListResponses(ctx context.Context, sessionID uuid.UUID) ([]model.Response, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_id, answer, correct, points_awarded, created_at
		 FROM responses
		 WHERE session_id = $1`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []model.Response
	for rows.Next() {
		var resp model.Response
		if err := rows.Scan(&resp.SessionID, &resp.QuestionID, &resp.Answer, &resp.Correct, &resp.PointsAwarded, &resp.CreatedAt); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
