package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examguard/examguard-backend/internal/model"
)

// ExamRepository handles exam data access.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetOpenByCode retrieves an exam by its join code. Only exams currently
// open for joining are returned; a closed or unknown code yields ErrNotFound.
func (r *ExamRepository) GetOpenByCode(ctx context.Context, code string) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, title, duration_minutes, is_open, created_at
		 FROM exams
		 WHERE code = $1 AND is_open = TRUE`, code,
	).Scan(&e.ID, &e.Code, &e.Title, &e.DurationMinutes, &e.IsOpen, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// GetByID retrieves an exam by ID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, code, title, duration_minutes, is_open, created_at
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Code, &e.Title, &e.DurationMinutes, &e.IsOpen, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e, nil
}

// List retrieves all exams, newest first.
func (r *ExamRepository) List(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, title, duration_minutes, is_open, created_at
		 FROM exams
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Code, &e.Title, &e.DurationMinutes, &e.IsOpen, &e.CreatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// Create inserts a new exam.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO exams (code, title, duration_minutes, is_open)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		e.Code, e.Title, e.DurationMinutes, e.IsOpen,
	).Scan(&e.ID, &e.CreatedAt)
}
