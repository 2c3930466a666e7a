package model

import (
	"time"

	"github.com/google/uuid"
)

// Session lifecycle states. A session is created ACTIVE and moves exactly
// once to COMPLETED (student submit) or EXPIRED (deadline passed).
const (
	SessionStatusActive    = "ACTIVE"
	SessionStatusCompleted = "COMPLETED"
	SessionStatusExpired   = "EXPIRED"
)

type ExamSession struct {
	ID        uuid.UUID `json:"id"`
	StudentID int       `json:"student_id"`
	ExamID    uuid.UUID `json:"exam_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	// DurationSeconds is copied from the exam at creation, so a later edit
	// to the exam cannot move a running session's deadline.
	DurationSeconds int        `json:"duration_seconds"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	FinalScore      *int       `json:"final_score,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Deadline returns the instant the session's exam time runs out.
func (s *ExamSession) Deadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// IsTerminal reports whether the session has reached a final state.
func (s *ExamSession) IsTerminal() bool {
	return s.Status != SessionStatusActive
}
