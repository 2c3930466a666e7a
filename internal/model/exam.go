package model

import (
	"time"

	"github.com/google/uuid"
)

type Exam struct {
	ID              uuid.UUID `json:"id"`
	Code            string    `json:"code"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	IsOpen          bool      `json:"is_open"`
	CreatedAt       time.Time `json:"created_at"`
}

// Duration returns the exam's time limit as a time.Duration.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationMinutes) * time.Minute
}
