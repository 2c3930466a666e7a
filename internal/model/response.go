package model

import (
	"time"

	"github.com/google/uuid"
)

// Response is one graded answer row. A row exists only for questions the
// student actually answered; unanswered questions have no row and score zero.
type Response struct {
	SessionID     uuid.UUID `json:"session_id"`
	QuestionID    uuid.UUID `json:"question_id"`
	Answer        string    `json:"answer"`
	Correct       bool      `json:"correct"`
	PointsAwarded int       `json:"points_awarded"`
	CreatedAt     time.Time `json:"created_at"`
}
