package model

import (
	"github.com/google/uuid"
)

// QuestionOption is one selectable choice. Options are stored as a JSONB
// array on the question row.
type QuestionOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type Question struct {
	ID            uuid.UUID        `json:"id"`
	ExamID        uuid.UUID        `json:"exam_id"`
	Position      int              `json:"position"`
	Prompt        string           `json:"prompt"`
	Options       []QuestionOption `json:"options"`
	CorrectAnswer string           `json:"-"`
	Points        int              `json:"points"`
}

// StudentQuestion is the student-facing projection of a question. It never
// carries the correct answer or the point value.
type StudentQuestion struct {
	ID       uuid.UUID        `json:"id"`
	Position int              `json:"position"`
	Prompt   string           `json:"prompt"`
	Options  []QuestionOption `json:"options"`
}

// ForStudent strips grading fields from a question.
func (q *Question) ForStudent() StudentQuestion {
	return StudentQuestion{
		ID:       q.ID,
		Position: q.Position,
		Prompt:   q.Prompt,
		Options:  q.Options,
	}
}
