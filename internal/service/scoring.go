package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/examguard/examguard-backend/internal/model"
)

// Grade scores a set of answers against an exam's questions. An answer is
// correct only on an exact match with the question's answer key, and earns
// the question's full point value; there is no partial credit.
//
// Only answered questions produce a response row. Unanswered questions are
// simply absent and contribute zero. Answers keyed by an unknown question ID
// are ignored.
//
// Grade is pure: it touches no storage and may safely run more than once
// for the same session.
func Grade(sessionID uuid.UUID, questions []model.Question, answers map[string]string) (int, []model.Response) {
	now := time.Now()
	total := 0
	responses := make([]model.Response, 0, len(answers))

	for _, q := range questions {
		answer, ok := answers[q.ID.String()]
		if !ok {
			continue
		}

		correct := answer == q.CorrectAnswer
		points := 0
		if correct {
			points = q.Points
		}
		total += points

		responses = append(responses, model.Response{
			SessionID:     sessionID,
			QuestionID:    q.ID,
			Answer:        answer,
			Correct:       correct,
			PointsAwarded: points,
			CreatedAt:     now,
		})
	}

	return total, responses
}
