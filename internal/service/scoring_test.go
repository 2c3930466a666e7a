package service

import (
	"testing"

	"github.com/google/uuid"

	"github.com/examguard/examguard-backend/internal/model"
)

func makeQuestions(t *testing.T) []model.Question {
	t.Helper()
	return []model.Question{
		{ID: uuid.New(), Position: 1, CorrectAnswer: "a", Points: 10},
		{ID: uuid.New(), Position: 2, CorrectAnswer: "c", Points: 20},
		{ID: uuid.New(), Position: 3, CorrectAnswer: "b", Points: 5},
	}
}

func TestGradeExactMatchOnly(t *testing.T) {
	questions := makeQuestions(t)
	sessionID := uuid.New()

	answers := map[string]string{
		questions[0].ID.String(): "a", // correct
		questions[1].ID.String(): "b", // wrong
		questions[2].ID.String(): "B", // wrong: comparison is exact, not case-folded
	}

	score, responses := Grade(sessionID, questions, answers)

	if score != 10 {
		t.Fatalf("expected score 10, got %d", score)
	}
	if len(responses) != 3 {
		t.Fatalf("expected 3 response rows, got %d", len(responses))
	}

	byQID := map[uuid.UUID]model.Response{}
	for _, r := range responses {
		if r.SessionID != sessionID {
			t.Fatal("response bound to wrong session")
		}
		byQID[r.QuestionID] = r
	}
	if !byQID[questions[0].ID].Correct || byQID[questions[0].ID].PointsAwarded != 10 {
		t.Fatal("correct answer not awarded full points")
	}
	if byQID[questions[1].ID].Correct || byQID[questions[1].ID].PointsAwarded != 0 {
		t.Fatal("wrong answer must award zero")
	}
	if byQID[questions[2].ID].Correct {
		t.Fatal("case-differing answer must not match")
	}
}

func TestGradeSkipsUnanswered(t *testing.T) {
	questions := makeQuestions(t)

	answers := map[string]string{
		questions[1].ID.String(): "c",
	}

	score, responses := Grade(uuid.New(), questions, answers)

	if score != 20 {
		t.Fatalf("expected score 20, got %d", score)
	}
	// Unanswered questions get no row at all.
	if len(responses) != 1 {
		t.Fatalf("expected 1 response row, got %d", len(responses))
	}
}

func TestGradeIgnoresUnknownQuestionIDs(t *testing.T) {
	questions := makeQuestions(t)

	answers := map[string]string{
		uuid.NewString():         "a",
		questions[0].ID.String(): "a",
	}

	score, responses := Grade(uuid.New(), questions, answers)

	if score != 10 {
		t.Fatalf("expected score 10, got %d", score)
	}
	if len(responses) != 1 {
		t.Fatalf("unknown question IDs must not produce rows, got %d", len(responses))
	}
}

func TestGradeEmpty(t *testing.T) {
	score, responses := Grade(uuid.New(), makeQuestions(t), map[string]string{})
	if score != 0 || len(responses) != 0 {
		t.Fatalf("empty answers must grade to zero, got score=%d rows=%d", score, len(responses))
	}

	score, responses = Grade(uuid.New(), nil, map[string]string{"x": "y"})
	if score != 0 || len(responses) != 0 {
		t.Fatalf("no questions must grade to zero, got score=%d rows=%d", score, len(responses))
	}
}
