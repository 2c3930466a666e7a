package main

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/examguard/examguard-backend/internal/config"
	"github.com/examguard/examguard-backend/internal/database"
	"github.com/examguard/examguard-backend/internal/logger"
	"github.com/examguard/examguard-backend/internal/model"
	"github.com/examguard/examguard-backend/internal/repository"
)

// Seeds a demo exam, its questions, and a couple of student accounts so the
// whole flow can be exercised locally without an admin surface.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.MaxDBConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	studentRepo := repository.NewStudentRepository(pool)

	exam := &model.Exam{
		Code:            "DEMO-2026",
		Title:           "General Knowledge Demo",
		DurationMinutes: 30,
		IsOpen:          true,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create demo exam")
	}

	questions := []model.Question{
		{
			ExamID:   exam.ID,
			Position: 1,
			Prompt:   "Which planet is closest to the sun?",
			Options: []model.QuestionOption{
				{ID: "a", Text: "Venus"},
				{ID: "b", Text: "Mercury"},
				{ID: "c", Text: "Mars"},
				{ID: "d", Text: "Earth"},
			},
			CorrectAnswer: "b",
			Points:        10,
		},
		{
			ExamID:   exam.ID,
			Position: 2,
			Prompt:   "What is 12 * 12?",
			Options: []model.QuestionOption{
				{ID: "a", Text: "124"},
				{ID: "b", Text: "142"},
				{ID: "c", Text: "144"},
				{ID: "d", Text: "148"},
			},
			CorrectAnswer: "c",
			Points:        10,
		},
		{
			ExamID:   exam.ID,
			Position: 3,
			Prompt:   "Which ocean is the largest?",
			Options: []model.QuestionOption{
				{ID: "a", Text: "Atlantic"},
				{ID: "b", Text: "Indian"},
				{ID: "c", Text: "Arctic"},
				{ID: "d", Text: "Pacific"},
			},
			CorrectAnswer: "d",
			Points:        20,
		},
	}
	for i := range questions {
		if err := questionRepo.Create(ctx, &questions[i]); err != nil {
			log.Fatal().Err(err).Int("position", questions[i].Position).Msg("Failed to create question")
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash demo password")
	}

	students := []model.Student{
		{Username: "alice", Name: "Alice Demo", PasswordHash: string(hash)},
		{Username: "bob", Name: "Bob Demo", PasswordHash: string(hash)},
	}
	for i := range students {
		if err := studentRepo.Create(ctx, &students[i]); err != nil {
			log.Fatal().Err(err).Str("username", students[i].Username).Msg("Failed to create student")
		}
	}

	fmt.Println("Demo data seeded:")
	fmt.Printf("  exam code: %s (%d questions)\n", exam.Code, len(questions))
	fmt.Println("  students:  alice / bob (password: password123)")
}
