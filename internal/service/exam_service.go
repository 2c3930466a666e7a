package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/config"
	"github.com/examguard/examguard-backend/internal/model"
	"github.com/examguard/examguard-backend/internal/repository"
)

// ExamService serves exam payloads to students. Payloads and answer keys are
// cached in Redis so the exam hot path never touches PostgreSQL.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, questionRepo *repository.QuestionRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log,
	}
}

// ExamPayload is the student-facing exam package: the exam header plus its
// questions with grading fields stripped.
type ExamPayload struct {
	ID              uuid.UUID               `json:"id"`
	Title           string                  `json:"title"`
	DurationMinutes int                     `json:"duration_minutes"`
	Questions       []model.StudentQuestion `json:"questions"`
}

// GetExamPayload returns the cached student-facing payload for an exam,
// warming the cache on a miss.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		var payload ExamPayload
		if err := json.Unmarshal([]byte(raw), &payload); err == nil {
			return &payload, nil
		}
		// Corrupt cache entry; fall through and rebuild.
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read payload cache: %w", err)
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("load exam: %w", err)
	}
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return nil, err
	}

	raw, err = s.rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read payload cache after warm: %w", err)
	}
	var payload ExamPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &payload, nil
}

// WarmExamCache loads an exam's payload and answer key from PostgreSQL into
// Redis. Both entries are written atomically via pipeline.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("load questions: %w", err)
	}

	studentQuestions := make([]model.StudentQuestion, 0, len(questions))
	answerKey := make(map[string]string, len(questions))
	for i := range questions {
		studentQuestions = append(studentQuestions, questions[i].ForStudent())
		entry, err := json.Marshal(answerKeyEntry{
			Answer: questions[i].CorrectAnswer,
			Points: questions[i].Points,
		})
		if err != nil {
			return fmt.Errorf("encode answer key: %w", err)
		}
		answerKey[questions[i].ID.String()] = string(entry)
	}

	payloadJSON, err := json.Marshal(ExamPayload{
		ID:              exam.ID,
		Title:           exam.Title,
		DurationMinutes: exam.DurationMinutes,
		Questions:       studentQuestions,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	payloadKey := config.CacheKey.ExamPayloadKey(exam.ID.String())
	keyKey := config.CacheKey.ExamAnswerKey(exam.ID.String())

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, payloadKey, payloadJSON, 0)
	pipe.Del(ctx, keyKey)
	if len(answerKey) > 0 {
		pipe.HSet(ctx, keyKey, answerKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write exam cache: %w", err)
	}

	return nil
}

// answerKeyEntry is the per-question grading record in the cached answer key.
// It holds exactly what scoring needs, so grading can run off Redis alone.
type answerKeyEntry struct {
	Answer string `json:"answer"`
	Points int    `json:"points"`
}

// GetAnswerKey returns the cached grading key for an exam as a minimal
// question set. An empty result means the cache is cold; callers fall back
// to PostgreSQL.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.ExamAnswerKey(examID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("read answer key cache: %w", err)
	}

	questions := make([]model.Question, 0, len(raw))
	for qid, payload := range raw {
		id, err := uuid.Parse(qid)
		if err != nil {
			return nil, fmt.Errorf("answer key entry %q: %w", qid, err)
		}
		var entry answerKeyEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("decode answer key entry %q: %w", qid, err)
		}
		questions = append(questions, model.Question{
			ID:            id,
			ExamID:        examID,
			CorrectAnswer: entry.Answer,
			Points:        entry.Points,
		})
	}
	return questions, nil
}

// ListExams returns all exams, newest first. Used by the proctor UI to pick
// an exam to monitor.
func (s *ExamService) ListExams(ctx context.Context) ([]model.Exam, error) {
	return s.examRepo.List(ctx)
}

// PrewarmAllCaches loads every open exam into Redis. Called once on startup
// so the first student of the day does not pay the warm-up cost.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("list exams: %w", err)
	}

	warmed := 0
	for i := range exams {
		if !exams[i].IsOpen {
			continue
		}
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Error().Err(err).
				Str("exam_id", exams[i].ID.String()).
				Msg("failed to prewarm exam cache")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Msg("exam cache prewarm complete")
	return nil
}
