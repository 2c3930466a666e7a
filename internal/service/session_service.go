package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/model"
	"github.com/examguard/examguard-backend/internal/repository"
)

// Session lifecycle errors.
var (
	ErrInvalidExamCode        = errors.New("no open exam matches that code")
	ErrSessionConflict        = errors.New("student already has an active session for this exam")
	ErrSessionNotFound        = errors.New("exam session not found")
	ErrSessionAlreadyTerminal = errors.New("exam session already ended")
)

// SessionStore is the session persistence surface the service needs.
type SessionStore interface {
	Create(ctx context.Context, s *model.ExamSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	Finalize(ctx context.Context, sessionID uuid.UUID, status string, endedAt time.Time, finalScore int, responses []model.Response) (bool, error)
	ListOverdue(ctx context.Context, now time.Time) ([]model.ExamSession, error)
}

// ExamStore resolves exams for session creation.
type ExamStore interface {
	GetOpenByCode(ctx context.Context, code string) (*model.Exam, error)
}

// QuestionStore supplies an exam's questions for grading.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// AnswerStore supplies a session's autosaved answers.
type AnswerStore interface {
	GetAll(ctx context.Context, sessionID uuid.UUID) (map[string]string, error)
	Clear(ctx context.Context, sessionID uuid.UUID) error
}

// AnswerKeySource serves the cached grading key for an exam. A cold or
// failing cache is not fatal; grading falls back to the question store.
type AnswerKeySource interface {
	GetAnswerKey(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SessionService owns the exam session lifecycle: creation, submission, and
// deadline expiry. A session moves from ACTIVE to exactly one terminal state
// no matter how many submitters and expiry sweeps race.
type SessionService struct {
	sessions  SessionStore
	exams     ExamStore
	questions QuestionStore
	answers   AnswerStore
	keys      AnswerKeySource
	log       zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(sessions SessionStore, exams ExamStore, questions QuestionStore, answers AnswerStore, keys AnswerKeySource, log zerolog.Logger) *SessionService {
	return &SessionService{
		sessions:  sessions,
		exams:     exams,
		questions: questions,
		answers:   answers,
		keys:      keys,
		log:       log,
	}
}

// CreateSession starts an ACTIVE session for the student on the exam with
// the given join code. The underlying insert is conditional on no ACTIVE
// session existing for the pair, so two concurrent creates resolve to one
// winner and one ErrSessionConflict.
func (s *SessionService) CreateSession(ctx context.Context, studentID int, examCode string) (*model.ExamSession, *model.Exam, error) {
	exam, err := s.exams.GetOpenByCode(ctx, examCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidExamCode
		}
		return nil, nil, fmt.Errorf("resolve exam code: %w", err)
	}

	session := &model.ExamSession{
		StudentID:       studentID,
		ExamID:          exam.ID,
		DurationSeconds: int(exam.Duration().Seconds()),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, nil, ErrSessionConflict
		}
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", session.ID.String()).
		Int("student_id", studentID).
		Str("exam_code", examCode).
		Msg("session created")

	return session, exam, nil
}

// Submit grades the given answers and completes the session. A nil answers
// map means "grade whatever was autosaved", which is how reconnecting
// clients and the expiry path behave.
//
// Grading runs before the terminal transition and is pure, so a losing
// racer wastes only CPU: the conditional finalize guarantees a single
// terminal state and a single set of response rows.
func (s *SessionService) Submit(ctx context.Context, sessionID uuid.UUID, answers map[string]string) (*model.ExamSession, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, ErrSessionAlreadyTerminal
	}

	if answers == nil {
		answers, err = s.answers.GetAll(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("load autosaved answers: %w", err)
		}
	}

	score, responses, err := s.gradeSession(ctx, session, answers)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	applied, err := s.sessions.Finalize(ctx, sessionID, model.SessionStatusCompleted, now, score, responses)
	if err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}
	if !applied {
		// Someone else won the terminal transition between our read and
		// our update.
		return nil, s.terminalRaceError(ctx, sessionID)
	}

	s.cleanupAnswers(ctx, sessionID)

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("final_score", score).
		Int("answered", len(responses)).
		Msg("session submitted")

	session.Status = model.SessionStatusCompleted
	session.EndedAt = &now
	session.FinalScore = &score
	return session, nil
}

// ExpireIfDue moves the session to EXPIRED if its deadline has passed,
// grading whatever answers were autosaved. It is idempotent and safe to
// race against Submit and other expiry sweeps: it reports true only for
// the caller that actually performed the transition.
func (s *SessionService) ExpireIfDue(ctx context.Context, sessionID uuid.UUID, now time.Time) (bool, error) {
	session, err := s.getSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.IsTerminal() {
		return false, nil
	}

	if now.Before(session.Deadline()) {
		return false, nil
	}

	answers, err := s.answers.GetAll(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("load autosaved answers: %w", err)
	}
	score, responses, err := s.gradeSession(ctx, session, answers)
	if err != nil {
		return false, err
	}

	applied, err := s.sessions.Finalize(ctx, sessionID, model.SessionStatusExpired, now, score, responses)
	if err != nil {
		return false, fmt.Errorf("finalize session: %w", err)
	}
	if !applied {
		// Already terminal; a concurrent submit or sweep got there first.
		return false, nil
	}

	s.cleanupAnswers(ctx, sessionID)

	s.log.Info().
		Str("session_id", sessionID.String()).
		Int("final_score", score).
		Time("deadline", session.Deadline()).
		Msg("session expired")

	return true, nil
}

// ListOverdue returns the ACTIVE sessions whose deadline has passed. The
// expiry worker feeds each result through ExpireIfDue.
func (s *SessionService) ListOverdue(ctx context.Context, now time.Time) ([]model.ExamSession, error) {
	return s.sessions.ListOverdue(ctx, now)
}

// GetSession retrieves a session, mapping a missing row to ErrSessionNotFound.
func (s *SessionService) GetSession(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	return s.getSession(ctx, sessionID)
}

func (s *SessionService) getSession(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// gradeSession scores the answers against the exam's key. The cached answer
// key keeps the grading hot path off PostgreSQL; a cold or broken cache
// falls back to the question store.
func (s *SessionService) gradeSession(ctx context.Context, session *model.ExamSession, answers map[string]string) (int, []model.Response, error) {
	questions, err := s.keys.GetAnswerKey(ctx, session.ExamID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("exam_id", session.ExamID.String()).
			Msg("answer key cache unavailable, grading from question store")
	}
	if err != nil || len(questions) == 0 {
		questions, err = s.questions.ListByExam(ctx, session.ExamID)
		if err != nil {
			return 0, nil, fmt.Errorf("load questions: %w", err)
		}
	}
	score, responses := Grade(session.ID, questions, answers)
	return score, responses, nil
}

// terminalRaceError distinguishes "session vanished" from "session reached
// a terminal state first" after a failed conditional finalize.
func (s *SessionService) terminalRaceError(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.sessions.GetByID(ctx, sessionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}
	return ErrSessionAlreadyTerminal
}

// cleanupAnswers drops the autosave hash after a terminal transition. Losing
// the hash is harmless at this point, so failures are only logged.
func (s *SessionService) cleanupAnswers(ctx context.Context, sessionID uuid.UUID) {
	if err := s.answers.Clear(ctx, sessionID); err != nil {
		s.log.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Msg("failed to clear autosaved answers")
	}
}
