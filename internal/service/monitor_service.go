package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/examguard/examguard-backend/internal/repository"
)

// MonitorService assembles the proctor's live view of an exam in progress.
type MonitorService struct {
	monitorRepo   *repository.MonitorRepository
	violationRepo *repository.ViolationRepository
	questionRepo  *repository.QuestionRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(monitorRepo *repository.MonitorRepository, violationRepo *repository.ViolationRepository, questionRepo *repository.QuestionRepository) *MonitorService {
	return &MonitorService{
		monitorRepo:   monitorRepo,
		violationRepo: violationRepo,
		questionRepo:  questionRepo,
	}
}

// ActiveSessionView is one row of the monitoring feed.
type ActiveSessionView struct {
	SessionID       uuid.UUID `json:"session_id"`
	StudentID       int       `json:"student_id"`
	StudentName     string    `json:"student_name"`
	StartedAt       time.Time `json:"started_at"`
	AnsweredCount   int64     `json:"answered_count"`
	TotalQuestions  int       `json:"total_questions"`
	ProgressPercent int       `json:"progress_percent"`
	ViolationCount  int64     `json:"violation_count"`
}

// ListActiveSessions returns every ACTIVE session of the exam with answer
// progress and violation counts. Counts come from two independent stores,
// so they are fetched in parallel once the session list is known.
func (s *MonitorService) ListActiveSessions(ctx context.Context, examID uuid.UUID) ([]ActiveSessionView, error) {
	rows, err := s.monitorRepo.ListActiveSessions(ctx, examID)
	if err != nil {
		return nil, err
	}

	totalQuestions, err := s.countQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}

	sessionIDs := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		sessionIDs = append(sessionIDs, row.SessionID)
	}

	var (
		answeredCounts  map[uuid.UUID]int64
		violationCounts map[uuid.UUID]int64
		answeredErr     error
		violationErr    error
		wg              sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		answeredCounts, answeredErr = s.monitorRepo.GetAnsweredCounts(ctx, sessionIDs)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		violationCounts, violationErr = s.violationRepo.CountBySessions(ctx, sessionIDs)
	}()

	wg.Wait()

	// Answer progress is critical; violation counts are best-effort.
	if answeredErr != nil {
		return nil, answeredErr
	}
	if violationErr != nil {
		violationCounts = map[uuid.UUID]int64{}
	}

	views := make([]ActiveSessionView, 0, len(rows))
	for _, row := range rows {
		answered := answeredCounts[row.SessionID]
		views = append(views, ActiveSessionView{
			SessionID:       row.SessionID,
			StudentID:       row.StudentID,
			StudentName:     row.StudentName,
			StartedAt:       row.StartedAt,
			AnsweredCount:   answered,
			TotalQuestions:  totalQuestions,
			ProgressPercent: progressPercent(answered, totalQuestions),
			ViolationCount:  violationCounts[row.SessionID],
		})
	}
	return views, nil
}

// RecentViolations returns a session's latest n violations, newest first.
func (s *MonitorService) RecentViolations(ctx context.Context, sessionID uuid.UUID, n int) ([]ViolationView, error) {
	events, err := s.violationRepo.ListBySession(ctx, sessionID, n)
	if err != nil {
		return nil, err
	}
	views := make([]ViolationView, 0, len(events))
	for _, e := range events {
		views = append(views, ViolationView{
			Type:       e.Type,
			Details:    e.Details,
			OccurredAt: e.OccurredAt,
		})
	}
	return views, nil
}

// AllViolations returns a session's full violation history, newest first.
func (s *MonitorService) AllViolations(ctx context.Context, sessionID uuid.UUID) ([]ViolationView, error) {
	return s.RecentViolations(ctx, sessionID, 0)
}

// ViolationView is the proctor-facing projection of a violation event.
type ViolationView struct {
	Type       string    `json:"type"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *MonitorService) countQuestions(ctx context.Context, examID uuid.UUID) (int, error) {
	questions, err := s.questionRepo.ListByExam(ctx, examID)
	if err != nil {
		return 0, err
	}
	return len(questions), nil
}

// progressPercent computes answered/total rounded to the nearest whole
// percentage, clamped to 100 in case stale autosaves outnumber the current
// question set.
func progressPercent(answered int64, total int) int {
	if total <= 0 {
		return 0
	}
	pct := int((answered*200 + int64(total)) / (2 * int64(total)))
	if pct > 100 {
		pct = 100
	}
	return pct
}
