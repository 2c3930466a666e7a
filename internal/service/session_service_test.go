package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/model"
	"github.com/examguard/examguard-backend/internal/repository"
)

// ─── In-memory fakes ────────────────────────────────────────────────────────

type fakeSessionStore struct {
	mu        sync.Mutex
	sessions  map[uuid.UUID]*model.ExamSession
	active    map[string]uuid.UUID // student/exam pair with an ACTIVE session
	responses map[uuid.UUID][]model.Response
	finalized int // number of successful terminal transitions
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		sessions:  make(map[uuid.UUID]*model.ExamSession),
		active:    make(map[string]uuid.UUID),
		responses: make(map[uuid.UUID][]model.Response),
	}
}

func pairKey(studentID int, examID uuid.UUID) string {
	return fmt.Sprintf("%d/%s", studentID, examID)
}

func (f *fakeSessionStore) Create(ctx context.Context, s *model.ExamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := pairKey(s.StudentID, s.ExamID)
	if _, exists := f.active[key]; exists {
		return repository.ErrConflict
	}

	s.ID = uuid.New()
	s.Status = model.SessionStatusActive
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	s.CreatedAt = s.StartedAt

	stored := *s
	f.sessions[s.ID] = &stored
	f.active[key] = s.ID
	return nil
}

func (f *fakeSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessionStore) Finalize(ctx context.Context, sessionID uuid.UUID, status string, endedAt time.Time, finalScore int, responses []model.Response) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[sessionID]
	if !ok || s.Status != model.SessionStatusActive {
		return false, nil
	}

	s.Status = status
	s.EndedAt = &endedAt
	s.FinalScore = &finalScore
	delete(f.active, pairKey(s.StudentID, s.ExamID))
	f.responses[sessionID] = append(f.responses[sessionID], responses...)
	f.finalized++
	return true, nil
}

func (f *fakeSessionStore) ListOverdue(ctx context.Context, now time.Time) ([]model.ExamSession, error) {
	return nil, nil
}

// setStartedAt rewinds a session's clock so deadline tests don't sleep.
func (f *fakeSessionStore) setStartedAt(id uuid.UUID, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].StartedAt = at
}

type fakeExamStore struct {
	byCode map[string]*model.Exam
}

func newFakeExamStore(exams ...*model.Exam) *fakeExamStore {
	f := &fakeExamStore{byCode: make(map[string]*model.Exam)}
	for _, e := range exams {
		f.byCode[e.Code] = e
	}
	return f
}

func (f *fakeExamStore) GetOpenByCode(ctx context.Context, code string) (*model.Exam, error) {
	e, ok := f.byCode[code]
	if !ok || !e.IsOpen {
		return nil, repository.ErrNotFound
	}
	return e, nil
}

type fakeQuestionStore struct {
	mu     sync.Mutex
	byExam map[uuid.UUID][]model.Question
	reads  int
}

func (f *fakeQuestionStore) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.byExam[examID], nil
}

func (f *fakeQuestionStore) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

type fakeAnswerKeySource struct {
	byExam map[uuid.UUID][]model.Question
	err    error
}

func (f *fakeAnswerKeySource) GetAnswerKey(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byExam[examID], nil
}

type fakeAnswerStore struct {
	mu      sync.Mutex
	answers map[uuid.UUID]map[string]string
	cleared map[uuid.UUID]bool
}

func newFakeAnswerStore() *fakeAnswerStore {
	return &fakeAnswerStore{
		answers: make(map[uuid.UUID]map[string]string),
		cleared: make(map[uuid.UUID]bool),
	}
}

func (f *fakeAnswerStore) GetAll(ctx context.Context, sessionID uuid.UUID) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.answers[sessionID]))
	for k, v := range f.answers[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAnswerStore) Clear(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.answers, sessionID)
	f.cleared[sessionID] = true
	return nil
}

func (f *fakeAnswerStore) set(sessionID uuid.UUID, qID, answer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers[sessionID] == nil {
		f.answers[sessionID] = make(map[string]string)
	}
	f.answers[sessionID][qID] = answer
}

// ─── Fixtures ───────────────────────────────────────────────────────────────

type sessionFixture struct {
	svc       *SessionService
	sessions  *fakeSessionStore
	answers   *fakeAnswerStore
	store     *fakeQuestionStore
	keys      *fakeAnswerKeySource
	exam      *model.Exam
	questions []model.Question
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	exam := &model.Exam{
		ID:              uuid.New(),
		Code:            "MATH-101",
		Title:           "Algebra Final",
		DurationMinutes: 60,
		IsOpen:          true,
	}
	questions := []model.Question{
		{ID: uuid.New(), ExamID: exam.ID, Position: 1, CorrectAnswer: "a", Points: 10},
		{ID: uuid.New(), ExamID: exam.ID, Position: 2, CorrectAnswer: "b", Points: 15},
	}

	sessions := newFakeSessionStore()
	answers := newFakeAnswerStore()
	store := &fakeQuestionStore{byExam: map[uuid.UUID][]model.Question{exam.ID: questions}}
	// Cold key cache by default, so grading exercises the fallback path.
	keys := &fakeAnswerKeySource{byExam: map[uuid.UUID][]model.Question{}}
	svc := NewSessionService(
		sessions,
		newFakeExamStore(exam),
		store,
		answers,
		keys,
		zerolog.Nop(),
	)

	return &sessionFixture{
		svc:       svc,
		sessions:  sessions,
		answers:   answers,
		store:     store,
		keys:      keys,
		exam:      exam,
		questions: questions,
	}
}

func (fx *sessionFixture) createSession(t *testing.T, studentID int) *model.ExamSession {
	t.Helper()
	session, _, err := fx.svc.CreateSession(context.Background(), studentID, fx.exam.Code)
	if err != nil {
		t.Fatalf("createSession: %v", err)
	}
	return session
}

// ─── CreateSession ──────────────────────────────────────────────────────────

func TestCreateSessionInvalidExamCode(t *testing.T) {
	fx := newSessionFixture(t)

	_, _, err := fx.svc.CreateSession(context.Background(), 1, "NO-SUCH-CODE")
	if !errors.Is(err, ErrInvalidExamCode) {
		t.Fatalf("expected ErrInvalidExamCode, got %v", err)
	}
}

func TestCreateSessionConflict(t *testing.T) {
	fx := newSessionFixture(t)

	fx.createSession(t, 1)
	_, _, err := fx.svc.CreateSession(context.Background(), 1, fx.exam.Code)
	if !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}

	// A different student is unaffected.
	fx.createSession(t, 2)
}

func TestCreateSessionCopiesExamDuration(t *testing.T) {
	fx := newSessionFixture(t)

	session := fx.createSession(t, 1)
	if session.DurationSeconds != 3600 {
		t.Fatalf("expected 3600s copied from the exam, got %d", session.DurationSeconds)
	}
}

func TestCreateSessionConcurrentSingleWinner(t *testing.T) {
	fx := newSessionFixture(t)

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = fx.svc.CreateSession(context.Background(), 7, fx.exam.Code)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSessionConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning create, got %d", wins)
	}
}

// ─── Submit ─────────────────────────────────────────────────────────────────

func TestSubmitGradesAndCompletes(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	answers := map[string]string{
		fx.questions[0].ID.String(): "a", // 10 points
		fx.questions[1].ID.String(): "x", // wrong
	}

	result, err := fx.svc.Submit(context.Background(), session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Status != model.SessionStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", result.Status)
	}
	if result.FinalScore == nil || *result.FinalScore != 10 {
		t.Fatalf("expected final score 10, got %v", result.FinalScore)
	}
	if len(fx.sessions.responses[session.ID]) != 2 {
		t.Fatalf("expected 2 persisted responses, got %d", len(fx.sessions.responses[session.ID]))
	}
	if !fx.answers.cleared[session.ID] {
		t.Fatal("autosaved answers should be cleared after submit")
	}
}

func TestSubmitFallsBackToAutosavedAnswers(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	fx.answers.set(session.ID, fx.questions[1].ID.String(), "b")

	result, err := fx.svc.Submit(context.Background(), session.ID, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.FinalScore == nil || *result.FinalScore != 15 {
		t.Fatalf("expected autosaved answers to grade to 15, got %v", result.FinalScore)
	}
}

func TestSubmitGradesFromCachedAnswerKey(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	// Warm key cache: grading must not touch the question store at all.
	fx.keys.byExam[fx.exam.ID] = fx.questions

	answers := map[string]string{fx.questions[1].ID.String(): "b"}
	result, err := fx.svc.Submit(context.Background(), session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.FinalScore == nil || *result.FinalScore != 15 {
		t.Fatalf("expected score 15 from the cached key, got %v", result.FinalScore)
	}
	if got := fx.store.readCount(); got != 0 {
		t.Fatalf("expected 0 question store reads with a warm key cache, got %d", got)
	}
}

func TestSubmitFallsBackWhenAnswerKeyUnavailable(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	fx.keys.err = errors.New("redis down")

	answers := map[string]string{fx.questions[0].ID.String(): "a"}
	result, err := fx.svc.Submit(context.Background(), session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.FinalScore == nil || *result.FinalScore != 10 {
		t.Fatalf("expected score 10 via the question store fallback, got %v", result.FinalScore)
	}
	if got := fx.store.readCount(); got != 1 {
		t.Fatalf("expected 1 question store read, got %d", got)
	}
}

func TestSubmitNotFound(t *testing.T) {
	fx := newSessionFixture(t)

	_, err := fx.svc.Submit(context.Background(), uuid.New(), nil)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitTwice(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	if _, err := fx.svc.Submit(context.Background(), session.ID, nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := fx.svc.Submit(context.Background(), session.ID, nil)
	if !errors.Is(err, ErrSessionAlreadyTerminal) {
		t.Fatalf("expected ErrSessionAlreadyTerminal, got %v", err)
	}
}

func TestSubmitConcurrentSingleWinner(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	answers := map[string]string{fx.questions[0].ID.String(): "a"}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.svc.Submit(context.Background(), session.ID, answers)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrSessionAlreadyTerminal):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning submit, got %d", wins)
	}
	if fx.sessions.finalized != 1 {
		t.Fatalf("expected exactly 1 terminal transition, got %d", fx.sessions.finalized)
	}
	// Responses persisted exactly once.
	if got := len(fx.sessions.responses[session.ID]); got != 1 {
		t.Fatalf("expected 1 persisted response, got %d", got)
	}
}

// ─── ExpireIfDue ────────────────────────────────────────────────────────────

func TestExpireIfDueBeforeDeadline(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	applied, err := fx.svc.ExpireIfDue(context.Background(), session.ID, time.Now())
	if err != nil {
		t.Fatalf("expireIfDue: %v", err)
	}
	if applied {
		t.Fatal("session expired before its deadline")
	}

	got, _ := fx.svc.GetSession(context.Background(), session.ID)
	if got.Status != model.SessionStatusActive {
		t.Fatalf("session should stay ACTIVE, got %s", got.Status)
	}
}

func TestExpireIfDueGradesAutosavedAnswers(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)

	fx.sessions.setStartedAt(session.ID, time.Now().Add(-2*time.Hour))
	fx.answers.set(session.ID, fx.questions[0].ID.String(), "a")

	applied, err := fx.svc.ExpireIfDue(context.Background(), session.ID, time.Now())
	if err != nil {
		t.Fatalf("expireIfDue: %v", err)
	}
	if !applied {
		t.Fatal("expected the expiry to apply")
	}

	got, _ := fx.svc.GetSession(context.Background(), session.ID)
	if got.Status != model.SessionStatusExpired {
		t.Fatalf("expected EXPIRED, got %s", got.Status)
	}
	if got.FinalScore == nil || *got.FinalScore != 10 {
		t.Fatalf("expected autosaved answers graded to 10, got %v", got.FinalScore)
	}
	if got.EndedAt == nil {
		t.Fatal("expired session must carry its end time")
	}
}

func TestExpireIfDueIdempotent(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)
	fx.sessions.setStartedAt(session.ID, time.Now().Add(-2*time.Hour))

	applied, err := fx.svc.ExpireIfDue(context.Background(), session.ID, time.Now())
	if err != nil || !applied {
		t.Fatalf("first expiry: applied=%v err=%v", applied, err)
	}

	applied, err = fx.svc.ExpireIfDue(context.Background(), session.ID, time.Now())
	if err != nil {
		t.Fatalf("second expiry errored: %v", err)
	}
	if applied {
		t.Fatal("second expiry must be a no-op")
	}
}

func TestExpireThenSubmit(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)
	fx.sessions.setStartedAt(session.ID, time.Now().Add(-2*time.Hour))

	if applied, err := fx.svc.ExpireIfDue(context.Background(), session.ID, time.Now()); err != nil || !applied {
		t.Fatalf("expiry: applied=%v err=%v", applied, err)
	}

	_, err := fx.svc.Submit(context.Background(), session.ID, nil)
	if !errors.Is(err, ErrSessionAlreadyTerminal) {
		t.Fatalf("expected ErrSessionAlreadyTerminal after expiry, got %v", err)
	}
}

func TestSubmitRacesExpiry(t *testing.T) {
	fx := newSessionFixture(t)
	session := fx.createSession(t, 1)
	fx.sessions.setStartedAt(session.ID, time.Now().Add(-2*time.Hour))

	var wg sync.WaitGroup
	var submitErr error
	var expireApplied bool

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, submitErr = fx.svc.Submit(context.Background(), session.ID, nil)
	}()
	go func() {
		defer wg.Done()
		expireApplied, _ = fx.svc.ExpireIfDue(context.Background(), session.ID, time.Now())
	}()
	wg.Wait()

	submitWon := submitErr == nil
	if submitWon == expireApplied {
		t.Fatalf("exactly one side must win: submitErr=%v expireApplied=%v", submitErr, expireApplied)
	}
	if fx.sessions.finalized != 1 {
		t.Fatalf("expected exactly 1 terminal transition, got %d", fx.sessions.finalized)
	}
}
