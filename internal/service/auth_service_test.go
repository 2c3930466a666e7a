package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/examguard/examguard-backend/internal/config"
)

func newTestAuthService(t *testing.T) (*AuthService, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: bcrypt.MinCost,
	}
	return NewAuthService(cfg, rdb), mr
}

func TestStudentTokenRoundtrip(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	sessionID := uuid.New()
	examID := uuid.New()

	token, err := svc.GenerateStudentToken(ctx, 42, sessionID, examID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.TokenType != TokenTypeStudent {
		t.Fatalf("expected student token, got %s", claims.TokenType)
	}
	if claims.UserID != 42 || claims.SessionID != sessionID || claims.ExamID != examID {
		t.Fatalf("claims not carried through: %+v", claims)
	}

	if err := svc.ValidateStudentLogin(ctx, 42, claims.ID); err != nil {
		t.Fatalf("fresh login should validate: %v", err)
	}
}

func TestStudentSecondLoginRejected(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.GenerateStudentToken(ctx, 7, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("first login: %v", err)
	}

	_, err := svc.GenerateStudentToken(ctx, 7, uuid.New(), uuid.New())
	if !errors.Is(err, ErrLoginConflict) {
		t.Fatalf("expected ErrLoginConflict, got %v", err)
	}

	// A different student is unaffected.
	if _, err := svc.GenerateStudentToken(ctx, 8, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("unrelated student blocked: %v", err)
	}
}

func TestStudentConcurrentLoginSingleWinner(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.GenerateStudentToken(ctx, 21, uuid.New(), uuid.New())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrLoginConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning login, got %d", wins)
	}
}

func TestHasActiveLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	// The registration check is what gates session creation on login, so
	// a stale true or false here either locks a student out or lets a
	// second device in.
	active, err := svc.HasActiveLogin(ctx, 13)
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if active {
		t.Fatal("no login yet, must report inactive")
	}

	if _, err := svc.GenerateStudentToken(ctx, 13, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("login: %v", err)
	}
	active, err = svc.HasActiveLogin(ctx, 13)
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if !active {
		t.Fatal("registered login must report active")
	}

	if err := svc.Logout(ctx, 13); err != nil {
		t.Fatalf("logout: %v", err)
	}
	active, err = svc.HasActiveLogin(ctx, 13)
	if err != nil {
		t.Fatalf("check login: %v", err)
	}
	if active {
		t.Fatal("logout must clear the registration")
	}
}

func TestStudentLoginSuperseded(t *testing.T) {
	svc, mr := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.GenerateStudentToken(ctx, 9, uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}

	// Another device takes over the login registration.
	mr.Set(config.CacheKey.StudentLoginKey(9), uuid.NewString())

	if err := svc.ValidateStudentLogin(ctx, 9, claims.ID); err == nil {
		t.Fatal("superseded login must not validate")
	}
}

func TestLogoutFreesLogin(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.GenerateStudentToken(ctx, 5, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if err := svc.Logout(ctx, 5); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := svc.GenerateStudentToken(ctx, 5, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("login after logout should succeed: %v", err)
	}
}

func TestLoginExpiresWithToken(t *testing.T) {
	svc, mr := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.GenerateStudentToken(ctx, 3, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("first login: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := svc.GenerateStudentToken(ctx, 3, uuid.New(), uuid.New()); err != nil {
		t.Fatalf("login after registration expiry should succeed: %v", err)
	}
}

func TestProctorTokenRoundtrip(t *testing.T) {
	svc, _ := newTestAuthService(t)

	token, err := svc.GenerateProctorToken(11)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.TokenType != TokenTypeProctor || claims.UserID != 11 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.SessionID != uuid.Nil {
		t.Fatal("proctor tokens must not carry a session")
	}
}

func TestValidateTokenRejectsBadSignature(t *testing.T) {
	svc, _ := newTestAuthService(t)

	other := NewAuthService(&config.Config{
		JWTSecret: "different-secret",
		JWTExpiry: time.Hour,
	}, nil)

	token, err := other.GenerateProctorToken(1)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("token signed with a different secret must be rejected")
	}
}

func TestPasswordHashing(t *testing.T) {
	svc, _ := newTestAuthService(t)

	hash, err := svc.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := svc.CheckPassword(hash, "hunter2"); err != nil {
		t.Fatalf("correct password rejected: %v", err)
	}
	if err := svc.CheckPassword(hash, "hunter3"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
