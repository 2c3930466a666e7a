package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/middleware"
	"github.com/examguard/examguard-backend/internal/repository"
	"github.com/examguard/examguard-backend/internal/response"
	"github.com/examguard/examguard-backend/internal/service"
	"github.com/examguard/examguard-backend/internal/validator"
)

// AuthHandler serves login and logout for both roles. A student login is
// also the session entry point: credentials plus an exam code yield an
// ACTIVE session and a token bound to it.
type AuthHandler struct {
	authService    *service.AuthService
	sessionService *service.SessionService
	studentRepo    *repository.StudentRepository
	proctorRepo    *repository.ProctorRepository
	log            zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(
	authService *service.AuthService,
	sessionService *service.SessionService,
	studentRepo *repository.StudentRepository,
	proctorRepo *repository.ProctorRepository,
	log zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		sessionService: sessionService,
		studentRepo:    studentRepo,
		proctorRepo:    proctorRepo,
		log:            log.With().Str("component", "auth_handler").Logger(),
	}
}

type studentLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	ExamCode string `json:"exam_code" binding:"required"`
}

type proctorLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req studentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ctx := c.Request.Context()

	student, err := h.studentRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		h.log.Error().Err(err).Msg("student lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrPersistence)
		return
	}
	if err := h.authService.CheckPassword(student.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	// Reject a student still logged in elsewhere BEFORE creating the
	// session. Otherwise the orphaned ACTIVE session blocks every retry
	// until the expiry sweep collects it.
	active, err := h.authService.HasActiveLogin(ctx, student.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("login check failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if active {
		response.Fail(c, http.StatusConflict, response.ErrConflict)
		return
	}

	session, exam, err := h.sessionService.CreateSession(ctx, student.ID, req.ExamCode)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidExamCode):
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidExamCode)
		case errors.Is(err, service.ErrSessionConflict):
			response.Fail(c, http.StatusConflict, response.ErrSessionConflict)
		default:
			h.log.Error().Err(err).Msg("session creation failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrPersistence)
		}
		return
	}

	token, err := h.authService.GenerateStudentToken(ctx, student.ID, session.ID, exam.ID)
	if err != nil {
		if errors.Is(err, service.ErrLoginConflict) {
			response.Fail(c, http.StatusConflict, response.ErrConflict)
			return
		}
		h.log.Error().Err(err).Msg("token generation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"token": token,
		"session": gin.H{
			"id":         session.ID,
			"exam_id":    exam.ID,
			"exam_title": exam.Title,
			"status":     session.Status,
			"started_at": session.StartedAt,
			"deadline":   session.Deadline(),
		},
	})
}

// ProctorLogin godoc
// POST /api/v1/auth/proctor/login
func (h *AuthHandler) ProctorLogin(c *gin.Context) {
	var req proctorLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	proctor, err := h.proctorRepo.GetByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		h.log.Error().Err(err).Msg("proctor lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrPersistence)
		return
	}
	if err := h.authService.CheckPassword(proctor.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateProctorToken(proctor.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("token generation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"proctor": gin.H{
			"id":   proctor.ID,
			"name": proctor.Name,
		},
	})
}

// StudentLogout godoc
// POST /api/v1/student/logout
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims.UserID); err != nil {
		h.log.Error().Err(err).Int("student_id", claims.UserID).Msg("logout failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "logged_out"})
}

// Me godoc
// GET /api/v1/student/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	student, err := h.studentRepo.GetByID(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"id":         student.ID,
		"username":   student.Username,
		"name":       student.Name,
		"session_id": claims.SessionID,
		"exam_id":    claims.ExamID,
	})
}
