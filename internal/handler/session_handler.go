package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/middleware"
	"github.com/examguard/examguard-backend/internal/response"
	"github.com/examguard/examguard-backend/internal/service"
)

// SessionHandler serves the student's own exam session over REST: the exam
// payload, the session state, and submission. Submission is also reachable
// over the WebSocket; both paths converge on the same service call.
type SessionHandler struct {
	examService    *service.ExamService
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(examService *service.ExamService, sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		examService:    examService,
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// GetQuestions godoc
// GET /api/v1/student/session/questions
// Returns the exam payload for the session the token is bound to.
func (h *SessionHandler) GetQuestions(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	payload, err := h.examService.GetExamPayload(c.Request.Context(), claims.ExamID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", claims.ExamID.String()).Msg("payload fetch failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrPersistence)
		return
	}

	response.Success(c, http.StatusOK, payload)
}

// GetSession godoc
// GET /api/v1/student/session
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	session, err := h.sessionService.GetSession(c.Request.Context(), claims.SessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrPersistence)
		return
	}

	response.Success(c, http.StatusOK, session)
}

type submitRequest struct {
	// Answers maps question ID to the chosen option. Omitted or null means
	// "grade my autosaved answers".
	Answers map[string]string `json:"answers"`
}

// Submit godoc
// POST /api/v1/student/session/submit
func (h *SessionHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req submitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
			return
		}
	}

	session, err := h.sessionService.Submit(c.Request.Context(), claims.SessionID, req.Answers)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSessionNotFound):
			response.Fail(c, http.StatusNotFound, response.ErrSessionNotFound)
		case errors.Is(err, service.ErrSessionAlreadyTerminal):
			response.Fail(c, http.StatusConflict, response.ErrSessionTerminal)
		default:
			h.log.Error().Err(err).Str("session_id", claims.SessionID.String()).Msg("submit failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrPersistence)
		}
		return
	}

	response.Success(c, http.StatusOK, session)
}
