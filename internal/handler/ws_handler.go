package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/config"
	"github.com/examguard/examguard-backend/internal/middleware"
	"github.com/examguard/examguard-backend/internal/model"
	"github.com/examguard/examguard-backend/internal/service"
	ws "github.com/examguard/examguard-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// validViolationTypes guards the violation ingest path against arbitrary
// strings ending up in the violation log.
var validViolationTypes = map[string]bool{
	model.ViolationFullscreenExited:      true,
	model.ViolationTabUnfocused:          true,
	model.ViolationFaceNotDetected:       true,
	model.ViolationMultipleFacesDetected: true,
	model.ViolationCameraUnavailable:     true,
}

// WSHandler handles the student session WebSocket: autosave, violation
// ingest, and submission.
type WSHandler struct {
	rdb            *redis.Client
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(rdb *redis.Client, sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		rdb:            rdb,
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/session/stream
// Upgrades to WebSocket for autosave, live violation reporting, and submit.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	sessionID := claims.SessionID
	examID := claims.ExamID

	// Only ACTIVE sessions may stream.
	session, err := h.sessionService.GetSession(c.Request.Context(), sessionID)
	if err != nil || session.IsTerminal() {
		ws.WriteError(conn, "no active session")
		return
	}

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("student connected")

	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("unexpected close")
			} else {
				wsLog.Debug().Msg("connection closed")
			}
			break
		}

		var envelope ws.RequestEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAutosave:
			h.handleAutosave(conn, wsLog, sessionID, raw)
		case ws.ActionViolation:
			h.handleViolation(conn, wsLog, sessionID, examID, raw)
		case ws.ActionSubmit:
			if done := h.handleSubmit(conn, wsLog, sessionID, examID, raw); done {
				return
			}
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("unknown action")
			ws.WriteError(conn, "unknown action: "+string(envelope.Action))
		}
	}
}

// handleAutosave saves a single answer to Redis and queues it for durable
// persistence.
func (h *WSHandler) handleAutosave(conn *websocket.Conn, wsLog zerolog.Logger, sessionID uuid.UUID, raw []byte) {
	ctx := context.Background()

	var msg ws.AutosaveRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		ws.WriteError(conn, "malformed autosave")
		return
	}
	if msg.QID == "" || msg.Answer == "" {
		ws.WriteError(conn, "q_id and ans are required")
		return
	}
	// QID must be a well-formed UUID to keep the Redis hash clean.
	if _, err := uuid.Parse(msg.QID); err != nil {
		ws.WriteError(conn, "invalid q_id format")
		return
	}

	answersKey := config.CacheKey.SessionAnswersKey(sessionID.String())
	if err := h.rdb.HSet(ctx, answersKey, msg.QID, msg.Answer).Err(); err != nil {
		wsLog.Error().Err(err).Msg("autosave redis error")
		ws.WriteError(conn, "save failed")
		return
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"session_id": sessionID.String(),
		"q_id":       msg.QID,
		"answer":     msg.Answer,
	})
	h.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, payload)

	ws.WriteTyped(conn, ws.AutosaveResponse{Event: ws.EventSuccess, Status: "saved"})
}

// handleViolation queues a violation for persistence and fans it out to the
// exam's live monitor channel.
func (h *WSHandler) handleViolation(conn *websocket.Conn, wsLog zerolog.Logger, sessionID, examID uuid.UUID, raw []byte) {
	ctx := context.Background()

	var msg ws.ViolationRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		ws.WriteError(conn, "malformed violation")
		return
	}
	if !validViolationTypes[msg.Type] {
		ws.WriteError(conn, "unknown violation type: "+msg.Type)
		return
	}

	occurredAt := time.Now()
	if msg.OccurredAt != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, msg.OccurredAt); err == nil {
			occurredAt = parsed
		}
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"session_id":  sessionID.String(),
		"type":        msg.Type,
		"details":     msg.Details,
		"occurred_at": occurredAt.Format(time.RFC3339Nano),
	})
	if err := h.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
		wsLog.Error().Err(err).Msg("violation enqueue failed")
		ws.WriteError(conn, "violation not recorded")
		return
	}

	monitorEvent, _ := json.Marshal(map[string]interface{}{
		"type":           "violation",
		"session_id":     sessionID.String(),
		"violation_type": msg.Type,
		"occurred_at":    occurredAt.Format(time.RFC3339Nano),
	})
	h.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), monitorEvent)

	wsLog.Warn().Str("type", msg.Type).Msg("violation recorded")
	ws.WriteTyped(conn, ws.ViolationResponse{Event: ws.EventSuccess, Status: "recorded"})
}

// handleSubmit finalizes the session. Returns true when the session reached
// a terminal state and the stream should end.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, sessionID, examID uuid.UUID, raw []byte) bool {
	ctx := context.Background()

	var msg ws.SubmitRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		ws.WriteError(conn, "malformed submit")
		return false
	}

	session, err := h.sessionService.Submit(ctx, sessionID, msg.Answers)
	if err != nil {
		switch {
		case err == service.ErrSessionAlreadyTerminal:
			ws.WriteError(conn, "session already ended")
			return true
		case err == service.ErrSessionNotFound:
			ws.WriteError(conn, "session not found")
			return true
		default:
			wsLog.Error().Err(err).Msg("submit failed")
			ws.WriteError(conn, "submit failed")
			return false
		}
	}

	score := 0
	if session.FinalScore != nil {
		score = *session.FinalScore
	}

	monitorEvent, _ := json.Marshal(map[string]interface{}{
		"type":       "submit",
		"session_id": sessionID.String(),
		"score":      score,
	})
	h.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID.String()), monitorEvent)

	wsLog.Info().Int("score", score).Msg("session submitted via stream")
	ws.WriteTyped(conn, ws.GradedResponse{Event: ws.EventGraded, Status: "completed", Score: score})
	return true
}
