package proctor

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	ws "github.com/examguard/examguard-backend/internal/websocket"
)

// WSReporter delivers violations to the exam server over the student
// WebSocket. Report never blocks the sampling loop: events are handed to a
// buffered channel and a single writer goroutine drains it. If the buffer
// fills because the connection stalls, the oldest pending events are
// dropped in favor of new ones.
type WSReporter struct {
	conn  *websocket.Conn
	queue chan Violation
	done  chan struct{}
	log   zerolog.Logger
}

// DialWSReporter connects to the server's session WebSocket endpoint and
// starts the writer goroutine. token is the student JWT, sent as a bearer
// header during the handshake.
func DialWSReporter(ctx context.Context, url, token string, log zerolog.Logger) (*WSReporter, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	r := &WSReporter{
		conn:  conn,
		queue: make(chan Violation, 64),
		done:  make(chan struct{}),
		log:   log,
	}
	go r.writeLoop()
	return r, nil
}

// Report enqueues a violation for delivery.
func (r *WSReporter) Report(v Violation) {
	for {
		select {
		case r.queue <- v:
			return
		default:
		}
		// Full queue: drop the oldest pending event to make room.
		select {
		case dropped := <-r.queue:
			r.log.Warn().Str("type", dropped.Type).Msg("dropping queued violation, connection stalled")
		default:
		}
	}
}

// Close stops the writer and closes the connection.
func (r *WSReporter) Close() error {
	close(r.done)
	return r.conn.Close()
}

func (r *WSReporter) writeLoop() {
	for {
		select {
		case <-r.done:
			return
		case v := <-r.queue:
			req := ws.ViolationRequest{
				Action:     ws.ActionViolation,
				Type:       v.Type,
				Details:    v.Details,
				OccurredAt: v.OccurredAt.Format(time.RFC3339Nano),
			}
			if err := ws.WriteTyped(r.conn, req); err != nil {
				r.log.Error().Err(err).Msg("failed to send violation")
			}
		}
	}
}

// LogReporter is a Reporter that only logs, for running the agent without
// a server connection.
type LogReporter struct {
	Log zerolog.Logger
}

func (r LogReporter) Report(v Violation) {
	r.Log.Warn().Str("type", v.Type).Str("details", v.Details).Time("at", v.OccurredAt).Msg("violation detected")
}
