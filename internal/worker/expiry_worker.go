package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/service"
)

// ExpiryWorker sweeps for ACTIVE sessions whose exam deadline has passed
// and expires them. Each candidate goes through the same conditional
// transition as a submit, so racing a student's last-second submit is safe:
// whichever side commits first wins and the other becomes a no-op.
type ExpiryWorker struct {
	sessionService *service.SessionService
	interval       time.Duration
	log            zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(sessionService *service.SessionService, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		sessionService: sessionService,
		interval:       interval,
		log:            log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("expiry worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("expiry worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	now := time.Now()

	overdue, err := w.sessionService.ListOverdue(ctx, now)
	if err != nil {
		w.log.Error().Err(err).Msg("overdue scan failed")
		return
	}

	expired := 0
	for _, session := range overdue {
		applied, err := w.sessionService.ExpireIfDue(ctx, session.ID, now)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", session.ID.String()).Msg("expiry failed")
			continue
		}
		if applied {
			expired++
		}
	}

	if expired > 0 {
		w.log.Info().Int("expired", expired).Msg("expiry sweep complete")
	}
}
