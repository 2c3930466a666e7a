package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/examguard/examguard-backend/internal/config"
	"github.com/examguard/examguard-backend/internal/logger"
	"github.com/examguard/examguard-backend/internal/proctor"
)

// The proctor agent runs the sampling loop on the exam machine: it reads
// environment and camera signals every tick, debounces them, and reports
// violations to the server over the session WebSocket.
//
// Without real probes wired in, the agent runs with simulated signals that
// occasionally flicker, which is enough to exercise the full pipeline end
// to end.
func main() {
	var (
		serverURL = flag.String("server", "", "WebSocket URL of the session stream, e.g. ws://localhost:8080/ws/v1/student/session/stream")
		token     = flag.String("token", "", "Student JWT bound to the session")
	)
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reporter proctor.Reporter = proctor.LogReporter{Log: log}
	if *serverURL != "" && *token != "" {
		wsReporter, err := proctor.DialWSReporter(ctx, *serverURL, *token, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to session stream")
		}
		defer wsReporter.Close()
		reporter = wsReporter
	} else {
		log.Warn().Msg("No server/token given, running in log-only mode")
	}

	aggregator := proctor.NewAggregator(cfg.DebounceTicks, cfg.ViolationLogCap, reporter, log)
	sampler := proctor.NewSampler(
		&simulatedEnvironment{},
		&simulatedCamera{},
		aggregator,
		cfg.SampleInterval,
		cfg.FaceTimeout,
		log,
	)

	go sampler.Run(ctx)

	log.Info().
		Dur("interval", cfg.SampleInterval).
		Int("debounce_ticks", cfg.DebounceTicks).
		Msg("Agent sampling started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	status := aggregator.Status()
	log.Info().
		Bool("clean", status.Clean()).
		Int64("violations", aggregator.TotalViolations()).
		Msg("Agent stopping")
}

// simulatedEnvironment flickers out of fullscreen or focus now and then.
type simulatedEnvironment struct{}

func (s *simulatedEnvironment) Fullscreen() (bool, bool) {
	return rand.Intn(20) != 0, true
}

func (s *simulatedEnvironment) Focused() (bool, bool) {
	return rand.Intn(20) != 0, true
}

// simulatedCamera usually sees one face, sometimes zero or two, and very
// occasionally stalls past the deadline.
type simulatedCamera struct{}

func (s *simulatedCamera) CountFaces(ctx context.Context) (int, error) {
	if rand.Intn(50) == 0 {
		// Simulate a hung capture; the sampler's deadline fires first.
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(10 * time.Second):
		}
	}
	switch rand.Intn(30) {
	case 0:
		return 0, nil
	case 1:
		return 2, nil
	default:
		return 1, nil
	}
}
