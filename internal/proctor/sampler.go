package proctor

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Sample is one tick's worth of raw signal readings.
type Sample struct {
	At time.Time
	// FullscreenRead and FocusedRead report whether the platform API
	// produced a reading this tick. An unavailable API fails silent: the
	// tick carries no environment signal rather than a fake one.
	FullscreenRead bool
	Fullscreen     bool
	FocusedRead    bool
	Focused        bool
	// FaceRead reports whether this tick produced a face capability
	// outcome at all. A tick dropped behind an in-flight call carries no
	// face or camera information.
	FaceRead bool
	// CameraOK is false when the face capability failed or timed out.
	// Only meaningful when FaceRead is true.
	CameraOK bool
	// FaceCount is the number of faces in the captured frame. Only
	// meaningful when FaceRead and CameraOK are both true.
	FaceCount    int
	CameraDetail string
}

// SampleSink consumes one sample per completed tick.
type SampleSink interface {
	Observe(s Sample)
}

// Sampler drives the periodic signal collection loop. Environment signals
// are read synchronously every tick. The face capability is slower and may
// hang, so it runs with a deadline and an in-flight guard: if a call is
// still running when the next tick fires, that tick's face reading is
// dropped rather than queued behind it.
type Sampler struct {
	env      EnvironmentProbe
	face     FaceCapability
	sink     SampleSink
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger

	faceInFlight atomic.Bool
}

// NewSampler creates a sampler. interval is the tick period; timeout bounds
// each face capability call and must be shorter than interval to be useful.
func NewSampler(env EnvironmentProbe, face FaceCapability, sink SampleSink, interval, timeout time.Duration, log zerolog.Logger) *Sampler {
	return &Sampler{
		env:      env,
		face:     face,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
		log:      log,
	}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sink.Observe(s.tick(ctx))
		}
	}
}

// tick performs one sampling round.
func (s *Sampler) tick(ctx context.Context) Sample {
	sample := Sample{At: time.Now()}

	if fullscreen, ok := s.env.Fullscreen(); ok {
		sample.FullscreenRead = true
		sample.Fullscreen = fullscreen
	}
	if focused, ok := s.env.Focused(); ok {
		sample.FocusedRead = true
		sample.Focused = focused
	}

	count, err := s.sampleFace(ctx)
	switch {
	case err == nil:
		sample.FaceRead = true
		sample.CameraOK = true
		sample.FaceCount = count
	case errors.Is(err, errFaceBusy):
		// Previous call still in flight; no face outcome this tick.
	default:
		sample.FaceRead = true
		sample.CameraOK = false
		sample.CameraDetail = err.Error()
	}

	return sample
}

// errFaceBusy marks a tick whose face call was dropped because the previous
// one had not returned yet.
var errFaceBusy = errors.New("face capability busy")

// sampleFace runs one bounded face capability call. The goroutine holds the
// in-flight guard until the underlying call actually returns, so a hung
// camera blocks future calls instead of stacking them.
func (s *Sampler) sampleFace(ctx context.Context) (int, error) {
	if !s.faceInFlight.CompareAndSwap(false, true) {
		return 0, errFaceBusy
	}

	type faceResult struct {
		count int
		err   error
	}
	resultCh := make(chan faceResult, 1)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	go func() {
		defer s.faceInFlight.Store(false)
		defer cancel()
		count, err := s.face.CountFaces(callCtx)
		resultCh <- faceResult{count: count, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return 0, ErrCameraUnavailable
		}
		return res.count, nil
	case <-callCtx.Done():
		s.log.Warn().Dur("timeout", s.timeout).Msg("face capability call timed out")
		return 0, ErrCapabilityTimeout
	}
}
