package proctor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fixedEnvironment struct {
	fullscreen bool
	focused    bool
}

func (e fixedEnvironment) Fullscreen() (bool, bool) { return e.fullscreen, true }
func (e fixedEnvironment) Focused() (bool, bool)    { return e.focused, true }

// unknownEnvironment stands in for a platform without the window APIs.
type unknownEnvironment struct{}

func (unknownEnvironment) Fullscreen() (bool, bool) { return false, false }
func (unknownEnvironment) Focused() (bool, bool)    { return false, false }

// blockingCamera parks every call until released.
type blockingCamera struct {
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (c *blockingCamera) CountFaces(ctx context.Context) (int, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	select {
	case <-c.release:
		return 1, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *blockingCamera) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type countingCamera struct {
	count int
	err   error
}

func (c countingCamera) CountFaces(ctx context.Context) (int, error) {
	return c.count, c.err
}

type sinkFunc func(Sample)

func (f sinkFunc) Observe(s Sample) { f(s) }

func newTestSampler(env EnvironmentProbe, face FaceCapability, timeout time.Duration) *Sampler {
	return NewSampler(env, face, sinkFunc(func(Sample) {}), time.Second, timeout, zerolog.Nop())
}

func TestSamplerSuccessfulTick(t *testing.T) {
	s := newTestSampler(fixedEnvironment{fullscreen: true, focused: true}, countingCamera{count: 2}, 50*time.Millisecond)

	sample := s.tick(context.Background())

	if !sample.FullscreenRead || !sample.FocusedRead {
		t.Fatal("environment readings should be marked known")
	}
	if !sample.Fullscreen || !sample.Focused {
		t.Fatal("environment signals not carried into the sample")
	}
	if !sample.FaceRead || !sample.CameraOK {
		t.Fatal("expected a successful face reading")
	}
	if sample.FaceCount != 2 {
		t.Fatalf("expected face count 2, got %d", sample.FaceCount)
	}
}

func TestSamplerUnknownEnvironmentReportsNoReading(t *testing.T) {
	s := newTestSampler(unknownEnvironment{}, countingCamera{count: 1}, 50*time.Millisecond)

	sample := s.tick(context.Background())

	if sample.FullscreenRead || sample.FocusedRead {
		t.Fatal("unavailable platform APIs must not produce environment readings")
	}
	if !sample.FaceRead || !sample.CameraOK {
		t.Fatal("face sampling must be unaffected by missing environment APIs")
	}
}

func TestSamplerCameraErrorMarksUnavailable(t *testing.T) {
	s := newTestSampler(fixedEnvironment{fullscreen: true, focused: true}, countingCamera{err: errors.New("device busy")}, 50*time.Millisecond)

	sample := s.tick(context.Background())

	if !sample.FaceRead {
		t.Fatal("a failed call is still a face outcome")
	}
	if sample.CameraOK {
		t.Fatal("camera must report unavailable on capability error")
	}
	if sample.CameraDetail == "" {
		t.Fatal("camera detail missing")
	}
}

func TestSamplerTimeoutMarksUnavailable(t *testing.T) {
	cam := &blockingCamera{release: make(chan struct{})}
	s := newTestSampler(fixedEnvironment{fullscreen: true, focused: true}, cam, 20*time.Millisecond)

	sample := s.tick(context.Background())

	if !sample.FaceRead || sample.CameraOK {
		t.Fatal("a timed-out call must classify as camera unavailable")
	}
	close(cam.release)
}

func TestSamplerDropsTicksWhileCallInFlight(t *testing.T) {
	cam := &blockingCamera{release: make(chan struct{})}
	s := newTestSampler(fixedEnvironment{fullscreen: true, focused: true}, cam, time.Minute)

	done := make(chan Sample, 1)
	go func() {
		done <- s.tick(context.Background())
	}()

	// Wait for the first call to be in flight.
	deadline := time.After(time.Second)
	for cam.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("camera call never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Ticks while the call is pending must not trigger a second camera
	// call and must carry no face outcome.
	for i := 0; i < 3; i++ {
		sample := s.tick(context.Background())
		if sample.FaceRead {
			t.Fatal("dropped tick must not carry a face outcome")
		}
	}
	if got := cam.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 camera call, got %d", got)
	}

	close(cam.release)
	sample := <-done
	if !sample.FaceRead || !sample.CameraOK || sample.FaceCount != 1 {
		t.Fatalf("original call should complete successfully, got %+v", sample)
	}

	// After completion, the guard is released and sampling resumes.
	deadline = time.After(time.Second)
	for {
		sample = s.tick(context.Background())
		if sample.FaceRead {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sampling never resumed after call completion")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestSamplerRunStopsOnCancel(t *testing.T) {
	var mu sync.Mutex
	observed := 0
	sink := sinkFunc(func(Sample) {
		mu.Lock()
		observed++
		mu.Unlock()
	})

	s := NewSampler(fixedEnvironment{fullscreen: true, focused: true}, countingCamera{count: 1}, sink, 5*time.Millisecond, 50*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sampler did not stop on cancel")
	}

	mu.Lock()
	defer mu.Unlock()
	if observed == 0 {
		t.Fatal("expected at least one observed sample")
	}
}
