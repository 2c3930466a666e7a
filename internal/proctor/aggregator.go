package proctor

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/examguard/examguard-backend/internal/model"
)

// Reporter receives each violation exactly once, at the moment its signal
// flips into the violating state. Implementations must tolerate being
// called from the sampling goroutine.
type Reporter interface {
	Report(v Violation)
}

// Debounced face states.
const (
	faceNone = iota
	faceOne
	faceMany
)

// Aggregator turns raw per-tick samples into debounced signal states and
// edge-triggered violations. A raw flicker shorter than the debounce window
// never surfaces; a sustained change produces exactly one violation on the
// transition, no matter how long it persists.
//
// All state is owned by the aggregator and guarded by one mutex, so Observe
// and the read methods may be called from different goroutines.
type Aggregator struct {
	mu sync.RWMutex

	fullscreen boolSignal
	focused    boolSignal
	camera     boolSignal
	face       intSignal

	// ring is a bounded buffer of the most recent violations, oldest
	// overwritten first.
	ring  []Violation
	next  int
	total int64

	reporter Reporter
	log      zerolog.Logger
}

// NewAggregator creates an aggregator. debounceTicks is the number of
// consecutive samples a signal must hold a new value before the reported
// state flips; logCap bounds the retained violation history.
func NewAggregator(debounceTicks, logCap int, reporter Reporter, log zerolog.Logger) *Aggregator {
	if debounceTicks < 1 {
		debounceTicks = 1
	}
	if logCap < 1 {
		logCap = 1
	}
	return &Aggregator{
		fullscreen: newBoolSignal(true, debounceTicks),
		focused:    newBoolSignal(true, debounceTicks),
		camera:     newBoolSignal(true, debounceTicks),
		face:       newIntSignal(faceOne, debounceTicks),
		ring:       make([]Violation, 0, logCap),
		reporter:   reporter,
		log:        log,
	}
}

// Observe folds one sample into the debounced state. Violations fired by
// this sample are appended to the log and handed to the reporter.
func (a *Aggregator) Observe(s Sample) {
	var fired []Violation

	a.mu.Lock()

	// An unknown environment reading carries no information; the debounced
	// state and its streak hold until the platform API answers again.
	if s.FullscreenRead {
		if a.fullscreen.observe(s.Fullscreen) && !s.Fullscreen {
			fired = append(fired, Violation{Type: model.ViolationFullscreenExited, OccurredAt: s.At})
		}
	}
	if s.FocusedRead {
		if a.focused.observe(s.Focused) && !s.Focused {
			fired = append(fired, Violation{Type: model.ViolationTabUnfocused, OccurredAt: s.At})
		}
	}

	if s.FaceRead {
		if a.camera.observe(s.CameraOK) && !s.CameraOK {
			fired = append(fired, Violation{
				Type:       model.ViolationCameraUnavailable,
				Details:    s.CameraDetail,
				OccurredAt: s.At,
			})
		}
		// Face counts are only trustworthy while the camera delivers
		// frames; an unavailable camera must not read as "no face".
		if s.CameraOK {
			if a.face.observe(classifyFaces(s.FaceCount)) {
				switch a.face.reported {
				case faceNone:
					fired = append(fired, Violation{Type: model.ViolationFaceNotDetected, OccurredAt: s.At})
				case faceMany:
					fired = append(fired, Violation{Type: model.ViolationMultipleFacesDetected, OccurredAt: s.At})
				}
			}
		}
	}

	for _, v := range fired {
		a.appendLocked(v)
	}
	a.mu.Unlock()

	for _, v := range fired {
		a.log.Warn().Str("type", v.Type).Time("at", v.OccurredAt).Msg("violation")
		if a.reporter != nil {
			a.reporter.Report(v)
		}
	}
}

// Status returns the current debounced state of every signal.
func (a *Aggregator) Status() CompositeStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return CompositeStatus{
		FullscreenOK: a.fullscreen.reported,
		FocusOK:      a.focused.reported,
		CameraOK:     a.camera.reported,
		FaceOK:       a.face.reported != faceNone,
		SingleFaceOK: a.face.reported != faceMany,
	}
}

// RecentViolations returns the latest n violations, newest first. n larger
// than the retained history returns everything retained.
func (a *Aggregator) RecentViolations(n int) []Violation {
	a.mu.RLock()
	defer a.mu.RUnlock()

	retained := len(a.ring)
	if n > retained {
		n = retained
	}
	if n < 0 {
		n = 0
	}

	out := make([]Violation, 0, n)
	for i := 0; i < n; i++ {
		// next-1 is the most recent entry once the ring has wrapped.
		idx := (a.next - 1 - i + retained) % retained
		out = append(out, a.ring[idx])
	}
	return out
}

// AllViolations returns every retained violation, newest first.
func (a *Aggregator) AllViolations() []Violation {
	return a.RecentViolations(cap(a.ring))
}

// TotalViolations returns the count of all violations ever observed,
// including ones the bounded log has dropped.
func (a *Aggregator) TotalViolations() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}

func (a *Aggregator) appendLocked(v Violation) {
	if len(a.ring) < cap(a.ring) {
		a.ring = append(a.ring, v)
		a.next = len(a.ring) % cap(a.ring)
	} else {
		a.ring[a.next] = v
		a.next = (a.next + 1) % cap(a.ring)
	}
	a.total++
}

func classifyFaces(count int) int {
	switch {
	case count <= 0:
		return faceNone
	case count == 1:
		return faceOne
	default:
		return faceMany
	}
}

// boolSignal debounces a boolean reading: the reported value flips only
// after the raw value has held the opposite state for k consecutive
// samples. observe returns true on the sample that flips it.
type boolSignal struct {
	reported bool
	streak   int
	k        int
}

func newBoolSignal(initial bool, k int) boolSignal {
	return boolSignal{reported: initial, k: k}
}

func (b *boolSignal) observe(raw bool) bool {
	if raw == b.reported {
		b.streak = 0
		return false
	}
	b.streak++
	if b.streak < b.k {
		return false
	}
	b.reported = raw
	b.streak = 0
	return true
}

// intSignal debounces a small-enum reading the same way, with the extra
// rule that the streak restarts whenever the candidate value changes.
type intSignal struct {
	reported  int
	candidate int
	streak    int
	k         int
}

func newIntSignal(initial, k int) intSignal {
	return intSignal{reported: initial, candidate: initial, k: k}
}

func (s *intSignal) observe(raw int) bool {
	if raw == s.reported {
		s.candidate = raw
		s.streak = 0
		return false
	}
	if raw != s.candidate {
		s.candidate = raw
		s.streak = 1
	} else {
		s.streak++
	}
	if s.streak < s.k {
		return false
	}
	s.reported = raw
	s.streak = 0
	return true
}
