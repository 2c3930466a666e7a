package proctor

import "time"

// Violation is one edge-triggered integrity event: a debounced signal
// flipping into its violating state. Types reuse the persistence-layer
// violation type constants.
type Violation struct {
	Type       string    `json:"type"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CompositeStatus is a constant-time snapshot of every debounced signal.
// All fields report the debounced state, not the latest raw sample.
type CompositeStatus struct {
	FullscreenOK bool `json:"fullscreen_ok"`
	FocusOK      bool `json:"focus_ok"`
	CameraOK     bool `json:"camera_ok"`
	FaceOK       bool `json:"face_ok"`        // at least one face in frame
	SingleFaceOK bool `json:"single_face_ok"` // not more than one face
}

// Clean reports whether every signal is in its non-violating state.
func (s CompositeStatus) Clean() bool {
	return s.FullscreenOK && s.FocusOK && s.CameraOK && s.FaceOK && s.SingleFaceOK
}
