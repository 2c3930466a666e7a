package model

import (
	"time"

	"github.com/google/uuid"
)

// Violation types recorded against a session. Each corresponds to a
// debounced integrity signal flipping into its violating state.
const (
	ViolationFullscreenExited      = "FULLSCREEN_EXITED"
	ViolationTabUnfocused          = "TAB_UNFOCUSED"
	ViolationFaceNotDetected       = "FACE_NOT_DETECTED"
	ViolationMultipleFacesDetected = "MULTIPLE_FACES_DETECTED"
	ViolationCameraUnavailable     = "CAMERA_UNAVAILABLE"
)

type ViolationEvent struct {
	ID         int64     `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Type       string    `json:"type"`
	Details    string    `json:"details,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
