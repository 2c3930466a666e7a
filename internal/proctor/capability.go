package proctor

import (
	"context"
	"errors"
)

// Capability errors surfaced by samplers.
var (
	// ErrCameraUnavailable means the capture device refused to deliver a
	// frame (missing device, revoked permission, driver failure).
	ErrCameraUnavailable = errors.New("camera unavailable")
	// ErrCapabilityTimeout means a capability call exceeded its per-tick
	// deadline and was abandoned.
	ErrCapabilityTimeout = errors.New("capability call timed out")
)

// EnvironmentProbe reads the cheap, synchronous environment signals. The
// second return value is false when the signal cannot be read this tick.
type EnvironmentProbe interface {
	Fullscreen() (active bool, ok bool)
	Focused() (focused bool, ok bool)
}

// FaceCapability captures one frame and counts the faces in it. Calls may
// be slow or hang; the sampler bounds them with a deadline.
type FaceCapability interface {
	CountFaces(ctx context.Context) (int, error)
}
