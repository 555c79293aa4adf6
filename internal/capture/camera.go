package capture

import (
	"context"
	"errors"
)

// Camera errors reported by transports.
var (
	ErrCameraDenied      = errors.New("camera access denied")
	ErrCameraUnavailable = errors.New("camera unavailable")
)

// Camera acquires a live camera stream.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an open camera. Close stops every track and must be idempotent.
type Stream interface {
	// Frame grabs one encoded still image from the live preview.
	Frame(ctx context.Context) ([]byte, error)
	Close() error
}
