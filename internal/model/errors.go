package model

import "errors"

// Store errors shared by the repositories and the services above them.
var (
	ErrAttemptNotFound = errors.New("attempt not found")

	// ErrAttemptCompleted is returned when a write targets an attempt that
	// has already been finalized.
	ErrAttemptCompleted = errors.New("attempt already completed")

	ErrAttemptNotCompleted = errors.New("attempt not completed")
	ErrReviewRequested     = errors.New("review already requested")
)
