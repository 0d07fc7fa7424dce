package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown export ID.
	ErrNotFound = errors.New("export not found")

	// ErrNotReady is returned when a download is requested before completion.
	ErrNotReady = errors.New("export not yet completed")

	// ErrArtifactMissing is returned when a completed job's file is gone.
	ErrArtifactMissing = errors.New("export file not found")

	// ErrInvalidTransition is returned when a status change violates the
	// pending -> processing -> terminal order.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRangeNotSatisfiable is returned for a byte range outside the artifact.
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")

	// ErrShuttingDown is returned by Submit after Shutdown has begun.
	ErrShuttingDown = errors.New("export service is shutting down")
)

// ValidationError reports a rejected submission parameter.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
