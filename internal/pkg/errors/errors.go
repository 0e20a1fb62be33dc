package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInput covers bad or missing audio, unsupported models and unusable URIs.
	ErrInput = errors.New("input error")
	// ErrCollaborator is returned when an external stage call fails.
	ErrCollaborator = errors.New("collaborator error")
	// ErrTimeout is returned when a video job outlives its polling timeout.
	ErrTimeout = errors.New("timeout")
	// ErrRetrieval is returned when a remote artifact cannot be copied locally.
	ErrRetrieval = errors.New("retrieval error")
	// ErrMerge is returned when stitching fails.
	ErrMerge = errors.New("merge error")
	// ErrConcurrency is returned when a run is started while another is active.
	ErrConcurrency = errors.New("concurrency error")
	// ErrNotReady is returned when a run has no deliverable yet.
	ErrNotReady = errors.New("not ready")
)

// StageError records which pipeline stage an error came from.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Stage + ": failed"
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap tags err with kind unless it already matches it.
func Wrap(kind error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// Kind returns the taxonomy sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrConcurrency, ErrInput, ErrTimeout, ErrRetrieval, ErrMerge, ErrCollaborator, ErrNotFound, ErrInvalidArgument, ErrNotReady} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
