package poller

import (
	"context"
	"time"
)

// SubmitOptions are passed through to the generator on submission.
type SubmitOptions struct {
	AspectRatio     string
	DurationSeconds int
	// OutputURI is the object-store prefix the generator writes results under (gs://...).
	OutputURI string
}

// PollResult is one status report from the external generator.
type PollResult struct {
	Done bool
	// URI is set when Done and the job succeeded.
	URI string
	// Error is set when Done and the job failed.
	Error string
}

// Generator is the external video-generation service.
type Generator interface {
	Submit(ctx context.Context, prompt string, opts SubmitOptions) (handle string, err error)
	Poll(ctx context.Context, handle string) (PollResult, error)
	Cancel(ctx context.Context, handle string) error
}

// Clock abstracts time so polling can be driven deterministically.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock is the wall clock.
func RealClock() Clock { return realClock{} }
