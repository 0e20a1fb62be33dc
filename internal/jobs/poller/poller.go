package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/observability"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const (
	DefaultInterval = 15 * time.Second
	DefaultTimeout  = 600 * time.Second

	defaultMaxPollErrors = 5
	cancelTimeout        = 30 * time.Second
)

// Outcome is the terminal result of Await.
type Outcome struct {
	State types.ExternalJobState
	URI   string
	Err   error
	Polls int
}

func (o Outcome) Succeeded() bool { return o.State == types.ExternalJobSucceeded }

type Poller struct {
	gen           Generator
	log           *logger.Logger
	clock         Clock
	maxPollErrors int
}

type Option func(*Poller)

func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithMaxPollErrors bounds how many consecutive failed status queries are tolerated.
func WithMaxPollErrors(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxPollErrors = n
		}
	}
}

func New(gen Generator, log *logger.Logger, opts ...Option) *Poller {
	if log == nil {
		log = logger.Nop()
	}
	p := &Poller{
		gen:           gen,
		log:           log.With("service", "JobPoller"),
		clock:         RealClock(),
		maxPollErrors: defaultMaxPollErrors,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Submit sends prompt to the generator exactly once.
func (p *Poller) Submit(ctx context.Context, prompt string, opts SubmitOptions) (*types.ExternalJob, error) {
	ctx = ctxutil.Default(ctx)
	if strings.TrimSpace(prompt) == "" {
		return nil, apperr.Wrap(apperr.ErrInput, errors.New("video prompt required"))
	}
	handle, err := p.gen.Submit(ctx, prompt, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("submit video job: %w", err))
	}
	if strings.TrimSpace(handle) == "" {
		return nil, apperr.Wrap(apperr.ErrCollaborator, errors.New("submit video job: empty handle"))
	}
	p.log.Info("Video job submitted", "run_id", ctxutil.RunID(ctx), "handle", handle)
	return &types.ExternalJob{
		Prompt:      prompt,
		State:       types.ExternalJobSubmitted,
		Handle:      handle,
		SubmittedAt: p.clock.Now(),
	}, nil
}

// Await sleeps interval before every poll and stops on a terminal report or once timeout
// has elapsed since submission. On timeout the remote job is cancelled best-effort.
func (p *Poller) Await(ctx context.Context, job *types.ExternalJob, interval, timeout time.Duration) Outcome {
	ctx = ctxutil.Default(ctx)
	if job == nil {
		return Outcome{State: types.ExternalJobFailed, Err: apperr.Wrap(apperr.ErrInput, errors.New("nil job"))}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, span := observability.StartSpan(ctx, "video_job.await",
		attribute.String("job.handle", job.Handle),
		attribute.Int64("job.timeout_ms", timeout.Milliseconds()),
	)
	defer span.End()

	job.State = types.ExternalJobPolling
	consecutiveErrs := 0

	for {
		if p.clock.Now().Sub(job.SubmittedAt) >= timeout {
			out := p.finish(job, Outcome{
				State: types.ExternalJobTimedOut,
				Err:   apperr.Wrap(apperr.ErrTimeout, fmt.Errorf("video job %s not done after %s", job.Handle, timeout)),
			})
			p.cancelRemote(ctx, job.Handle)
			span.SetAttributes(attribute.Int("job.polls", out.Polls), attribute.String("job.state", string(out.State)))
			return out
		}

		select {
		case <-ctx.Done():
			return p.finish(job, Outcome{State: types.ExternalJobFailed, Err: ctx.Err()})
		case <-p.clock.After(interval):
		}

		res, err := p.gen.Poll(ctx, job.Handle)
		job.Polls++
		if err != nil {
			if ctx.Err() != nil {
				return p.finish(job, Outcome{State: types.ExternalJobFailed, Err: ctx.Err()})
			}
			consecutiveErrs++
			p.log.Warn("Video job poll failed", "handle", job.Handle, "attempt", job.Polls, "error", err)
			if consecutiveErrs >= p.maxPollErrors {
				return p.finish(job, Outcome{
					State: types.ExternalJobFailed,
					Err:   apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("poll video job %s: %w", job.Handle, err)),
				})
			}
			continue
		}
		consecutiveErrs = 0
		if !res.Done {
			continue
		}

		var out Outcome
		switch {
		case strings.TrimSpace(res.Error) != "":
			out = Outcome{State: types.ExternalJobFailed, Err: apperr.Wrap(apperr.ErrCollaborator, errors.New(res.Error))}
		case strings.TrimSpace(res.URI) == "":
			out = Outcome{State: types.ExternalJobFailed, Err: apperr.Wrap(apperr.ErrCollaborator, errors.New("video job finished without a result uri"))}
		default:
			out = Outcome{State: types.ExternalJobSucceeded, URI: strings.TrimSpace(res.URI)}
		}
		out = p.finish(job, out)
		span.SetAttributes(attribute.Int("job.polls", out.Polls), attribute.String("job.state", string(out.State)))
		return out
	}
}

// Cancel asks the generator to drop a job that is no longer wanted.
func (p *Poller) Cancel(ctx context.Context, job *types.ExternalJob) {
	if job == nil || job.State.IsTerminal() {
		return
	}
	p.cancelRemote(ctx, job.Handle)
}

func (p *Poller) finish(job *types.ExternalJob, out Outcome) Outcome {
	job.State = out.State
	job.ResultURI = out.URI
	if out.Err != nil {
		job.Error = out.Err.Error()
	}
	out.Polls = job.Polls
	return out
}

func (p *Poller) cancelRemote(ctx context.Context, handle string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctxutil.Default(ctx)), cancelTimeout)
	defer cancel()
	if err := p.gen.Cancel(cctx, handle); err != nil {
		p.log.Warn("Video job cancel failed", "handle", handle, "error", err)
		return
	}
	p.log.Info("Video job cancelled", "handle", handle)
}
