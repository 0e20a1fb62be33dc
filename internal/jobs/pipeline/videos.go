package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/jobs/runstatus"
	"github.com/yungbote/chorusreel-backend/internal/observability"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
)

/*
generateVideos runs one external job per prompt and stages each result locally.
  - ParallelSubmit: every prompt is submitted up front, then jobs are awaited in prompt order.
  - Otherwise: submit, await and fetch one prompt at a time.
Clip i is fetched and appended only after clip i-1. The first job that does not succeed
ends the run; jobs still outstanding are cancelled best-effort.
*/
func (r *Runner) generateVideos(ctx context.Context, run *runstatus.Run, prompts []string, setStage func(types.Stage)) ([]string, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.videos", attribute.Int("videos.count", len(prompts)))
	defer span.End()

	total := len(prompts)
	jobs := make([]*types.ExternalJob, total)

	if r.cfg.ParallelSubmit {
		setStage(types.StageGeneratingVideo)
		run.SetStage(types.StageGeneratingVideo, 1, fmt.Sprintf("Submitting %d video jobs", total))
		if err := r.submitAll(ctx, prompts, jobs); err != nil {
			r.cancelJobs(ctx, jobs)
			observability.RecordError(span, err)
			return nil, stageErr(types.StageGeneratingVideo, err)
		}
	}

	videos := make([]string, 0, total)
	for i, prompt := range prompts {
		n := i + 1
		setStage(types.StageGeneratingVideo)
		run.SetStage(types.StageGeneratingVideo, n, fmt.Sprintf("Generating video %d of %d", n, total))

		if jobs[i] == nil {
			job, err := r.deps.Videos.Submit(ctx, prompt, r.cfg.Submit)
			if err != nil {
				observability.RecordError(span, err)
				return nil, stageErr(types.StageGeneratingVideo, fmt.Errorf("video %d: %w", n, err))
			}
			jobs[i] = job
		}

		out := r.deps.Videos.Await(ctx, jobs[i], r.cfg.PollInterval, r.cfg.PollTimeout)
		if !out.Succeeded() {
			r.cancelJobs(ctx, jobs[i+1:])
			err := out.Err
			if err == nil {
				err = apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("video job ended %s", out.State))
			}
			observability.RecordError(span, err)
			return nil, stageErr(types.StageGeneratingVideo, fmt.Errorf("video %d: %w", n, err))
		}
		run.Logf("Video %d ready (%s)", n, jobs[i].Handle)

		setStage(types.StageRetrievingArtifact)
		run.SetStage(types.StageRetrievingArtifact, n, fmt.Sprintf("Downloading video %d of %d", n, total))
		local, err := r.fetch(ctx, run.ID(), i, out.URI)
		if err != nil {
			r.cancelJobs(ctx, jobs[i+1:])
			observability.RecordError(span, err)
			return nil, stageErr(types.StageRetrievingArtifact, fmt.Errorf("video %d: %w", n, err))
		}
		run.AddVideo(local)
		run.Logf("Downloaded video %d to %s", n, local)
		videos = append(videos, local)
	}
	return videos, nil
}

// submitAll submits every prompt concurrently. On error, jobs holds whatever was accepted.
func (r *Runner) submitAll(ctx context.Context, prompts []string, jobs []*types.ExternalJob) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, prompt := range prompts {
		i, prompt := i, prompt
		g.Go(func() (err error) {
			// errgroup does not carry panics back to Wait; the runner's recover cannot see them.
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("video %d: panic: %v", i+1, rec)
				}
			}()
			job, err := r.deps.Videos.Submit(gctx, prompt, r.cfg.Submit)
			if err != nil {
				return fmt.Errorf("video %d: %w", i+1, err)
			}
			jobs[i] = job
			return nil
		})
	}
	return g.Wait()
}

func (r *Runner) cancelJobs(ctx context.Context, jobs []*types.ExternalJob) {
	for _, job := range jobs {
		if job != nil {
			r.deps.Videos.Cancel(ctx, job)
		}
	}
}

func (r *Runner) fetch(ctx context.Context, runID string, index int, uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, remoteScheme) || len(uri) <= len(remoteScheme) {
		return "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("unsupported artifact uri %q: only %s objects can be fetched", uri, remoteScheme))
	}
	if path.Base(uri) == "" || strings.HasSuffix(uri, "/") {
		return "", apperr.Wrap(apperr.ErrInput, fmt.Errorf("artifact uri %q names no object", uri))
	}
	dest, err := r.deps.Store.VideoPath(runID, index, uri)
	if err != nil {
		return "", apperr.Wrap(apperr.ErrRetrieval, err)
	}
	return callStage(ctx, r.log, types.StageRetrievingArtifact, func(ctx context.Context) (string, error) {
		if err := r.deps.Fetcher.FetchToFile(ctx, uri, dest); err != nil {
			if errors.Is(err, apperr.ErrInput) {
				return "", err
			}
			return "", apperr.Wrap(apperr.ErrRetrieval, err)
		}
		return dest, nil
	})
}
