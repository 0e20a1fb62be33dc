package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/chorusreel-backend/internal/artifacts"
	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/jobs/pipeline"
	"github.com/yungbote/chorusreel-backend/internal/jobs/runstatus"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

// PipelineRunner executes one run to a terminal state.
type PipelineRunner interface {
	Run(ctx context.Context, run *runstatus.Run, req pipeline.Request)
}

// History serves runs that are no longer held in memory.
type History interface {
	Load(ctx context.Context, id string) (types.PipelineRun, error)
	Recent(ctx context.Context, limit int) ([]types.PipelineRun, error)
}

// Service is the host-facing surface of the pipeline: start a run, observe it, fetch its video.
type Service struct {
	log          *logger.Logger
	registry     *runstatus.Registry
	runner       PipelineRunner
	store        *artifacts.Store
	history      History
	defaultModel string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type ServiceConfig struct {
	DefaultModel string
	History      History
}

func NewService(log *logger.Logger, registry *runstatus.Registry, runner PipelineRunner, store *artifacts.Store, cfg ServiceConfig) *Service {
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		log:          log.With("service", "RunService"),
		registry:     registry,
		runner:       runner,
		store:        store,
		history:      cfg.History,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
		baseCtx:      ctx,
		cancel:       cancel,
	}
}

// StartRun accepts a run and executes it in the background. It returns the initial snapshot,
// or runstatus.ErrRunActive while another run is in flight.
func (s *Service) StartRun(ctx context.Context, audioPath, model string) (types.PipelineRun, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		model = s.defaultModel
	}
	run, err := s.registry.Begin(audioPath, model)
	if err != nil {
		return types.PipelineRun{}, err
	}
	snap := run.Snapshot()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runner.Run(s.baseCtx, run, pipeline.Request{AudioPath: audioPath, ModelName: model})
	}()
	return snap, nil
}

// StartUpload saves an uploaded track into the artifact store and starts a run over it.
func (s *Service) StartUpload(ctx context.Context, filename string, audio io.Reader, model string) (types.PipelineRun, error) {
	if _, busy := s.registry.Active(); busy {
		return types.PipelineRun{}, runstatus.ErrRunActive
	}
	dest, err := s.store.UploadPath(uuid.New().String(), filename)
	if err != nil {
		return types.PipelineRun{}, err
	}
	if err := writeFile(dest, audio); err != nil {
		return types.PipelineRun{}, apperr.Wrap(apperr.ErrInput, fmt.Errorf("save upload: %w", err))
	}
	snap, err := s.StartRun(ctx, dest, model)
	if err != nil {
		_ = os.Remove(dest)
		return types.PipelineRun{}, err
	}
	s.log.Info("Upload accepted", "run_id", snap.ID, "path", dest)
	return snap, nil
}

func (s *Service) Status(ctx context.Context, runID string) (types.PipelineRun, error) {
	if run, ok := s.registry.Get(runID); ok {
		return run.Snapshot(), nil
	}
	if s.history != nil {
		return s.history.Load(ctx, runID)
	}
	return types.PipelineRun{}, fmt.Errorf("%w: run %s", apperr.ErrNotFound, runID)
}

// Latest is the most recently started run, falling back to stored history after a restart.
func (s *Service) Latest(ctx context.Context) (types.PipelineRun, error) {
	if run, ok := s.registry.Latest(); ok {
		return run.Snapshot(), nil
	}
	if s.history != nil {
		recent, err := s.history.Recent(ctx, 1)
		if err != nil {
			return types.PipelineRun{}, err
		}
		if len(recent) > 0 {
			return s.history.Load(ctx, recent[0].ID)
		}
	}
	return types.PipelineRun{}, fmt.Errorf("%w: no runs yet", apperr.ErrNotFound)
}

func (s *Service) Recent(ctx context.Context, limit int) ([]types.PipelineRun, error) {
	if s.history != nil {
		return s.history.Recent(ctx, limit)
	}
	list := s.registry.List()
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// FinalArtifactPath is valid only for a finished, successful run whose video is still on disk.
func (s *Service) FinalArtifactPath(ctx context.Context, runID string) (string, error) {
	snap, err := s.Status(ctx, runID)
	if err != nil {
		return "", err
	}
	switch {
	case !snap.Done:
		return "", fmt.Errorf("%w: run %s is still %s", apperr.ErrNotReady, runID, snap.Stage)
	case !snap.Succeeded:
		return "", fmt.Errorf("%w: run %s failed during %s", apperr.ErrNotReady, runID, snap.FailedStage)
	}
	final := snap.Artifacts.FinalVideo
	if final == "" || !s.store.Contains(final) || !artifacts.Exists(final) {
		return "", fmt.Errorf("%w: final video of run %s", apperr.ErrNotFound, runID)
	}
	return final, nil
}

// Shutdown cancels in-flight runs and waits for them to reach a terminal state.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("timed out waiting for runs to stop")
	}
}

func writeFile(dest string, src io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("empty file")
	}
	if err != nil {
		_ = os.Remove(dest)
	}
	return err
}
