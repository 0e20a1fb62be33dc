package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/chorusreel-backend/internal/artifacts"
	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/jobs/pipeline"
	"github.com/yungbote/chorusreel-backend/internal/jobs/runstatus"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
)

// gatedRunner holds every run until release is closed, then finishes it with outcome.
type gatedRunner struct {
	release chan struct{}
	started chan pipeline.Request
	outcome func(run *runstatus.Run, req pipeline.Request)
}

func (g *gatedRunner) Run(ctx context.Context, run *runstatus.Run, req pipeline.Request) {
	g.started <- req
	select {
	case <-g.release:
	case <-ctx.Done():
		run.Fail(types.StageTranscribing, ctx.Err())
		return
	}
	g.outcome(run, req)
}

func newTestService(t *testing.T, outcome func(*runstatus.Run, pipeline.Request)) (*Service, *gatedRunner, *artifacts.Store) {
	t.Helper()
	store, err := artifacts.New(t.TempDir())
	if err != nil {
		t.Fatalf("artifacts.New: %v", err)
	}
	runner := &gatedRunner{release: make(chan struct{}), started: make(chan pipeline.Request, 4), outcome: outcome}
	svc := NewService(nil, runstatus.NewRegistry(nil), runner, store, ServiceConfig{DefaultModel: "gpt4o"})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc, runner, store
}

func waitDone(t *testing.T, svc *Service, id string) types.PipelineRun {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := svc.Status(context.Background(), id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if snap.Done {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return types.PipelineRun{}
}

func TestStartUploadRunsAndServesFinalVideo(t *testing.T) {
	var (
		final string
		store *artifacts.Store
	)
	svc, runner, store := newTestService(t, func(run *runstatus.Run, req pipeline.Request) {
		dir, _ := store.OutputDir(run.ID())
		final = filepath.Join(dir, "0_a_stitched.mp4")
		_ = os.WriteFile(final, []byte("mp4"), 0o644)
		run.Succeed(final, "Final video ready")
	})

	snap, err := svc.StartUpload(context.Background(), "My Song.mp3", strings.NewReader("ID3"), "")
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	if snap.Stage != types.StageIdle || snap.ModelName != "gpt4o" {
		t.Fatalf("initial snapshot: got stage=%s model=%s", snap.Stage, snap.ModelName)
	}
	req := <-runner.started
	if !store.Contains(req.AudioPath) || filepath.Base(req.AudioPath) != "My_Song.mp3" {
		t.Fatalf("upload path: got=%s", req.AudioPath)
	}

	if _, err := svc.FinalArtifactPath(context.Background(), snap.ID); !errors.Is(err, apperr.ErrNotReady) {
		t.Fatalf("in flight: want ErrNotReady got=%v", err)
	}
	if _, err := svc.StartUpload(context.Background(), "b.mp3", strings.NewReader("ID3"), "gpt4o"); !errors.Is(err, runstatus.ErrRunActive) {
		t.Fatalf("second upload: want ErrRunActive got=%v", err)
	}

	close(runner.release)
	waitDone(t, svc, snap.ID)

	got, err := svc.FinalArtifactPath(context.Background(), snap.ID)
	if err != nil || got != final {
		t.Fatalf("FinalArtifactPath: want=%s got=%s err=%v", final, got, err)
	}
	latest, err := svc.Latest(context.Background())
	if err != nil || latest.ID != snap.ID {
		t.Fatalf("Latest: got=%s err=%v", latest.ID, err)
	}
}

func TestFinalArtifactPathOfFailedRun(t *testing.T) {
	svc, runner, _ := newTestService(t, func(run *runstatus.Run, _ pipeline.Request) {
		run.Fail(types.StageGeneratingVideo, apperr.Wrap(apperr.ErrTimeout, errors.New("job 2")))
	})
	close(runner.release)
	snap, err := svc.StartRun(context.Background(), "/tmp/a.mp3", "gpt4o")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	waitDone(t, svc, snap.ID)
	if _, err := svc.FinalArtifactPath(context.Background(), snap.ID); !errors.Is(err, apperr.ErrNotReady) {
		t.Fatalf("failed run: want ErrNotReady got=%v", err)
	}
}

func TestStatusUnknownRun(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.Status(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("want ErrNotFound got=%v", err)
	}
	if _, err := svc.Latest(context.Background()); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("Latest: want ErrNotFound got=%v", err)
	}
}

func TestStartUploadRejectsEmptyFile(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	if _, err := svc.StartUpload(context.Background(), "a.mp3", strings.NewReader(""), ""); !errors.Is(err, apperr.ErrInput) {
		t.Fatalf("want ErrInput got=%v", err)
	}
}

func TestShutdownCancelsInFlightRun(t *testing.T) {
	svc, runner, _ := newTestService(t, nil)
	snap, err := svc.StartRun(context.Background(), "/tmp/a.mp3", "gpt4o")
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	<-runner.started
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	got, _ := svc.Status(context.Background(), snap.ID)
	if !got.Done || got.Succeeded {
		t.Fatalf("want failed terminal run, got=%+v", got)
	}
}
