package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/chorusreel-backend/internal/artifacts"
	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/jobs/poller"
	"github.com/yungbote/chorusreel-backend/internal/jobs/runstatus"
	"github.com/yungbote/chorusreel-backend/internal/observability"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

const remoteScheme = "gs://"

type Request struct {
	AudioPath string
	ModelName string
}

type Config struct {
	PollInterval   time.Duration
	PollTimeout    time.Duration
	ParallelSubmit bool
	Submit         poller.SubmitOptions
}

type Deps struct {
	Transcriber  Transcriber
	Chorus       ChorusExtractor
	AudioEmotion AudioEmotionAnalyzer
	LyricEmotion LyricEmotionAnalyzer
	Prompts      PromptGenerator
	Videos       *poller.Poller
	Fetcher      ArtifactFetcher
	Merger       Merger
	Store        *artifacts.Store
}

// Runner executes the fixed stage sequence for one run at a time.
type Runner struct {
	log  *logger.Logger
	cfg  Config
	deps Deps
}

func NewRunner(log *logger.Logger, cfg Config, deps Deps) (*Runner, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch {
	case deps.Transcriber == nil:
		return nil, errors.New("runner: transcriber required")
	case deps.Chorus == nil:
		return nil, errors.New("runner: chorus extractor required")
	case deps.AudioEmotion == nil || deps.LyricEmotion == nil:
		return nil, errors.New("runner: emotion analyzers required")
	case deps.Prompts == nil:
		return nil, errors.New("runner: prompt generator required")
	case deps.Videos == nil:
		return nil, errors.New("runner: video poller required")
	case deps.Fetcher == nil:
		return nil, errors.New("runner: artifact fetcher required")
	case deps.Merger == nil:
		return nil, errors.New("runner: merger required")
	case deps.Store == nil:
		return nil, errors.New("runner: artifact store required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = poller.DefaultInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = poller.DefaultTimeout
	}
	return &Runner{log: log.With("service", "PipelineRunner"), cfg: cfg, deps: deps}, nil
}

/*
Run drives run through every stage and always leaves it terminal.
  - Stages run strictly in order; the first error fails the run with the stage it happened in.
  - Panics are recovered into a failure of the stage in progress.
  - Nothing is returned: observers read the outcome from the run.
*/
func (r *Runner) Run(ctx context.Context, run *runstatus.Run, req Request) {
	if run == nil {
		return
	}
	ctx = ctxutil.WithRunID(ctxutil.Default(ctx), run.ID())
	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("run.id", run.ID()),
		attribute.String("run.model", req.ModelName),
	)
	defer span.End()

	log := r.log.With("run_id", run.ID())
	stage := types.StageIdle
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic in %s: %v", stage, rec)
			log.Error("Pipeline panic", "stage", stage, "panic", rec, "stack", string(debug.Stack()))
			observability.RecordError(span, err)
			run.Fail(stage, err)
		}
	}()

	fail := func(err error) {
		var se *apperr.StageError
		if errors.As(err, &se) {
			stage = types.Stage(se.Stage)
		}
		log.Warn("Pipeline failed", "stage", stage, "error", err)
		observability.RecordError(span, err)
		run.Fail(stage, err)
	}

	run.Logf("Using model: %s", req.ModelName)

	// 1. lyrics
	stage = types.StageTranscribing
	run.SetStage(stage, 0, "Transcribing audio")
	lyrics, err := r.transcribe(ctx, req.AudioPath)
	if err != nil {
		fail(err)
		return
	}
	run.SetLyrics(lyrics)
	run.Logf("Transcription complete (%d words)", len(strings.Fields(lyrics)))

	// 2. chorus
	stage = types.StageExtractingChorus
	run.SetStage(stage, 0, "Extracting chorus")
	chorus, err := r.extractChorus(ctx, run.ID(), req.AudioPath)
	if err != nil {
		fail(err)
		return
	}
	run.SetChorus(chorus)
	run.Logf("Chorus detected: %.2fs–%.2fs", chorus.Start, chorus.End)

	// 3. audio emotion
	stage = types.StageAnalyzingAudioEmotion
	run.SetStage(stage, 0, "Analyzing audio emotion")
	audioEm, err := callStage(ctx, r.log, stage, func(ctx context.Context) (types.AudioEmotion, error) {
		return r.deps.AudioEmotion.AnalyzeAudio(ctx, chorus.Path)
	})
	if err != nil {
		fail(err)
		return
	}
	run.SetAudioEmotion(audioEm)
	run.AppendLog("Audio emotion analysis complete")

	// 4. lyric emotion
	stage = types.StageAnalyzingLyricEmotion
	run.SetStage(stage, 0, "Analyzing lyric emotion")
	lyricEm, err := callStage(ctx, r.log, stage, func(ctx context.Context) (types.LyricEmotion, error) {
		return r.deps.LyricEmotion.AnalyzeLyrics(ctx, lyrics)
	})
	if err != nil {
		fail(err)
		return
	}
	run.SetLyricEmotion(lyricEm)
	run.Logf("Lyric emotion: %s (%.1f%%)", lyricEm.Label, lyricEm.Confidence*100)

	// 5. prompts
	stage = types.StageGeneratingPrompts
	run.SetStage(stage, 0, "Generating prompts")
	prompts, err := r.generatePrompts(ctx, req.ModelName, PromptInput{Lyrics: lyrics, AudioEmotion: audioEm, LyricEmotion: lyricEm})
	if err != nil {
		fail(err)
		return
	}
	run.SetPrompts(prompts)
	run.Logf("Generated %d prompts", len(prompts))

	// 6+7. one external job per prompt, staged in prompt order
	stage = types.StageGeneratingVideo
	videos, err := r.generateVideos(ctx, run, prompts, func(s types.Stage) { stage = s })
	if err != nil {
		fail(err)
		return
	}

	// 8. merge
	stage = types.StageStitching
	run.SetStage(stage, 0, "Stitching videos")
	final, err := r.merge(ctx, run.ID(), videos, chorus.Path)
	if err != nil {
		fail(err)
		return
	}
	span.SetAttributes(attribute.Int("run.videos", len(videos)))
	log.Info("Pipeline finished", "final_video", final)
	run.Succeed(final, fmt.Sprintf("Final video ready: %s", filepath.Base(final)))
}

func (r *Runner) transcribe(ctx context.Context, audioPath string) (string, error) {
	if strings.TrimSpace(audioPath) == "" || !artifacts.Exists(audioPath) {
		return "", stageErr(types.StageTranscribing, apperr.Wrap(apperr.ErrInput, fmt.Errorf("audio file not readable: %q", audioPath)))
	}
	lyrics, err := callStage(ctx, r.log, types.StageTranscribing, func(ctx context.Context) (string, error) {
		return r.deps.Transcriber.Transcribe(ctx, audioPath)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(lyrics), nil
}

func (r *Runner) extractChorus(ctx context.Context, runID, audioPath string) (types.ChorusSpan, error) {
	clipPath, err := r.deps.Store.ChorusPath(runID, audioPath)
	if err != nil {
		return types.ChorusSpan{}, stageErr(types.StageExtractingChorus, apperr.Wrap(apperr.ErrRetrieval, err))
	}
	span, err := callStage(ctx, r.log, types.StageExtractingChorus, func(ctx context.Context) (types.ChorusSpan, error) {
		return r.deps.Chorus.ExtractChorus(ctx, audioPath, clipPath)
	})
	if err != nil {
		return types.ChorusSpan{}, err
	}
	if span.Path == "" {
		span.Path = clipPath
	}
	if !artifacts.Exists(span.Path) {
		return types.ChorusSpan{}, stageErr(types.StageExtractingChorus, apperr.Wrap(apperr.ErrCollaborator, fmt.Errorf("chorus clip missing at %s", span.Path)))
	}
	return span, nil
}

func (r *Runner) generatePrompts(ctx context.Context, model string, in PromptInput) ([]string, error) {
	raw, err := callStage(ctx, r.log, types.StageGeneratingPrompts, func(ctx context.Context) ([]string, error) {
		return r.deps.Prompts.GeneratePrompts(ctx, model, in)
	})
	if err != nil {
		return nil, err
	}
	prompts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			prompts = append(prompts, p)
		}
	}
	if len(prompts) == 0 {
		return nil, stageErr(types.StageGeneratingPrompts, apperr.Wrap(apperr.ErrCollaborator, errors.New("no prompts generated")))
	}
	return prompts, nil
}

func (r *Runner) merge(ctx context.Context, runID string, videos []string, audioPath string) (string, error) {
	outDir, err := r.deps.Store.OutputDir(runID)
	if err != nil {
		return "", stageErr(types.StageStitching, apperr.Wrap(apperr.ErrMerge, err))
	}
	final, err := callStage(ctx, r.log, types.StageStitching, func(ctx context.Context) (string, error) {
		out, err := r.deps.Merger.Merge(ctx, videos, audioPath, outDir)
		return out, apperr.Wrap(apperr.ErrMerge, err)
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(final) == "" {
		return "", stageErr(types.StageStitching, apperr.Wrap(apperr.ErrMerge, errors.New("merger returned no output path")))
	}
	return final, nil
}

// callStage runs one collaborator call under its own span. Errors without a taxonomy kind become collaborator errors.
func callStage[T any](ctx context.Context, log *logger.Logger, stage types.Stage, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.stage", attribute.String("stage", string(stage)))
	defer span.End()
	start := time.Now()
	out, err := fn(ctx)
	if err != nil {
		if apperr.Kind(err) == nil {
			err = apperr.Wrap(apperr.ErrCollaborator, err)
		}
		observability.RecordError(span, err)
		log.Debug("Stage call failed", "stage", stage, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return out, stageErr(stage, err)
	}
	log.Debug("Stage call finished", "stage", stage, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

func stageErr(stage types.Stage, err error) error {
	var se *apperr.StageError
	if errors.As(err, &se) {
		return err
	}
	return &apperr.StageError{Stage: string(stage), Err: err}
}
