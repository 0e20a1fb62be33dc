package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/chorusreel-backend/internal/artifacts"
	"github.com/yungbote/chorusreel-backend/internal/data/db"
	"github.com/yungbote/chorusreel-backend/internal/data/repos/runs"
	"github.com/yungbote/chorusreel-backend/internal/jobs/pipeline"
	"github.com/yungbote/chorusreel-backend/internal/jobs/poller"
	"github.com/yungbote/chorusreel-backend/internal/jobs/runstatus"
	"github.com/yungbote/chorusreel-backend/internal/pkg/dbctx"
	"github.com/yungbote/chorusreel-backend/internal/platform/analysis"
	"github.com/yungbote/chorusreel-backend/internal/platform/ctxutil"
	"github.com/yungbote/chorusreel-backend/internal/platform/gcp"
	"github.com/yungbote/chorusreel-backend/internal/platform/localmedia"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
	"github.com/yungbote/chorusreel-backend/internal/platform/openai"
	"github.com/yungbote/chorusreel-backend/internal/platform/prompts"
	"github.com/yungbote/chorusreel-backend/internal/realtime"
	"github.com/yungbote/chorusreel-backend/internal/realtime/bus"
)

type historySet struct {
	DB       *gorm.DB
	Recorder *runs.Recorder
}

func wireHistory(ctx context.Context, log *logger.Logger, cfg Config) (historySet, error) {
	theDB, err := db.Open(log, cfg.RunDBDSN)
	if err != nil {
		return historySet{}, fmt.Errorf("open run db: %w", err)
	}
	if err := db.AutoMigrateAll(theDB); err != nil {
		return historySet{}, fmt.Errorf("run db automigrate: %w", err)
	}
	repo := runs.NewRunRepo(theDB, log)
	n, err := repo.MarkInterrupted(dbctx.Context{Ctx: ctx}, "interrupted by restart", time.Now().UTC())
	if err != nil {
		return historySet{}, fmt.Errorf("mark interrupted runs: %w", err)
	}
	if n > 0 {
		log.Warn("Marked runs interrupted by restart", "count", n)
	}
	return historySet{DB: theDB, Recorder: runs.NewRecorder(log, repo)}, nil
}

// wireEvents connects run updates to the SSE hub, through redis when configured.
func wireEvents(ctx context.Context, log *logger.Logger, cfg Config, hub *realtime.SSEHub) (runstatus.Listener, bus.Bus, error) {
	if cfg.RedisAddr == "" {
		return hub, nil, nil
	}
	b, err := bus.NewRedisBus(log, bus.RedisConfig{Addr: cfg.RedisAddr, Channel: cfg.RedisChannel})
	if err != nil {
		return nil, nil, fmt.Errorf("init redis bus: %w", err)
	}
	if err := b.StartForwarder(ctx, hub.Broadcast); err != nil {
		_ = b.Close()
		return nil, nil, fmt.Errorf("start redis forwarder: %w", err)
	}
	return bus.NewPublisher(log, b), b, nil
}

type collaborators struct {
	deps    pipeline.Deps
	closers []io.Closer
}

func wireCollaborators(ctx context.Context, log *logger.Logger, cfg Config, store *artifacts.Store) (collaborators, error) {
	var out collaborators
	media := localmedia.New(log,
		localmedia.WithBinaries(cfg.FFmpegPath, cfg.FFprobePath),
		localmedia.WithTimeout(cfg.MediaTimeout),
	)
	if err := media.AssertReady(ctx); err != nil {
		log.Warn("Media tools not ready; chorus and stitching stages will fail", "error", err)
	}

	transcriber, closer, err := wireTranscriber(ctx, log, cfg, media)
	if err != nil {
		return out, err
	}
	if closer != nil {
		out.closers = append(out.closers, closer)
	}

	analyzer, err := analysis.NewClient(log, analysis.Config{
		BaseURL: cfg.AnalysisBaseURL,
		Timeout: cfg.AnalysisTimeout,
	})
	if err != nil {
		return out, fmt.Errorf("init analysis client: %w", err)
	}

	catalog, err := prompts.LoadCatalog(cfg.PromptModelsFile)
	if err != nil {
		return out, fmt.Errorf("load prompt catalog: %w", err)
	}
	if _, err := catalog.Lookup(cfg.DefaultModel); err != nil {
		return out, fmt.Errorf("default prompt model: %w", err)
	}

	veo, err := gcp.NewVeo(ctx, log, gcp.VeoConfig{
		Project:   cfg.GCPProject,
		Location:  cfg.GCPLocation,
		Model:     cfg.VeoModel,
		OutputURI: cfg.VeoOutputURI,
	})
	if err != nil {
		return out, fmt.Errorf("init veo: %w", err)
	}

	bucket, err := gcp.NewBucketService(log)
	if err != nil {
		return out, fmt.Errorf("init bucket service: %w", err)
	}
	out.closers = append(out.closers, bucket)

	out.deps = pipeline.Deps{
		Transcriber:  transcriber,
		Chorus:       analysis.NewChorusExtractor(analyzer, media),
		AudioEmotion: analyzer,
		LyricEmotion: analyzer,
		Prompts:      prompts.NewGenerator(log, catalog),
		Videos:       poller.New(veo, log),
		Fetcher:      bucket,
		Merger:       media,
		Store:        store,
	}
	return out, nil
}

func wireTranscriber(ctx context.Context, log *logger.Logger, cfg Config, media *localmedia.Tools) (pipeline.Transcriber, io.Closer, error) {
	switch cfg.Transcriber {
	case TranscriberGCP:
		s, err := gcp.NewSpeech(ctxutil.Default(ctx), log, media, gcp.SpeechConfig{
			LanguageCode: cfg.SpeechLanguage,
			SampleRate:   localmedia.SpeechSampleRate,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init speech transcriber: %w", err)
		}
		return s, s, nil
	case TranscriberOpenAI, "":
		c, err := openai.NewClient(log, openai.Config{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			MaxRetries: cfg.OpenAIMaxRetries,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init openai transcriber: %w", err)
		}
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown TRANSCRIBER %q (want %s or %s)", cfg.Transcriber, TranscriberOpenAI, TranscriberGCP)
	}
}
