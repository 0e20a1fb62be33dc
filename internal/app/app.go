package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/chorusreel-backend/internal/artifacts"
	httpapi "github.com/yungbote/chorusreel-backend/internal/http"
	httpH "github.com/yungbote/chorusreel-backend/internal/http/handlers"
	"github.com/yungbote/chorusreel-backend/internal/jobs/pipeline"
	"github.com/yungbote/chorusreel-backend/internal/jobs/poller"
	"github.com/yungbote/chorusreel-backend/internal/jobs/runstatus"
	"github.com/yungbote/chorusreel-backend/internal/observability"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
	"github.com/yungbote/chorusreel-backend/internal/realtime"
	"github.com/yungbote/chorusreel-backend/internal/realtime/bus"
)

const (
	serviceName     = "chorusreel"
	shutdownTimeout = 30 * time.Second
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *httpapi.Server
	Cfg      Config
	Registry *runstatus.Registry
	Service  *Service
	SSEHub   *realtime.SSEHub

	bus          bus.Bus
	closers      []io.Closer
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{Log: log, Cfg: cfg, cancel: cancel}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	log, cfg := a.Log, a.Cfg

	a.otelShutdown = observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Version:     os.Getenv("APP_VERSION"),
	})

	store, err := artifacts.New(cfg.DataRoot)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}

	history, err := wireHistory(ctx, log, cfg)
	if err != nil {
		return err
	}
	a.DB = history.DB

	a.SSEHub = realtime.NewSSEHub(log)
	events, b, err := wireEvents(ctx, log, cfg, a.SSEHub)
	if err != nil {
		return err
	}
	a.bus = b

	a.Registry = runstatus.NewRegistry(log,
		runstatus.WithHistoryLimit(cfg.HistoryLimit),
		runstatus.WithListener(history.Recorder),
		runstatus.WithListener(events),
	)

	collab, err := wireCollaborators(ctx, log, cfg, store)
	a.closers = append(a.closers, collab.closers...)
	if err != nil {
		return err
	}
	runner, err := pipeline.NewRunner(log, pipeline.Config{
		PollInterval:   cfg.PollInterval,
		PollTimeout:    cfg.PollTimeout,
		ParallelSubmit: cfg.ParallelSubmit,
		Submit: poller.SubmitOptions{
			AspectRatio:     cfg.VeoAspectRatio,
			DurationSeconds: cfg.VeoDurationSeconds,
			OutputURI:       cfg.VeoOutputURI,
		},
	}, collab.deps)
	if err != nil {
		return fmt.Errorf("init pipeline runner: %w", err)
	}

	a.Service = NewService(log, a.Registry, runner, store, ServiceConfig{
		DefaultModel: cfg.DefaultModel,
		History:      history.Recorder,
	})

	a.Server = httpapi.NewServer(httpapi.RouterConfig{
		HealthHandler:   httpH.NewHealthHandler(),
		RunHandler:      httpH.NewRunHandler(log, a.Service, cfg.MaxUploadBytes),
		RealtimeHandler: httpH.NewRealtimeHandler(log, a.SSEHub, a.Service),
		Log:             log,
		CORSOrigins:     cfg.CORSOrigins,
		ServiceName:     serviceName,
	})
	return nil
}

func (a *App) Addr() string {
	return net.JoinHostPort("", a.Cfg.Port)
}

// Run serves until ctx is cancelled, then drains the server and the in-flight run.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Server listening", "addr", a.Addr())
		errCh <- a.Server.Run(a.Addr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("Shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.shutdown(drainCtx)
	return <-errCh
}

func (a *App) shutdown(ctx context.Context) {
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Log.Warn("HTTP shutdown", "error", err)
	}
	if a.Service != nil {
		if err := a.Service.Shutdown(ctx); err != nil {
			a.Log.Warn("Pipeline shutdown", "error", err)
		}
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Log.Warn("Close collaborator", "error", err)
		}
	}
	a.closers = nil
	if a.bus != nil {
		_ = a.bus.Close()
		a.bus = nil
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
