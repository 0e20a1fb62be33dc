package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/chorusreel-backend/internal/http/handlers"
	httpMW "github.com/yungbote/chorusreel-backend/internal/http/middleware"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

type RouterConfig struct {
	HealthHandler   *httpH.HealthHandler
	RunHandler      *httpH.RunHandler
	RealtimeHandler *httpH.RealtimeHandler

	Log         *logger.Logger
	CORSOrigins []string
	ServiceName string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins...))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Runs
		if cfg.RunHandler != nil {
			api.POST("/runs", cfg.RunHandler.CreateRun)
			api.GET("/runs", cfg.RunHandler.ListRuns)
			api.GET("/status", cfg.RunHandler.LatestStatus)
			api.GET("/runs/:id", cfg.RunHandler.GetRun)
			api.GET("/runs/:id/download", cfg.RunHandler.Download)
		}

		// Realtime (SSE)
		if cfg.RealtimeHandler != nil {
			api.GET("/runs/:id/events", cfg.RealtimeHandler.RunEvents)
			api.GET("/events", cfg.RealtimeHandler.AllEvents)
		}
	}

	// Legacy single-page upload form paths.
	if cfg.RunHandler != nil {
		r.POST("/process", cfg.RunHandler.CreateRun)
		r.GET("/status", cfg.RunHandler.LatestStatus)
	}

	return r
}
