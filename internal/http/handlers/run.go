package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/http/response"
	apperr "github.com/yungbote/chorusreel-backend/internal/pkg/errors"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

// RunService is what the run endpoints need from the pipeline host.
type RunService interface {
	StartUpload(ctx context.Context, filename string, audio io.Reader, model string) (types.PipelineRun, error)
	Status(ctx context.Context, runID string) (types.PipelineRun, error)
	Latest(ctx context.Context) (types.PipelineRun, error)
	Recent(ctx context.Context, limit int) ([]types.PipelineRun, error)
	FinalArtifactPath(ctx context.Context, runID string) (string, error)
}

type RunHandler struct {
	log            *logger.Logger
	runs           RunService
	maxUploadBytes int64
}

func NewRunHandler(log *logger.Logger, runs RunService, maxUploadBytes int64) *RunHandler {
	if log == nil {
		log = logger.Nop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 100 << 20
	}
	return &RunHandler{log: log.With("handler", "RunHandler"), runs: runs, maxUploadBytes: maxUploadBytes}
}

// POST /api/runs (multipart: audio file, model field)
func (h *RunHandler) CreateRun(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	fh, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.RespondError(c, http.StatusRequestEntityTooLarge, "upload_too_large", err)
			return
		}
		response.RespondError(c, http.StatusBadRequest, "missing_audio", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_audio", err)
		return
	}
	defer f.Close()

	snap, err := h.runs.StartUpload(c.Request.Context(), filepath.Base(fh.Filename), f, c.PostForm("model"))
	if err != nil {
		if kind := apperr.Kind(err); kind == nil || kind == apperr.ErrCollaborator {
			h.log.Error("Start run failed", "error", err)
		}
		response.RespondAppError(c, err)
		return
	}
	c.Header("Location", "/api/runs/"+snap.ID)
	response.RespondAccepted(c, gin.H{"run": snap})
}

// GET /api/status
func (h *RunHandler) LatestStatus(c *gin.Context) {
	snap, err := h.runs.Latest(c.Request.Context())
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": snap})
}

// GET /api/runs
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := h.runs.Recent(c.Request.Context(), limit)
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"runs": runs})
}

// GET /api/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	snap, err := h.runs.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": snap})
}

// GET /api/runs/:id/download
func (h *RunHandler) Download(c *gin.Context) {
	p, err := h.runs.FinalArtifactPath(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.RespondAppError(c, err)
		return
	}
	c.FileAttachment(p, filepath.Base(p))
}
