package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/chorusreel-backend/internal/http/response"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
	"github.com/yungbote/chorusreel-backend/internal/realtime"
)

type RealtimeHandler struct {
	Log  *logger.Logger
	Hub  *realtime.SSEHub
	runs RunService
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, runs RunService) *RealtimeHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &RealtimeHandler{Log: log.With("handler", "RealtimeHandler"), Hub: hub, runs: runs}
}

// GET /api/runs/:id/events streams snapshots of one run and ends after its terminal snapshot.
func (h *RealtimeHandler) RunEvents(c *gin.Context) {
	runID := c.Param("id")
	if _, err := h.runs.Status(c.Request.Context(), runID); err != nil {
		response.RespondAppError(c, err)
		return
	}

	client := h.Hub.NewSSEClient()
	client.StopOnFinish = true
	h.Hub.AddChannel(client, realtime.ChannelForRun(runID))
	defer h.Hub.CloseClient(client)

	// Read the state again after subscribing so no transition falls between the two.
	if snap, err := h.runs.Status(c.Request.Context(), runID); err == nil {
		enqueue(client, realtime.MessageForSnapshot(snap))
	}

	h.Log.Debug("Run event stream open", "run_id", runID, "client_id", client.ID)
	h.Hub.ServeHTTP(c.Writer, c.Request, client)
}

// GET /api/events streams snapshots of every run.
func (h *RealtimeHandler) AllEvents(c *gin.Context) {
	client := h.Hub.NewSSEClient()
	h.Hub.AddChannel(client, realtime.ChannelAllRuns)
	defer h.Hub.CloseClient(client)
	if snap, err := h.runs.Latest(c.Request.Context()); err == nil {
		enqueue(client, realtime.MessageForSnapshot(snap))
	}
	h.Hub.ServeHTTP(c.Writer, c.Request, client)
}

func enqueue(client *realtime.SSEClient, msg realtime.SSEMessage) {
	select {
	case client.Outbound <- msg:
	default:
	}
}
