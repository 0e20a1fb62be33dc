package realtime

import (
	types "github.com/yungbote/chorusreel-backend/internal/domain"
)

type SSEEvent string

const (
	SSEEventRunUpdated  SSEEvent = "RunUpdated"
	SSEEventRunFinished SSEEvent = "RunFinished"
)

// ChannelAllRuns carries every run's snapshots.
const ChannelAllRuns = "runs"

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

func ChannelForRun(runID string) string { return "run:" + runID }

// MessageForSnapshot addresses snap to its run channel.
func MessageForSnapshot(snap types.PipelineRun) SSEMessage {
	ev := SSEEventRunUpdated
	if snap.Done {
		ev = SSEEventRunFinished
	}
	return SSEMessage{Channel: ChannelForRun(snap.ID), Event: ev, Data: snap}
}
