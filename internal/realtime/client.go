package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
)

type SSEClient struct {
	ID           uuid.UUID
	Channels     map[string]bool
	Outbound     chan SSEMessage
	StopOnFinish bool // end the stream once a RunFinished event is written
	Logger       *logger.Logger

	done      chan struct{}
	closeOnce sync.Once
}
