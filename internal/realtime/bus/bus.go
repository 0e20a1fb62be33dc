package bus

import (
	"context"
	"time"

	types "github.com/yungbote/chorusreel-backend/internal/domain"
	"github.com/yungbote/chorusreel-backend/internal/platform/logger"
	"github.com/yungbote/chorusreel-backend/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}

const publishTimeout = 3 * time.Second

// Publisher forwards run snapshots to a Bus. It is registered as a run status listener.
type Publisher struct {
	log *logger.Logger
	bus Bus
}

func NewPublisher(log *logger.Logger, b Bus) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{log: log.With("service", "RunEventPublisher"), bus: b}
}

func (p *Publisher) OnUpdate(snap types.PipelineRun) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.bus.Publish(ctx, realtime.MessageForSnapshot(snap)); err != nil {
		p.log.Warn("Publish run snapshot failed", "run_id", snap.ID, "stage", snap.Stage, "error", err)
	}
}
