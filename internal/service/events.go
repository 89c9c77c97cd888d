package service

import (
	"context"

	"go.uber.org/zap"

	"iamstagram_engine/internal/gateway"
	"iamstagram_engine/internal/queue"
)

// batcher is the part of the gateway services need to group writes.
type batcher interface {
	Batch() gateway.Batch
}

// publish sends a change event after commit. Failures are logged, never
// returned: the write already happened and other sessions self-heal on TTL.
func publish(ctx context.Context, p queue.Publisher, logger *zap.Logger, event queue.ChangeEvent) {
	if p == nil {
		return
	}
	msgID, err := p.Publish(ctx, event)
	if err != nil {
		logger.Warn("Failed to publish event", zap.String("type", event.Type), zap.Error(err))
		return
	}
	logger.Debug("Published event", zap.String("type", event.Type), zap.String("msg_id", msgID))
}
