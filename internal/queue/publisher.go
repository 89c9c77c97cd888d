package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher publishes committed changes to the change stream.
type Publisher interface {
	// Publish stamps the event with the session origin and appends it.
	// Returns the message ID assigned by Redis.
	Publish(ctx context.Context, event ChangeEvent) (messageID string, err error)
}

// RedisPublisher implements Publisher using Redis Streams.
type RedisPublisher struct {
	client *redis.Client
	origin string
	logger *zap.Logger
}

// NewPublisher creates a Publisher for the session identified by origin.
func NewPublisher(client *redis.Client, origin string, logger *zap.Logger) Publisher {
	return &RedisPublisher{client: client, origin: origin, logger: logger.Named("publisher")}
}

// Publish appends with XADD, trimming the stream to roughly StreamMaxLen.
func (p *RedisPublisher) Publish(ctx context.Context, event ChangeEvent) (string, error) {
	startTime := time.Now()
	event.Origin = p.origin

	values, err := event.ToMap()
	if err != nil {
		p.logger.Warn("Publish FAILED", zap.String("type", event.Type), zap.Error(err))
		return "", fmt.Errorf("serialize event: %w", err)
	}

	messageID, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamChanges,
		MaxLen: StreamMaxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		p.logger.Warn("Publish FAILED", zap.String("type", event.Type), zap.Error(err))
		return "", fmt.Errorf("xadd to stream: %w", err)
	}

	p.logger.Debug("Publish OK",
		zap.String("type", event.Type),
		zap.String("msg_id", messageID),
		zap.Duration("duration", time.Since(startTime)))
	return messageID, nil
}
