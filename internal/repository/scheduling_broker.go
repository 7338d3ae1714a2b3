package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chronoshq/chronos-api/internal/service"
)

const defaultSchedulingChannel = "chronos:scheduling"

// SchedulingBroker publishes outbound scheduling messages on a Redis channel
// for downstream mailers to consume. A nil client logs and drops.
type SchedulingBroker struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewSchedulingBroker constructs a broker. An empty channel falls back to
// the default.
func NewSchedulingBroker(client *redis.Client, channel string, logger *zap.Logger) *SchedulingBroker {
	if channel == "" {
		channel = defaultSchedulingChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulingBroker{client: client, channel: channel, logger: logger}
}

// Deliver publishes each message individually; a failed publish aborts the
// batch so the queue can retry it.
func (b *SchedulingBroker) Deliver(ctx context.Context, messages []service.SchedulingMessage) error {
	if b.client == nil {
		b.logger.Debug("no broker backend, dropping scheduling messages", zap.Int("count", len(messages)))
		return nil
	}
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal scheduling message: %w", err)
		}
		if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish scheduling message: %w", err)
		}
	}
	return nil
}
