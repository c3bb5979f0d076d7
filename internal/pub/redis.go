package pub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	ContractEventsChannel = "contract_events"
	BalanceEventsChannel  = "balance_events"
)

// RedisPublisher mirrors events onto pub/sub channels; balance updates get their own
// channel so every API instance can relay them to its websocket clients.
type RedisPublisher struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

func NewRedisPublisher(rdb redis.UniversalClient, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.String("event_type", evt.Type), zap.Error(err))
		return
	}
	channel := ContractEventsChannel
	if evt.Type == EventBalanceUpdated {
		channel = BalanceEventsChannel
	}
	if err := p.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish event to redis",
			zap.String("channel", channel),
			zap.String("event_type", evt.Type),
			zap.Error(err))
		return
	}
	p.logger.Debug("event published", zap.String("channel", channel), zap.String("event_type", evt.Type), zap.String("key", evt.Key))
}

func (p *RedisPublisher) Close() error { return nil }
