package cache

import (
	"context"

	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/channel"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/go-redis/redis/v8"
)

type redisEventPublisher struct {
	client *redis.Client
	origin string
}

// NewRedisEventPublisher stamps every message with origin so the publishing
// instance can ignore its own events.
func NewRedisEventPublisher(client *redis.Client, origin string) EventPublisher {
	return &redisEventPublisher{
		client: client,
		origin: origin,
	}
}

func (p *redisEventPublisher) Publish(ctx context.Context, ch channel.Channel, ev event.Event) error {
	data, err := encodeMessage(p.origin, ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, string(ch), data).Err()
}
