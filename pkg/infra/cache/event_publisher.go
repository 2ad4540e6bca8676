package cache

import (
	"context"

	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/channel"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
)

type EventPublisher interface {
	Publish(ctx context.Context, channel channel.Channel, ev event.Event) error
}

type noopEventPublisher struct{}

// NewNoopEventPublisher is used when there is no shared store to fan out
// through.
func NewNoopEventPublisher() EventPublisher {
	return noopEventPublisher{}
}

func (noopEventPublisher) Publish(context.Context, channel.Channel, event.Event) error {
	return nil
}
