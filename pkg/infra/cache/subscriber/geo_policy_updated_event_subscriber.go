package subscriber

import (
	"context"

	"github.com/NeuralTrust/TrustShield/pkg/config"
	infraCache "github.com/NeuralTrust/TrustShield/pkg/infra/cache"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/sirupsen/logrus"
)

type GeoPolicyUpdater interface {
	UpdateConfig(cfg config.GeoBlockingConfig)
}

type GeoPolicyUpdatedEventSubscriber struct {
	logger *logrus.Logger
	geo    GeoPolicyUpdater
}

func NewGeoPolicyUpdatedEventSubscriber(
	logger *logrus.Logger,
	geo GeoPolicyUpdater,
) infraCache.EventSubscriber[event.GeoPolicyUpdatedEvent] {
	return &GeoPolicyUpdatedEventSubscriber{
		logger: logger,
		geo:    geo,
	}
}

func (s GeoPolicyUpdatedEventSubscriber) OnEvent(_ context.Context, evt event.GeoPolicyUpdatedEvent) error {
	s.logger.WithFields(logrus.Fields{
		"enabled": evt.Policy.Enabled,
		"blocked": evt.Policy.BlockedCountries,
		"allowed": evt.Policy.AllowedCountries,
	}).Debug("applying geo policy from peer")
	s.geo.UpdateConfig(evt.Policy)
	return nil
}
