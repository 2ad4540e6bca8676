package subscriber

import (
	"context"

	"github.com/NeuralTrust/TrustShield/pkg/config"
	infraCache "github.com/NeuralTrust/TrustShield/pkg/infra/cache"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/sirupsen/logrus"
)

type RulesReloader interface {
	Reload(configs []config.RuleConfig) error
}

type RulesReloadedEventSubscriber struct {
	logger *logrus.Logger
	rules  RulesReloader
}

func NewRulesReloadedEventSubscriber(
	logger *logrus.Logger,
	rules RulesReloader,
) infraCache.EventSubscriber[event.RulesReloadedEvent] {
	return &RulesReloadedEventSubscriber{
		logger: logger,
		rules:  rules,
	}
}

func (s RulesReloadedEventSubscriber) OnEvent(_ context.Context, evt event.RulesReloadedEvent) error {
	s.logger.WithField("rules", len(evt.Rules)).Debug("applying rate limit rules from peer")
	return s.rules.Reload(evt.Rules)
}
