package event

import "github.com/NeuralTrust/TrustShield/pkg/config"

// RulesReloadedEvent carries the complete rule set an instance switched to.
type RulesReloadedEvent struct {
	Rules []config.RuleConfig `json:"rules"`
}

func (e RulesReloadedEvent) Type() string {
	return RulesReloadedEventType
}
