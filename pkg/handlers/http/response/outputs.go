package response

import (
	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
)

type ListRulesOutput struct {
	Default config.LimitConfig  `json:"default"`
	Rules   []config.RuleConfig `json:"rules"`
}

type ListEventsOutput struct {
	Events []security.Event `json:"events"`
	Count  int              `json:"count"`
}

type GeoOutput struct {
	IP       string            `json:"ip"`
	Location *security.GeoInfo `json:"location"`
	Blocked  bool              `json:"blocked"`
}
