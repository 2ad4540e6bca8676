package event

import "github.com/NeuralTrust/TrustShield/pkg/config"

// GeoPolicyUpdatedEvent carries a full snapshot of the country policy so
// receivers never depend on the order of earlier events.
type GeoPolicyUpdatedEvent struct {
	Policy config.GeoBlockingConfig `json:"policy"`
}

func (e GeoPolicyUpdatedEvent) Type() string {
	return GeoPolicyUpdatedEventType
}
