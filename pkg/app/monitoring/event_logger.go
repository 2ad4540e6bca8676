package monitoring

import (
	"context"

	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
)

// EventLogger is a fire-and-forget audit sink. Log never blocks on storage
// and never fails the caller.
type EventLogger interface {
	Log(
		ctx context.Context,
		eventType security.EventType,
		severity security.Severity,
		details map[string]interface{},
		resolution *security.Resolution,
	)
}

type noopLogger struct{}

// NewNoopEventLogger discards every event.
func NewNoopEventLogger() EventLogger {
	return noopLogger{}
}

func (noopLogger) Log(context.Context, security.EventType, security.Severity, map[string]interface{}, *security.Resolution) {
}
