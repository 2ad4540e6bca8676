package common

type contextKey string

const (
	SecurityContextKey   contextKey = "security_context"
	LatencyContextKey    contextKey = "__execution_time"
	ConnectionTrackedKey contextKey = "connection_tracked"
)
