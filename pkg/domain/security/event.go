package security

import "time"

type EventType string

const (
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventDDoSAttackDetected EventType = "ddos_attack_detected"
	EventSuspiciousPattern  EventType = "suspicious_pattern"
	EventIPBlocked          EventType = "ip_blocked"
	EventGeoBlocked         EventType = "geo_blocked"
	EventChallengeIssued    EventType = "challenge_issued"
	EventChallengeServed    EventType = "challenge_served"
	EventChallengeFailed    EventType = "challenge_failed"
	EventChallengePassed    EventType = "challenge_passed"
	EventInjectionAttempt   EventType = "injection_attempt"
)

// IsAdverse reports whether the event counts against an IP's reputation.
func (t EventType) IsAdverse() bool {
	switch t {
	case EventRateLimitExceeded, EventDDoSAttackDetected, EventSuspiciousPattern:
		return true
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ResolutionAction string

const (
	ResolutionAllowed    ResolutionAction = "allowed"
	ResolutionChallenged ResolutionAction = "challenged"
	ResolutionBlocked    ResolutionAction = "blocked"
	ResolutionLogged     ResolutionAction = "logged"
)

type Resolution struct {
	Action ResolutionAction `json:"action"`
	Reason string           `json:"reason"`
}

// Event is an append-only audit record.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Severity   Severity               `json:"severity"`
	IP         string                 `json:"ip"`
	UserID     string                 `json:"user_id,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Path       string                 `json:"path,omitempty"`
	Method     string                 `json:"method,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Resolution *Resolution            `json:"resolution,omitempty"`
}
