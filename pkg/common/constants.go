package common

import "time"

const (
	ChallengeTTL        = 5 * time.Minute
	VerifiedTTL         = 1 * time.Hour
	GeoCacheTTL         = 1 * time.Hour
	SecurityEventTTL    = 24 * time.Hour
	ThreatHistoryTTL    = 1 * time.Hour
	ReputationTTL       = 24 * time.Hour
	PatternHistoryTTL   = 5 * time.Minute
	ConnectionTrackTTL  = 60 * time.Second
	ViolationCounterTTL = 1 * time.Hour

	ChallengeIDHeader = "X-Challenge-ID"
	BlockReasonHeader = "X-Block-Reason"
	RetryAfterHeader  = "Retry-After"
	RequestIDHeader   = "X-Request-ID"

	RateLimitLimitHeader     = "X-RateLimit-Limit"
	RateLimitRemainingHeader = "X-RateLimit-Remaining"
	RateLimitResetHeader     = "X-RateLimit-Reset"
)
