package domain

import (
	"fmt"
	"net/http"
)

// RateLimitExceeded is retryable once RetryAfter seconds have elapsed.
type RateLimitExceeded struct {
	RetryAfter int
	Limit      int
	Current    int
	ResetTime  int64
}

func NewRateLimitExceeded(retryAfter, limit, current int, resetTime int64) *RateLimitExceeded {
	return &RateLimitExceeded{
		RetryAfter: retryAfter,
		Limit:      limit,
		Current:    current,
		ResetTime:  resetTime,
	}
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d, retry after %ds", e.Current, e.Limit, e.RetryAfter)
}

func (e *RateLimitExceeded) StatusCode() int {
	return http.StatusTooManyRequests
}

func (e *RateLimitExceeded) Code() string {
	return "RATE_LIMIT_EXCEEDED"
}
