package domain

import (
	"fmt"
	"net/http"
)

type DenyReason string

const (
	ReasonGeoBlocked    DenyReason = "geo-blocked"
	ReasonIPBlocked     DenyReason = "ip-blocked"
	ReasonDDoSChallenge DenyReason = "ddos-challenge"
	ReasonDDoSBlock     DenyReason = "ddos-block"
)

// SecurityDenied is not retryable while the deny window lasts.
type SecurityDenied struct {
	Reason  DenyReason
	Message string
}

func NewSecurityDenied(reason DenyReason, message string) *SecurityDenied {
	return &SecurityDenied{Reason: reason, Message: message}
}

func (e *SecurityDenied) Error() string {
	return fmt.Sprintf("access denied (%s): %s", e.Reason, e.Message)
}

func (e *SecurityDenied) StatusCode() int {
	return http.StatusForbidden
}
