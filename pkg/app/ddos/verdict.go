package ddos

import (
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/app/challenge"
	domain "github.com/NeuralTrust/TrustShield/pkg/domain/errors"
	"github.com/NeuralTrust/TrustShield/pkg/domain/security"
)

type Action string

const (
	ActionAllow        Action = "allow"
	ActionChallenge    Action = "challenge"
	ActionVerification Action = "verification"
)

// Request is the part of an inbound request the pipeline inspects. Header
// keys are lowercased.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

func (r Request) Header(key string) string {
	return r.Headers[strings.ToLower(key)]
}

// Verdict is the outcome of Protect when the request was not denied.
// Denials are returned as *domain.SecurityDenied errors instead.
type Verdict struct {
	Action    Action
	Reason    domain.DenyReason
	Challenge *challenge.Challenge
	Result    *challenge.Result
	Analysis  *security.ThreatAnalysis
	// Tracked is set when the request holds a connection slot that must be
	// given back with Release.
	Tracked bool
}

func allow() *Verdict {
	return &Verdict{Action: ActionAllow}
}

func challenged(ch *challenge.Challenge, analysis *security.ThreatAnalysis) *Verdict {
	reason := domain.ReasonDDoSChallenge
	if ch.Type == challenge.TypeBlock {
		reason = domain.ReasonDDoSBlock
	}
	return &Verdict{
		Action:    ActionChallenge,
		Reason:    reason,
		Challenge: ch,
		Analysis:  analysis,
	}
}

func verification(result challenge.Result) *Verdict {
	return &Verdict{Action: ActionVerification, Result: &result}
}
