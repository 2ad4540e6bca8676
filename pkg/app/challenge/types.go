package challenge

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeJS        Type = "jsChallenge"
	TypeCaptcha   Type = "captcha"
	TypeRateLimit Type = "rateLimit"
	TypeBlock     Type = "block"
)

func ParseType(s string) (Type, bool) {
	switch t := Type(s); t {
	case TypeJS, TypeCaptcha, TypeRateLimit, TypeBlock:
		return t, true
	}
	return "", false
}

// Problem is the arithmetic question of a jsChallenge.
type Problem struct {
	A  int
	B  int
	Op string
}

func (p Problem) Answer() int {
	if p.Op == "*" {
		return p.A * p.B
	}
	return p.A + p.B
}

func (p Problem) String() string {
	return fmt.Sprintf("%d %s %d", p.A, p.Op, p.B)
}

// Data holds the type specific payload. Only the fields of the challenge's
// type are set.
type Data struct {
	Problem      string `json:"problem,omitempty"`
	Salt         string `json:"salt,omitempty"`
	ExpectedHash string `json:"expected_hash,omitempty"`

	SiteKey   string `json:"site_key,omitempty"`
	CaptchaID string `json:"captcha_id,omitempty"`

	WaitTime int    `json:"wait_time,omitempty"`
	Message  string `json:"message,omitempty"`

	Duration int64 `json:"duration,omitempty"`
}

type Challenge struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Data        Data      `json:"data"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
}

// Public returns a copy without the expected answer digest.
func (c *Challenge) Public() *Challenge {
	cp := *c
	cp.Data.ExpectedHash = ""
	cp.Data.Salt = ""
	return &cp
}

type Response struct {
	Answer string `json:"answer"`
	Token  string `json:"token"`
}

type State string

const (
	StateNotFound State = "not_found"
	StateExpired  State = "expired"
	StatePending  State = "pending"
	StateFailed   State = "failed"
	StateVerified State = "verified"
)

type Result struct {
	State    State  `json:"state"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts"`
}
