package security

import "time"

// RequestPattern is the view of a request the scorers work on. Header keys
// are lowercased.
type RequestPattern struct {
	IP        string
	UserAgent string
	Path      string
	Method    string
	Timestamp time.Time
	Headers   map[string]string
}

func (p RequestPattern) Header(key string) (string, bool) {
	v, ok := p.Headers[key]
	return v, ok
}
