package request

import (
	"fmt"
	"net"
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
)

// RateLimitRequest identifies the client whose rate limit standing is read
// or reset.
type RateLimitRequest struct {
	IP       string `json:"ip"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	UserID   string `json:"user_id"`
	APIKeyID string `json:"api_key_id"`
	Role     string `json:"role"`
}

func (r *RateLimitRequest) Validate() error {
	if r.IP == "" && r.UserID == "" && r.APIKeyID == "" {
		return fmt.Errorf("one of ip, user_id or api_key_id is required")
	}
	if r.IP != "" && net.ParseIP(r.IP) == nil {
		return fmt.Errorf("ip %q is not a valid address", r.IP)
	}
	if r.Path != "" && !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path must start with '/'")
	}
	return nil
}

func (r *RateLimitRequest) ToRequest() ratelimit.Request {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = "GET"
	}
	path := r.Path
	if path == "" {
		path = "/"
	}
	return ratelimit.Request{
		IP:       r.IP,
		Method:   method,
		Path:     path,
		UserID:   r.UserID,
		APIKeyID: r.APIKeyID,
		Role:     r.Role,
	}
}
