package ratelimit

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/mitchellh/mapstructure"
)

var (
	ErrInvalidRule   = errors.New("invalid rate limit rule")
	ErrDuplicateRule = errors.New("duplicate rate limit rule id")
)

// Request holds the attributes rules are matched against.
type Request struct {
	IP       string
	Method   string
	Path     string
	UserID   string
	APIKeyID string
	Role     string
}

// Rule is a compiled, immutable rate limit rule.
type Rule struct {
	config.RuleConfig

	order   int
	paths   []pathMatcher
	ips     []ipMatcher
	methods map[string]struct{}
	roles   map[string]struct{}
	apiKeys map[string]struct{}
	limiter *Limiter
}

type pathMatcher struct {
	prefix string
	glob   *regexp.Regexp
}

func (m pathMatcher) match(path string) bool {
	if m.glob != nil {
		return m.glob.MatchString(path)
	}
	return strings.HasPrefix(path, m.prefix)
}

type ipMatcher struct {
	exact string
	glob  *regexp.Regexp
	cidr  *net.IPNet
}

func (m ipMatcher) match(ip string) bool {
	switch {
	case m.cidr != nil:
		parsed := net.ParseIP(ip)
		return parsed != nil && m.cidr.Contains(parsed)
	case m.glob != nil:
		return m.glob.MatchString(ip)
	default:
		return m.exact == ip
	}
}

func compileRule(cfg config.RuleConfig, order int) (*Rule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if cfg.WindowMs <= 0 || cfg.Max <= 0 {
		return nil, fmt.Errorf("%w: rule %s needs positive window_ms and max", ErrInvalidRule, cfg.ID)
	}

	rule := &Rule{
		RuleConfig: cfg,
		order:      order,
		methods:    toSet(cfg.Methods, strings.ToUpper),
		roles:      toSet(cfg.Roles, nil),
		apiKeys:    toSet(cfg.APIKeys, nil),
	}
	for _, p := range cfg.Paths {
		m, err := compilePath(p)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s path %q: %v", ErrInvalidRule, cfg.ID, p, err)
		}
		rule.paths = append(rule.paths, m)
	}
	for _, ip := range cfg.IPs {
		m, err := compileIP(ip)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s ip %q: %v", ErrInvalidRule, cfg.ID, ip, err)
		}
		rule.ips = append(rule.ips, m)
	}
	return rule, nil
}

func compilePath(pattern string) (pathMatcher, error) {
	if !strings.Contains(pattern, "*") {
		return pathMatcher{prefix: pattern}, nil
	}
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return pathMatcher{}, err
	}
	return pathMatcher{glob: re}, nil
}

func compileIP(pattern string) (ipMatcher, error) {
	if strings.Contains(pattern, "/") {
		_, cidr, err := net.ParseCIDR(pattern)
		if err != nil {
			return ipMatcher{}, err
		}
		return ipMatcher{cidr: cidr}, nil
	}
	if strings.Contains(pattern, "*") {
		expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, `\d+`) + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			return ipMatcher{}, err
		}
		return ipMatcher{glob: re}, nil
	}
	return ipMatcher{exact: pattern}, nil
}

func toSet(values []string, transform func(string) string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if transform != nil {
			v = transform(v)
		}
		set[v] = struct{}{}
	}
	return set
}

// Matches reports whether every configured predicate accepts req.
func (r *Rule) Matches(req Request) bool {
	if len(r.paths) > 0 && !anyPath(r.paths, req.Path) {
		return false
	}
	if r.methods != nil {
		if _, ok := r.methods[strings.ToUpper(req.Method)]; !ok {
			return false
		}
	}
	if r.roles != nil {
		if _, ok := r.roles[req.Role]; !ok {
			return false
		}
	}
	if r.apiKeys != nil {
		if _, ok := r.apiKeys[req.APIKeyID]; !ok {
			return false
		}
	}
	if len(r.ips) > 0 && !anyIP(r.ips, req.IP) {
		return false
	}
	return true
}

func anyPath(matchers []pathMatcher, path string) bool {
	for _, m := range matchers {
		if m.match(path) {
			return true
		}
	}
	return false
}

func anyIP(matchers []ipMatcher, ip string) bool {
	for _, m := range matchers {
		if m.match(ip) {
			return true
		}
	}
	return false
}

// identity picks the most specific key available: API key, then user, then IP.
func identity(req Request) string {
	switch {
	case req.APIKeyID != "":
		return "api:" + req.APIKeyID
	case req.UserID != "":
		return "user:" + req.UserID
	default:
		return "ip:" + req.IP
	}
}

// ParseRules decodes loosely typed rule definitions, such as a JSON request
// body, into rule configs.
func ParseRules(raw []map[string]interface{}) ([]config.RuleConfig, error) {
	rules := make([]config.RuleConfig, 0, len(raw))
	for i, item := range raw {
		var rule config.RuleConfig
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &rule,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(item); err != nil {
			return nil, fmt.Errorf("%w: rule #%d: %v", ErrInvalidRule, i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
