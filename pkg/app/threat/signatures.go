package threat

import (
	"net/url"
	"regexp"
)

const (
	IndicatorSQLInjection     = "sql_injection"
	IndicatorXSS              = "xss"
	IndicatorPathTraversal    = "path_traversal"
	IndicatorCommandInjection = "command_injection"
	IndicatorRateAnomaly      = "rate_anomaly"
	IndicatorPathScanning     = "path_scanning"
	IndicatorUserAgent        = "user_agent_anomaly"
	IndicatorReputation       = "reputation"
)

type signatureFamily struct {
	name        string
	confidence  float64
	description string
	pathOnly    bool
	patterns    []*regexp.Regexp
}

var signatureFamilies = []signatureFamily{
	{
		name:        IndicatorSQLInjection,
		confidence:  0.8,
		description: "SQL injection pattern detected",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(union|select|insert|update|delete|drop|create)\b.*\b(from|into|where|table)\b`),
			regexp.MustCompile(`(?i)\b(or|and)\b\s*\d+\s*=\s*\d+`),
			regexp.MustCompile(`(?i)['"]\s*(or|and)\s*['"]\s*=\s*['"]`),
		},
	},
	{
		name:        IndicatorXSS,
		confidence:  0.7,
		description: "cross-site scripting pattern detected",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`),
			regexp.MustCompile(`(?i)javascript:`),
			regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|focus|blur|submit)\s*=`),
			regexp.MustCompile(`(?i)<iframe`),
		},
	},
	{
		name:        IndicatorPathTraversal,
		confidence:  0.8,
		description: "path traversal attempt detected",
		pathOnly:    true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\.\.[/\\]`),
		},
	},
	{
		name:        IndicatorCommandInjection,
		confidence:  0.7,
		description: "command injection pattern detected",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)[;&|]\s*(cat|ls|id|whoami|uname|wget|curl|nc|bash|sh|rm|ping|chmod)\b`),
			regexp.MustCompile(`\$\([^)]+\)`),
			regexp.MustCompile("`[^`]+`"),
		},
	},
}

func (f signatureFamily) matches(values []string) bool {
	for _, re := range f.patterns {
		for _, v := range values {
			if re.MatchString(v) {
				return true
			}
		}
	}
	return false
}

// pathVariants returns the raw path and, when it differs, its decoded form.
func pathVariants(path string) []string {
	decoded, err := url.PathUnescape(path)
	if err != nil || decoded == path {
		return []string{path}
	}
	return []string{path, decoded}
}
