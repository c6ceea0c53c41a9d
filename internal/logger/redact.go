package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitivePatterns match credentials embedded in free-form strings such as
// DSNs and URLs.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api[_-]?key|token|secret|passw(or)?d)[\s:=]+)([^;,\s&]{5,})`),
	// user:pass@host in DSNs and URLs
	regexp.MustCompile(`([a-zA-Z0-9_.\-]+:)([^@/\s:]+)(@)`),
}

var sensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key",
	"apikey", "private_key", "authorization", "dsn",
}

// RedactSensitiveData masks credentials inside a string.
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}

	input = sensitivePatterns[0].ReplaceAllString(input, "${1}"+redactedValue)
	input = sensitivePatterns[1].ReplaceAllString(input, "${1}"+redactedValue)
	input = sensitivePatterns[2].ReplaceAllString(input, "${1}"+redactedValue+"${3}")

	return input
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
