package logger

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitivePatterns match credentials that must never reach a log line.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|password|key)=)([^&;,\s]+)`),
	regexp.MustCompile(`(?i)(AIza)[0-9A-Za-z\-_]{35}`),
}

var sensitiveKeys = []string{"authorization", "token", "secret", "password", "api_key", "apikey", "dsn"}

// RedactSensitiveData replaces credentials in free text with "[REDACTED]".
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitivePatterns {
		input = pattern.ReplaceAllString(input, "${1}[REDACTED]")
	}
	return input
}

// IsSensitiveKey reports whether a header or config key names a credential.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// RedactURL reduces a service URL to its scheme. Notification URLs carry
// tokens in the user, host and path parts alike.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "[REDACTED]"
	}
	return u.Scheme + "://[REDACTED]"
}
