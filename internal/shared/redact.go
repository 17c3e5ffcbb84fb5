// Package shared holds small cross-cutting helpers used by every other
// package: secret redaction and trace-id propagation.
package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretPatterns matches common secret-bearing substrings in log, audit
// and error strings so they never reach disk or stdout unredacted.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey|secret[_-]?key|auth[_-]?token|bearer)\s*[:=]\s*"?([A-Za-z0-9_\-./+=]{16,})"?`),
	regexp.MustCompile(`(?i)(Bearer\s+)([A-Za-z0-9_\-./+=]{16,})`),
	regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`),
	regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`(?i)(token|secret)\s*[:=]\s*"?([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})"?`),
}

// Redact replaces secret-bearing patterns in input with [REDACTED],
// preserving any label prefix the pattern captured.
func Redact(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, pat := range secretPatterns {
		result = pat.ReplaceAllStringFunc(result, func(match string) string {
			submatch := pat.FindStringSubmatch(match)
			if len(submatch) >= 2 && submatch[1] != "" && strings.HasPrefix(match, submatch[1]) {
				return submatch[1] + redactedPlaceholder
			}
			return redactedPlaceholder
		})
	}
	return result
}

// RedactEnvValue returns [REDACTED] if key looks like it names a secret,
// otherwise returns value unchanged.
func RedactEnvValue(key, value string) string {
	keyLower := strings.ToLower(key)
	sensitive := []string{"api_key", "apikey", "secret", "token", "password", "credential"}
	for _, s := range sensitive {
		if strings.Contains(keyLower, s) {
			return redactedPlaceholder
		}
	}
	return value
}
