package validate

import (
	"fmt"
	"strings"

	"github.com/5gconnect/charmd/internal/log"
)

// MaxEnvValueSize is the size above which an environment value is reported.
const MaxEnvValueSize = 32768

// sensitiveKeywords identifies potentially sensitive environment variable names.
var sensitiveKeywords = []string{
	"password", "secret", "key", "token", "auth", "credential",
	"private", "cert", "ssl", "tls", "api_key", "access_key",
}

// IsSensitiveKey checks if an environment variable key indicates sensitive data.
func IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, keyword := range sensitiveKeywords {
		if strings.Contains(lowerKey, keyword) {
			return true
		}
	}
	return false
}

// SanitizeForLogging redacts sensitive information from strings for safe logging.
func SanitizeForLogging(key, value string) string {
	if IsSensitiveKey(key) {
		if len(value) <= 4 {
			return "[REDACTED]"
		}
		return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
	}
	return value
}

// RedactEnvironment returns a copy of KEY=VALUE entries with sensitive values
// sanitized. Entries without "=" are kept as they are.
func RedactEnvironment(env []string) []string {
	out := make([]string, len(env))
	for i, entry := range env {
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			out[i] = entry
			continue
		}
		out[i] = key + "=" + SanitizeForLogging(key, value)
	}
	return out
}

// EnvironmentValues checks KEY=VALUE entries before they are handed to a
// process. Null bytes are rejected; oversized and weak sensitive values are
// logged.
func EnvironmentValues(env []string, logger log.Logger) error {
	for _, entry := range env {
		key, value, _ := strings.Cut(entry, "=")
		if strings.ContainsRune(value, 0) {
			return fmt.Errorf("environment variable %s contains null byte", key)
		}
		if len(value) > MaxEnvValueSize {
			logger.Warn("Environment variable value is very large", "key", key, "size", len(value), "max_recommended", MaxEnvValueSize)
		}
		if IsSensitiveKey(key) && isWeakValue(value) {
			logger.Warn("Sensitive environment variable has a weak value", "key", key)
		}
	}
	return nil
}

// isWeakValue reports test/default values, short values and low entropy.
func isWeakValue(value string) bool {
	testValues := []string{"password", "secret", "123456", "admin", "test", "default"}
	lowerValue := strings.ToLower(strings.TrimSpace(value))
	for _, testValue := range testValues {
		if lowerValue == testValue {
			return true
		}
	}
	return len(value) < 8 || isRepeatingPattern(value)
}

// isRepeatingPattern checks if a string consists mostly of repeating characters.
func isRepeatingPattern(s string) bool {
	if len(s) < 4 {
		return false
	}

	charCount := make(map[rune]int)
	for _, r := range s {
		charCount[r]++
	}

	// If any character appears more than 50% of the time, consider it repeating.
	threshold := len(s) / 2
	for _, count := range charCount {
		if count > threshold {
			return true
		}
	}
	return false
}
