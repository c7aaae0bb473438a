package oauth

import (
	"encoding/json"
	"net/url"
	"strings"
)

const redactedValue = "[redacted]"

// sensitiveFragments are matched case-insensitively against field names.
var sensitiveFragments = []string{"secret", "token", "code", "assertion", "password"}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactForm returns a copy of values with sensitive fields replaced.
func RedactForm(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for key := range values {
		if isSensitiveField(key) {
			out[key] = redactedValue
			continue
		}
		out[key] = values.Get(key)
	}
	return out
}

// RedactJSON returns a deep copy of value with sensitive object keys replaced.
func RedactJSON(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			if isSensitiveField(key) {
				out[key] = redactedValue
				continue
			}
			out[key] = RedactJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = RedactJSON(item)
		}
		return out
	default:
		return value
	}
}

// redactedJSONString renders value after redaction, for log lines.
func redactedJSONString(value any) string {
	b, err := json.Marshal(RedactJSON(value))
	if err != nil {
		return redactedValue
	}
	return string(b)
}
