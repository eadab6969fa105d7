package logging

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Masked replaces sensitive values in logs and reports
const Masked = "***MASKED***"

var sensitiveKeys = map[string]struct{}{
	"password":     {},
	"oauth_token":  {},
	"access_token": {},
	"token":        {},
}

// IsSensitive reports whether a field name carries a secret
func IsSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

// RedactHook masks sensitive fields on every entry
type RedactHook struct{}

// NewRedactHook returns the masking hook
func NewRedactHook() *RedactHook {
	return &RedactHook{}
}

// Levels implements logrus.Hook
func (h *RedactHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook. logrus hands hooks a private copy of the field map.
func (h *RedactHook) Fire(entry *logrus.Entry) error {
	for k, v := range entry.Data {
		if IsSensitive(k) {
			entry.Data[k] = Masked
			continue
		}
		entry.Data[k] = maskValue(v)
	}
	return nil
}

// MaskMap returns a copy of m with sensitive keys masked at any depth
func MaskMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if IsSensitive(k) {
			out[k] = Masked
			continue
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return MaskMap(val)
	case map[string]string:
		return MaskRow(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = maskValue(item)
		}
		return out
	default:
		return v
	}
}

// MaskRow returns a copy of a column/value row with secrets masked
func MaskRow(row map[string]string) map[string]string {
	out := make(map[string]string, len(row))
	for k, v := range row {
		if IsSensitive(k) && v != "" {
			out[k] = Masked
			continue
		}
		out[k] = v
	}
	return out
}

// MaskLine masks secret columns of a delimited line given its header
func MaskLine(line string, header []string, sep string) string {
	fields := strings.Split(line, sep)
	for i, name := range header {
		if i < len(fields) && IsSensitive(strings.TrimSpace(name)) && strings.TrimSpace(fields[i]) != "" {
			fields[i] = Masked
		}
	}
	return strings.Join(fields, sep)
}
