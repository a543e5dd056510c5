package observability

import (
	"encoding/json"
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// DefaultRedactPatterns match common credential shapes in free text:
// key=value style assignments, bearer/token headers, Anthropic and OpenAI
// API keys, JWTs, and long hex secrets. Everything a tool echoes back or a
// model restates flows through these before reaching a log sink.
var DefaultRedactPatterns = []string{
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,
	`sk-ant-[a-zA-Z0-9_-]{95,}`,
	`sk-[a-zA-Z0-9]{48,}`,
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,
}

// sensitiveKeys are map keys whose values are blanked outright, without
// pattern matching.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"private_key":   true,
	"privatekey":    true,
	"auth":          true,
	"authorization": true,
}

// compileRedactPatterns compiles the default patterns plus extras,
// silently skipping any that fail to compile.
func compileRedactPatterns(extra []string) []*regexp.Regexp {
	patterns := append(append([]string(nil), DefaultRedactPatterns...), extra...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		if re, err := regexp.Compile(pattern); err == nil {
			redacts = append(redacts, re)
		}
	}
	return redacts
}

// redactString applies every compiled pattern to s.
func (l *Logger) redactString(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// redactValue redacts a single logged value by type: strings, errors, and
// byte slices go through the pattern pass; maps recurse through redactMap;
// numbers and booleans pass through unchanged; anything else is marshaled to
// JSON first so embedded strings are still covered.
func (l *Logger) redactValue(v any) any {
	switch val := v.(type) {
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case string:
		return l.redactString(val)
	case error:
		return l.redactString(val.Error())
	case []byte:
		return l.redactString(string(val))
	case map[string]any:
		return l.redactMap(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = v
		}
		return l.redactMap(m)
	default:
		if b, err := json.Marshal(v); err == nil {
			return l.redactString(string(b))
		}
		return v
	}
}

// redactMap blanks known-sensitive keys outright and recurses into the
// remaining values.
func (l *Logger) redactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		normalized := strings.ToLower(strings.ReplaceAll(k, "-", "_"))
		if sensitiveKeys[normalized] {
			result[k] = redactedPlaceholder
			continue
		}
		result[k] = l.redactValue(v)
	}
	return result
}
