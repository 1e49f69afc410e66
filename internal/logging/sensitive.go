// Package logging provides log hygiene helpers for the response engine.
package logging

import (
	"fmt"
	"regexp"
	"strings"
)

// SensitiveParams contains parameter names whose values must never reach logs.
// Response actions such as reset_credentials and enable_mfa carry temporary
// secrets in their parameter maps; notification channels carry webhook URLs
// and bot tokens in theirs.
var SensitiveParams = map[string]bool{
	"password":        true,
	"passwd":          true,
	"secret":          true,
	"token":           true,
	"api_key":         true,
	"apikey":          true,
	"access_token":    true,
	"refresh_token":   true,
	"private_key":     true,
	"credentials":     true,
	"new_credentials": true,
	"temp_password":   true,
	"mfa_seed":        true,
	"auth":            true,
	"authorization":   true,
	"bearer":          true,
	"session_id":      true,
	"cookie":          true,
	"smtp_password":   true,
	"ssh_key":         true,
	"bot_token":       true,
	"webhook_url":     true,
	"signing_key":     true,
}

// MaskedValue is the string used to replace sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveParam reports whether a parameter name must be masked.
func IsSensitiveParam(name string) bool {
	lower := strings.ToLower(name)

	if SensitiveParams[lower] {
		return true
	}

	for sensitive := range SensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}

	return false
}

// MaskParamValue masks a single value if its parameter name is sensitive.
func MaskParamValue(name, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveParam(name) {
		return MaskedValue
	}
	return value
}

// MaskParams returns a copy of a parameter map safe for logging. Sensitive
// values are replaced, everything else is passed through. The input map is
// never mutated; handlers still receive the real values.
func MaskParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	masked := make(map[string]any, len(params))
	for k, v := range params {
		if IsSensitiveParam(k) {
			masked[k] = MaskedValue
			continue
		}
		masked[k] = v
	}
	return masked
}

// ParamsPreview renders a masked, compact single-line view of a parameter map
// for log lines that need the shape of the params without the payload.
func ParamsPreview(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}

	var b strings.Builder
	b.WriteByte('{')
	first := true
	for k, v := range MaskParams(params) {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%v", k, v)
	}
	b.WriteByte('}')
	return b.String()
}

// SensitivePatterns matches secret-shaped substrings inside free-form text,
// such as handler error messages that echo a connection string.
var SensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd|auth)['":\s]*[=:]\s*['"]?([a-zA-Z0-9_\-\.]+)['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]+`),
	regexp.MustCompile(`(?i)(AKIA|ABIA|ACCA|AGPA|AIDA|AIPA|ANPA|ANVA|APKA|AROA|ASCA|ASIA)[A-Z0-9]{16}`),
}

// MaskText masks secret-shaped substrings in a raw string.
func MaskText(s string) string {
	result := s
	for _, pattern := range SensitivePatterns {
		result = pattern.ReplaceAllString(result, MaskedValue)
	}
	return result
}
