// Package logutil keeps credentials and oversized page text out of logs.
package logutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const redacted = "[REDACTED]"

// maxFieldPreview bounds how much of a form value reaches the log.
const maxFieldPreview = 80

var sensitiveFragments = []string{"token", "secret", "password", "apikey", "cookie", "auth", "session"}

// IsSensitiveLogField reports whether key names something secret. Keys may
// be header names, JSON fields, form field names or CSS selectors.
func IsSensitiveLogField(key string) bool {
	k := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(key)))
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// RedactValue redacts value when the key looks sensitive.
func RedactValue(key, value string) string {
	if IsSensitiveLogField(key) {
		return redacted
	}
	return value
}

// FormField describes a filled form control.
type FormField struct {
	Selector string // how the harness located it
	Name     string // the control's name attribute
	Type     string // input type, empty for textarea
}

// Sensitive reports whether the field's value must never be logged.
func (f FormField) Sensitive() bool {
	return strings.EqualFold(f.Type, "password") || IsSensitiveLogField(f.Selector) || IsSensitiveLogField(f.Name)
}

// FieldValueForLog is the loggable form of value typed into f: redacted
// for secret fields, otherwise a one-line preview.
func FieldValueForLog(f FormField, value string) string {
	if f.Sensitive() {
		return redacted
	}
	return TruncateForLog(value, maxFieldPreview)
}

// FormValuesForLog renders submitted form values in key order with secret
// fields redacted.
func FormValuesForLog(values url.Values) string {
	return formatPairs(values, func(k, v string) string {
		return FieldValueForLog(FormField{Name: k}, v)
	})
}

// FormatHeadersForLog returns stable, redacted header text for logs.
func FormatHeadersForLog(headers http.Header) string {
	lower := make(map[string][]string, len(headers))
	for k := range headers {
		lower[strings.ToLower(k)] = headers.Values(k)
	}
	return formatPairs(lower, RedactValue)
}

func formatPairs(pairs map[string][]string, safe func(k, v string) string) string {
	if len(pairs) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		values := pairs[k]
		if len(values) == 0 {
			parts = append(parts, k+"=<empty>")
			continue
		}
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = safe(k, v)
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, strings.Join(out, ", ")))
	}
	return strings.Join(parts, "; ")
}

// RedactBodyForLog redacts sensitive fields from JSON payloads; other
// bodies are returned as-is.
func RedactBodyForLog(contentType string, body []byte) string {
	text := string(body)
	if !strings.Contains(strings.ToLower(contentType), "json") {
		return text
	}
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return text
	}
	redactJSON(payload)
	out, err := json.Marshal(payload)
	if err != nil {
		return text
	}
	return string(out)
}

func redactJSON(v any) {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if IsSensitiveLogField(k) {
				typed[k] = redacted
				continue
			}
			redactJSON(child)
		}
	case []any:
		for _, child := range typed {
			redactJSON(child)
		}
	}
}

// TruncateForLog returns a single-line preview of at most maxChars bytes
// plus a marker.
func TruncateForLog(value string, maxChars int) string {
	s := strings.ReplaceAll(strings.TrimSpace(value), "\n", "\\n")
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + "... [truncated]"
}
