package qustodio

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// RedactedPlaceholder replaces the value of every sensitive field before a
// response body reaches a log line or a diagnostics report.
const RedactedPlaceholder = "**REDACTED**"

var sensitiveFields = map[string]struct{}{
	"access_token":  {},
	"refresh_token": {},
	"username":      {},
	"password":      {},
	"email":         {},
	"latitude":      {},
	"longitude":     {},
	"gps_latitude":  {},
	"gps_longitude": {},
	"lastseen":      {},
	"id":            {},
	"uid":           {},
	"device_id":     {},
}

// Redact returns a copy of a decoded JSON document with sensitive field
// values masked. Objects and arrays are walked recursively; the input is
// left untouched.
func Redact(doc any) any {
	switch v := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if _, sensitive := sensitiveFields[strings.ToLower(key)]; sensitive {
				out[key] = RedactedPlaceholder
				continue
			}
			out[key] = Redact(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Redact(item)
		}
		return out
	default:
		return doc
	}
}

// redactBody renders a raw response body for debug logging. Bodies that are
// not JSON are summarized by size instead of echoed.
func redactBody(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Sprintf("<%d byte non-json body>", len(body))
	}
	masked, err := json.Marshal(Redact(doc))
	if err != nil {
		return fmt.Sprintf("<%d byte body>", len(body))
	}
	return string(masked)
}
