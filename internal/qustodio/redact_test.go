package qustodio

import (
	"strings"
	"testing"
)

func TestRedactMasksNestedSensitiveFields(t *testing.T) {
	doc := map[string]any{
		"access_token": "very-secret",
		"expires_in":   float64(3600),
		"profile": map[string]any{
			"id":       float64(123),
			"name":     "Alice",
			"lastseen": "2026-08-25T09:00:00Z",
			"location": map[string]any{
				"latitude":  37.77,
				"longitude": -122.41,
				"accuracy":  float64(10),
			},
		},
		"items": []any{
			map[string]any{"uid": "u-1", "minutes": 5.5},
		},
	}

	got, ok := Redact(doc).(map[string]any)
	if !ok {
		t.Fatalf("Redact() did not return an object")
	}
	if got["access_token"] != RedactedPlaceholder {
		t.Fatalf("access_token = %v, want placeholder", got["access_token"])
	}
	if got["expires_in"] != float64(3600) {
		t.Fatalf("expires_in = %v, want 3600", got["expires_in"])
	}

	profile := got["profile"].(map[string]any)
	if profile["id"] != RedactedPlaceholder || profile["lastseen"] != RedactedPlaceholder {
		t.Fatalf("profile id/lastseen not masked: %v", profile)
	}
	if profile["name"] != "Alice" {
		t.Fatalf("profile name = %v, want Alice", profile["name"])
	}
	location := profile["location"].(map[string]any)
	if location["latitude"] != RedactedPlaceholder || location["longitude"] != RedactedPlaceholder {
		t.Fatalf("location not masked: %v", location)
	}
	if location["accuracy"] != float64(10) {
		t.Fatalf("accuracy = %v, want 10", location["accuracy"])
	}

	item := got["items"].([]any)[0].(map[string]any)
	if item["uid"] != RedactedPlaceholder {
		t.Fatalf("item uid = %v, want placeholder", item["uid"])
	}
	if item["minutes"] != 5.5 {
		t.Fatalf("item minutes = %v, want 5.5", item["minutes"])
	}

	// The input document is left untouched.
	if doc["access_token"] != "very-secret" {
		t.Fatalf("Redact() mutated its input")
	}
}

func TestRedactBodyMasksBeforeRendering(t *testing.T) {
	body := []byte(`{"access_token":"abc123","token_type":"bearer","email":"kid@example.com"}`)
	out := redactBody(body)
	if strings.Contains(out, "abc123") || strings.Contains(out, "kid@example.com") {
		t.Fatalf("redactBody() leaked a sensitive value: %s", out)
	}
	if !strings.Contains(out, RedactedPlaceholder) {
		t.Fatalf("redactBody() = %s, want placeholder present", out)
	}
	if !strings.Contains(out, "bearer") {
		t.Fatalf("redactBody() = %s, want non-sensitive fields preserved", out)
	}
}

func TestRedactBodyNonJSON(t *testing.T) {
	out := redactBody([]byte("<html>oops</html>"))
	if strings.Contains(out, "oops") {
		t.Fatalf("redactBody() echoed a non-json body: %s", out)
	}
	if !strings.Contains(out, "non-json") {
		t.Fatalf("redactBody() = %s, want a size summary", out)
	}
}
