package telemetry

import (
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestRedactAttributesHonorsStrategies(t *testing.T) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.header.authorization", "Bearer secret"),
		attribute.String("user.email", "person@example.com"),
		attribute.String("custom.secret", "top-secret"),
		attribute.String("safe.field", "value"),
	}

	filtered := RedactAttributes(map[string]string{
		"user.email":    "mask",
		"custom.secret": "drop",
	}, attrs)

	if len(filtered) != 2 {
		t.Fatalf("expected 2 attributes after redaction, got %d", len(filtered))
	}
	for _, kv := range filtered {
		switch kv.Key {
		case "user.email":
			if got := kv.Value.AsString(); got != "pers***.com" {
				t.Fatalf("unexpected masked email %q", got)
			}
		case "safe.field":
			if kv.Value.AsString() != "value" {
				t.Fatalf("unexpected safe field value %q", kv.Value.AsString())
			}
		default:
			t.Fatalf("unexpected attribute %q present after redaction", kv.Key)
		}
	}
}

func TestHashRedactionIsDeterministic(t *testing.T) {
	rules := map[string]string{"k": "hash"}
	a := RedactAttributes(rules, []attribute.KeyValue{attribute.String("k", "value")})
	b := RedactAttributes(rules, []attribute.KeyValue{attribute.String("k", "value")})
	if a[0].Value.AsString() != b[0].Value.AsString() {
		t.Fatalf("hash redaction not deterministic")
	}
	if a[0].Value.AsString() == "value" {
		t.Fatalf("value was not hashed")
	}
}

func TestHeaderAttributes(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "curl/8")
	h.Set("Authorization", "Bearer x")
	h.Set("X-Api-Key", "abcdefghijkl")

	attrs := HeaderAttributes(h, []string{"User-Agent", "Authorization", "X-Api-Key", "Missing"},
		map[string]string{"http.request.header.x_api_key": "replace"})

	set := attribute.NewSet(attrs...)
	if set.Len() != 2 {
		t.Fatalf("expected 2 attributes, got %d", set.Len())
	}
	if value, _ := set.Value("http.request.header.user_agent"); value.AsString() != "curl/8" {
		t.Fatalf("unexpected user agent %v", value)
	}
	if value, _ := set.Value("http.request.header.x_api_key"); value.AsString() != "[REDACTED]" {
		t.Fatalf("expected replaced api key, got %v", value)
	}
}
