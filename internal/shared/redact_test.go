package shared

import "testing"

func TestRedact_BearerToken(t *testing.T) {
	input := "Bearer abc123def456ghi789jkl0"
	result := Redact(input)
	if result != "Bearer [REDACTED]" {
		t.Fatalf("got %q", result)
	}
}

func TestRedact_APIKey(t *testing.T) {
	input := `api_key=abcdef1234567890abcdef`
	if Redact(input) == input {
		t.Fatalf("expected redaction")
	}
}

func TestRedact_GeminiKey(t *testing.T) {
	input := "key is AIzaSyA1234567890abcdefghijklmnopqrstuvwx"
	if Redact(input) == input {
		t.Fatalf("expected redaction")
	}
}

func TestRedact_NoSecret(t *testing.T) {
	input := "hello world, nothing sensitive here"
	if Redact(input) != input {
		t.Fatalf("expected no change, got %q", Redact(input))
	}
}

func TestRedactEnvValue(t *testing.T) {
	if got := RedactEnvValue("GITHUB_TOKEN", "ghp_xxx"); got != "[REDACTED]" {
		t.Fatalf("got %q", got)
	}
	if got := RedactEnvValue("LANG", "en_US.UTF-8"); got != "en_US.UTF-8" {
		t.Fatalf("got %q", got)
	}
}
