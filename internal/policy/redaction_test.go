package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "4242") {
		t.Fatalf("card digits leaked: %q", out)
	}
}

func TestRedactPIILeavesPlainTextAlone(t *testing.T) {
	out, changed := RedactPII("book a table for two at seven")
	if changed || out != "book a table for two at seven" {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactFields(t *testing.T) {
	keys, out := RedactFields(map[string]any{
		"name":  "Ada",
		"email": "ada@example.com",
		"seats": 2,
	})
	if strings.Join(keys, ",") != "email,name,seats" {
		t.Fatalf("keys = %v", keys)
	}
	if out["email"] != "[REDACTED_EMAIL]" || out["name"] != "Ada" || out["seats"] != 2 {
		t.Fatalf("out = %#v", out)
	}
}
