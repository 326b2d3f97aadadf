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
}

func TestRedactPIISSN(t *testing.T) {
	out, changed := RedactPII("client ssn 123-45-6789 on file")
	if !changed || out != "client ssn [REDACTED_SSN] on file" {
		t.Fatalf("RedactPII() = %q, %v", out, changed)
	}
}

func TestRedactPIIUnchanged(t *testing.T) {
	in := "Discussed sleep routine and breathing exercises."
	out, changed := RedactPII(in)
	if changed || out != in {
		t.Fatalf("RedactPII() = %q, %v, want unchanged", out, changed)
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("reach me at sam@example.com", 0); got != "reach me at [REDACTED_EMAIL]" {
		t.Fatalf("Preview() = %q", got)
	}
	if got := Preview("abcdefgh", 3); got != "abc…" {
		t.Fatalf("Preview() = %q, want abc…", got)
	}
}
