package relay

import (
	"strings"

	"github.com/ent0n29/voicerelay/internal/catalog"
	"github.com/ent0n29/voicerelay/internal/policy"
	"github.com/ent0n29/voicerelay/internal/session"
)

const (
	defaultInstructions = "You are a calm, supportive voice assistant helping a practitioner between sessions. " +
		"Keep replies short and conversational. Do not give diagnoses."
	maxContextRunes = 2000
	fallbackVoice   = "alloy"
)

// buildInstructions renders the upstream instruction text from the session
// context and any looked-up collaborator text.
func buildInstructions(base string, c session.Context, background string, redact bool) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = defaultInstructions
	}

	var b strings.Builder
	b.WriteString(base)
	field := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		if redact {
			value, _ = policy.RedactPII(value)
		}
		b.WriteString("\n\n")
		b.WriteString(label)
		b.WriteString(":\n")
		b.WriteString(clip(value, maxContextRunes))
	}
	field("Client reference", c.ClientRef)
	field("Session reference", c.SessionRef)
	field("Recent notes", c.Notes)
	field("Background", background)
	return b.String()
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// realtimeVoice maps a catalog voice to one the upstream bridge can speak.
func realtimeVoice(voiceID string) string {
	if v, ok := catalog.Lookup(voiceID); ok && v.Provider == catalog.ProviderOpenAI {
		return v.ProviderVoiceID
	}
	return fallbackVoice
}
