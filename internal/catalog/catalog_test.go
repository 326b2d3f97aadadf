package catalog

import "testing"

func TestLookupKnownVoices(t *testing.T) {
	tests := []struct {
		id       string
		provider string
		premium  bool
		voiceID  string
	}{
		{id: "nova", provider: ProviderOpenAI, premium: false, voiceID: "nova"},
		{id: "ALLOY", provider: ProviderOpenAI, premium: false, voiceID: "alloy"},
		{id: "rachel", provider: ProviderElevenLabs, premium: true, voiceID: "21m00Tcm4TlvDq8ikWAM"},
		{id: " josh ", provider: ProviderElevenLabs, premium: true, voiceID: "TxGEqnHWrfWFTfGW9XjX"},
	}
	for _, tc := range tests {
		v, ok := Lookup(tc.id)
		if !ok {
			t.Fatalf("Lookup(%q) ok = false", tc.id)
		}
		if v.Provider != tc.provider || v.Premium != tc.premium || v.ProviderVoiceID != tc.voiceID {
			t.Fatalf("Lookup(%q) = %+v", tc.id, v)
		}
	}
}

func TestLookupUnknownVoice(t *testing.T) {
	if _, ok := Lookup("zeus"); ok {
		t.Fatalf("Lookup(zeus) ok = true, want false")
	}
	if _, ok := Lookup(""); ok {
		t.Fatalf("Lookup(\"\") ok = true, want false")
	}
}

func TestVoicesReturnsCopy(t *testing.T) {
	list := Voices()
	if len(list) != 11 {
		t.Fatalf("len(Voices()) = %d, want 11", len(list))
	}
	list[0].Name = "mutated"
	if Voices()[0].Name == "mutated" {
		t.Fatalf("catalog was mutated through Voices() result")
	}
}

func TestValidProvider(t *testing.T) {
	for _, p := range []string{"openai", "ElevenLabs", " openai "} {
		if !ValidProvider(p) {
			t.Fatalf("ValidProvider(%q) = false, want true", p)
		}
	}
	for _, p := range []string{"", "local", "azure"} {
		if ValidProvider(p) {
			t.Fatalf("ValidProvider(%q) = true, want false", p)
		}
	}
}

func TestProvidersHaveVoices(t *testing.T) {
	providers := Providers()
	if len(providers) != 2 || providers[0] != ProviderOpenAI {
		t.Fatalf("Providers() = %v", providers)
	}
	for _, p := range providers {
		if !ValidProvider(p) {
			t.Fatalf("provider %q is not valid", p)
		}
		if _, ok := FirstVoiceFor(p); !ok {
			t.Fatalf("provider %q has no voices", p)
		}
	}
}

func TestFirstVoiceFor(t *testing.T) {
	v, ok := FirstVoiceFor(ProviderOpenAI)
	if !ok || v.ID != "alloy" {
		t.Fatalf("FirstVoiceFor(openai) = %+v, %v", v, ok)
	}
	v, ok = FirstVoiceFor(ProviderElevenLabs)
	if !ok || v.ID != "rachel" {
		t.Fatalf("FirstVoiceFor(elevenlabs) = %+v, %v", v, ok)
	}
}
