package catalog

import "strings"

const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

// VoiceOption describes one selectable speech voice.
type VoiceOption struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Provider        string `json:"provider"`
	Premium         bool   `json:"premium"`
	ProviderVoiceID string `json:"provider_voice_id"`
}

var voices = []VoiceOption{
	{ID: "alloy", Name: "Alloy", Provider: ProviderOpenAI, ProviderVoiceID: "alloy"},
	{ID: "echo", Name: "Echo", Provider: ProviderOpenAI, ProviderVoiceID: "echo"},
	{ID: "fable", Name: "Fable", Provider: ProviderOpenAI, ProviderVoiceID: "fable"},
	{ID: "onyx", Name: "Onyx", Provider: ProviderOpenAI, ProviderVoiceID: "onyx"},
	{ID: "nova", Name: "Nova", Provider: ProviderOpenAI, ProviderVoiceID: "nova"},
	{ID: "shimmer", Name: "Shimmer", Provider: ProviderOpenAI, ProviderVoiceID: "shimmer"},
	{ID: "rachel", Name: "Rachel", Provider: ProviderElevenLabs, Premium: true, ProviderVoiceID: "21m00Tcm4TlvDq8ikWAM"},
	{ID: "bella", Name: "Bella", Provider: ProviderElevenLabs, Premium: true, ProviderVoiceID: "EXAVITQu4vr4xnSDxMaL"},
	{ID: "antoni", Name: "Antoni", Provider: ProviderElevenLabs, Premium: true, ProviderVoiceID: "ErXwobaYiN019PkySvjV"},
	{ID: "elli", Name: "Elli", Provider: ProviderElevenLabs, Premium: true, ProviderVoiceID: "MF3mGyEYCl7XYWbV9V6O"},
	{ID: "josh", Name: "Josh", Provider: ProviderElevenLabs, Premium: true, ProviderVoiceID: "TxGEqnHWrfWFTfGW9XjX"},
}

// Voices returns a copy of the catalog in display order.
func Voices() []VoiceOption {
	out := make([]VoiceOption, len(voices))
	copy(out, voices)
	return out
}

// Lookup finds a voice by id. Matching is case-insensitive.
func Lookup(id string) (VoiceOption, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return VoiceOption{}, false
	}
	for _, v := range voices {
		if v.ID == id {
			return v, true
		}
	}
	return VoiceOption{}, false
}

// Providers lists the supported speech providers, default first.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderElevenLabs}
}

func ValidProvider(provider string) bool {
	switch NormalizeProvider(provider) {
	case ProviderOpenAI, ProviderElevenLabs:
		return true
	default:
		return false
	}
}

func NormalizeProvider(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}

// FirstVoiceFor returns the first catalog voice served by provider.
func FirstVoiceFor(provider string) (VoiceOption, bool) {
	provider = NormalizeProvider(provider)
	for _, v := range voices {
		if v.Provider == provider {
			return v, true
		}
	}
	return VoiceOption{}, false
}
