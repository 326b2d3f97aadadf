package voice

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/catalog"
)

type SynthesizerConfig struct {
	DefaultProvider string
	DefaultVoice    string
}

// Synthesizer resolves a provider for each request and falls back once to
// the default provider when a secondary provider cannot serve it.
type Synthesizer struct {
	clients         map[string]SpeechClient
	defaultProvider string
	defaultVoice    string
	observer        Observer
	logger          *zap.Logger
}

// NewSynthesizer builds a synthesizer. Providers missing from clients (or
// mapped to nil) are treated as unconfigured.
func NewSynthesizer(cfg SynthesizerConfig, clients map[string]SpeechClient, observer Observer, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	provider := catalog.NormalizeProvider(cfg.DefaultProvider)
	if provider == "" {
		provider = catalog.ProviderOpenAI
	}
	voiceID := cfg.DefaultVoice
	if v, ok := catalog.Lookup(voiceID); !ok || v.Provider != provider {
		v, _ = catalog.FirstVoiceFor(provider)
		voiceID = v.ID
	}

	active := make(map[string]SpeechClient, len(clients))
	for name, c := range clients {
		if c != nil {
			active[catalog.NormalizeProvider(name)] = c
		}
	}
	return &Synthesizer{
		clients:         active,
		defaultProvider: provider,
		defaultVoice:    voiceID,
		observer:        observer,
		logger:          logger,
	}
}

func (s *Synthesizer) DefaultProvider() string { return s.defaultProvider }
func (s *Synthesizer) DefaultVoice() string    { return s.defaultVoice }

// HasProvider reports whether a client is configured for provider.
func (s *Synthesizer) HasProvider(provider string) bool {
	_, ok := s.clients[catalog.NormalizeProvider(provider)]
	return ok
}

// Synthesize turns text into one complete audio clip. provider may be empty.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID, provider string) (Audio, error) {
	text = sanitizeSpeechText(text)
	if text == "" {
		return Audio{}, ErrEmptyText
	}

	resolved := s.ResolveProvider(voiceID, provider)
	audio, err := s.call(ctx, resolved, s.voiceFor(resolved, voiceID), text)
	if err == nil {
		return audio, nil
	}
	if resolved == s.defaultProvider {
		return Audio{}, err
	}

	s.logger.Warn("speech provider failed, falling back to default",
		zap.String("provider", resolved),
		zap.String("fallback", s.defaultProvider),
		zap.Error(err),
	)
	audio, fbErr := s.call(ctx, s.defaultProvider, s.voiceFor(s.defaultProvider, voiceID), text)
	if fbErr != nil {
		return Audio{}, fmt.Errorf("%s failed: %v; fallback %s failed: %w", resolved, err, s.defaultProvider, fbErr)
	}
	return audio, nil
}

// ResolveProvider picks the provider for a request: a valid explicit
// provider, then the catalog voice's provider, then the default.
func (s *Synthesizer) ResolveProvider(voiceID, provider string) string {
	if catalog.ValidProvider(provider) {
		return catalog.NormalizeProvider(provider)
	}
	if v, ok := catalog.Lookup(voiceID); ok {
		return v.Provider
	}
	return s.defaultProvider
}

// voiceFor returns the catalog voice used with provider. A requested voice
// that belongs to another provider is replaced.
func (s *Synthesizer) voiceFor(provider, voiceID string) catalog.VoiceOption {
	if v, ok := catalog.Lookup(voiceID); ok && v.Provider == provider {
		return v
	}
	if provider == s.defaultProvider {
		v, _ := catalog.Lookup(s.defaultVoice)
		return v
	}
	v, _ := catalog.FirstVoiceFor(provider)
	return v
}

func (s *Synthesizer) call(ctx context.Context, provider string, voice catalog.VoiceOption, text string) (Audio, error) {
	client, ok := s.clients[provider]
	if !ok {
		s.observer.ObserveProviderCall(provider, "synthesize", "unavailable", false, 0)
		return Audio{}, fmt.Errorf("%w: %s", ErrProviderUnavailable, provider)
	}

	started := time.Now()
	audio, err := client.Synthesize(ctx, SpeechRequest{Text: text, VoiceID: voice.ProviderVoiceID})
	code, retryable := classifyError(err)
	s.observer.ObserveProviderCall(provider, "synthesize", code, retryable, time.Since(started))
	if err != nil {
		return Audio{}, fmt.Errorf("%s synthesize: %w", provider, err)
	}
	if len(audio.Data) == 0 {
		return Audio{}, fmt.Errorf("%s synthesize: empty audio", provider)
	}
	audio.Provider = provider
	audio.VoiceID = voice.ID
	if strings.TrimSpace(audio.Format) == "" {
		audio.Format = "mp3"
	}
	return audio, nil
}
