package app

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/catalog"
	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type voiceSetup struct {
	synthesizer *voice.Synthesizer
	transcriber *voice.Transcriber
	providers   []string
	mode        string
	detail      string
}

func resolveVoice(cfg config.Config, metrics *observability.Metrics, logger *zap.Logger) voiceSetup {
	if logger == nil {
		logger = zap.NewNop()
	}
	clients := make(map[string]voice.SpeechClient, 2)
	var stt voice.TranscriptionClient
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceMode))
	detail := ""

	switch mode {
	case "mock":
		clients[catalog.ProviderOpenAI] = voice.NewMockSpeechClient(catalog.ProviderOpenAI)
		clients[catalog.ProviderElevenLabs] = voice.NewMockSpeechClient(catalog.ProviderElevenLabs)
		stt = voice.NewMockTranscriptionClient()
		detail = "mock"
	default:
		mode = "auto"
		if cfg.OpenAIAPIKey != "" {
			oa := voice.NewOpenAIClient(voice.OpenAIConfig{
				APIKey:   cfg.OpenAIAPIKey,
				BaseURL:  cfg.OpenAIBaseURL,
				TTSModel: cfg.OpenAITTSModel,
				STTModel: cfg.OpenAISTTModel,
			})
			clients[catalog.ProviderOpenAI] = oa
			stt = oa
		}
		if cfg.ElevenLabsAPIKey != "" {
			clients[catalog.ProviderElevenLabs] = voice.NewElevenLabsClient(voice.ElevenLabsConfig{
				APIKey:       cfg.ElevenLabsAPIKey,
				BaseURL:      cfg.ElevenLabsBaseURL,
				ModelID:      cfg.ElevenLabsTTSModel,
				OutputFormat: cfg.ElevenLabsTTSFormat,
			})
		}
		if len(clients) == 0 {
			// Speak reports provider_unavailable; mocks need VOICE_MODE=mock.
			logger.Warn("no voice provider keys configured")
			detail = "no provider keys configured"
		}
	}

	providers := make([]string, 0, len(clients))
	for _, p := range catalog.Providers() {
		if clients[p] != nil {
			providers = append(providers, p)
		}
	}
	if detail == "" {
		detail = strings.Join(providers, "+")
	}

	synth := voice.NewSynthesizer(voice.SynthesizerConfig{
		DefaultProvider: cfg.TTSDefaultProvider,
		DefaultVoice:    cfg.TTSDefaultVoice,
	}, clients, metrics, logger.Named("tts"))

	var transcriber *voice.Transcriber
	if stt != nil {
		transcriber = voice.NewTranscriber(voice.TranscriberConfig{
			Language:    cfg.OpenAISTTLanguage,
			InputFormat: cfg.STTInputFormat,
			SampleRate:  cfg.STTPCMSampleRate,
		}, stt, metrics, logger.Named("stt"))
	}

	return voiceSetup{
		synthesizer: synth,
		transcriber: transcriber,
		providers:   providers,
		mode:        mode,
		detail:      detail,
	}
}
