package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ent0n29/voicerelay/internal/catalog"
)

// Config contains all runtime settings for the voice relay.
type Config struct {
	BindAddr             string
	ShutdownTimeout      time.Duration
	SessionIdleTimeout   time.Duration
	SessionSweepInterval time.Duration
	MetricsNamespace     string
	AllowAnyOrigin       bool

	LogLevel  string
	LogFormat string

	VoiceMode           string
	TTSDefaultProvider  string
	TTSDefaultVoice     string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	OpenAITTSModel      string
	OpenAISTTModel      string
	OpenAISTTLanguage   string
	STTInputFormat      string
	STTPCMSampleRate    int
	ElevenLabsAPIKey    string
	ElevenLabsBaseURL   string
	ElevenLabsTTSModel  string
	ElevenLabsTTSFormat string

	RealtimeWSURL              string
	RealtimeModel              string
	RealtimeAPIKey             string
	RealtimeTranscriptionModel string
	RealtimeVADThreshold       float64
	RealtimeInstructions       string

	ContextDatabaseURL string
	ContextTable       string
	ContextRedisURL    string
	ContextCacheTTL    time.Duration
	ContextRedactPII   bool
}

// Load reads an optional env file, then environment variables, and applies
// defaults. Variables already set in the environment win over the file.
func Load() (Config, error) {
	envFile := envOrDefault("APP_ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("APP_ENV_FILE %s: %w", envFile, err)
		}
	}

	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		ShutdownTimeout:      15 * time.Second,
		SessionIdleTimeout:   30 * time.Minute,
		SessionSweepInterval: 5 * time.Minute,
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "voicerelay"),
		LogLevel:             strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		LogFormat:            strings.ToLower(envOrDefault("APP_LOG_FORMAT", "json")),

		VoiceMode:           strings.ToLower(envOrDefault("VOICE_MODE", "auto")),
		TTSDefaultProvider:  catalog.NormalizeProvider(envOrDefault("TTS_DEFAULT_PROVIDER", catalog.ProviderOpenAI)),
		TTSDefaultVoice:     strings.ToLower(envOrDefault("TTS_DEFAULT_VOICE", "alloy")),
		OpenAIAPIKey:        trimmedEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:       envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAITTSModel:      envOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		OpenAISTTModel:      envOrDefault("OPENAI_STT_MODEL", "whisper-1"),
		OpenAISTTLanguage:   envOrDefault("OPENAI_STT_LANGUAGE", "en"),
		STTInputFormat:      strings.ToLower(envOrDefault("STT_INPUT_FORMAT", "webm")),
		STTPCMSampleRate:    24000,
		ElevenLabsAPIKey:    trimmedEnv("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:   envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsTTSModel:  envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_multilingual_v2"),
		ElevenLabsTTSFormat: envOrDefault("ELEVENLABS_TTS_OUTPUT_FORMAT", "mp3_44100_128"),

		RealtimeWSURL:              envOrDefault("REALTIME_WS_URL", "wss://api.openai.com/v1/realtime"),
		RealtimeModel:              envOrDefault("REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeAPIKey:             trimmedEnv("REALTIME_API_KEY"),
		RealtimeTranscriptionModel: envOrDefault("REALTIME_TRANSCRIPTION_MODEL", "whisper-1"),
		RealtimeVADThreshold:       0.5,
		RealtimeInstructions:       trimmedEnv("REALTIME_INSTRUCTIONS"),

		ContextDatabaseURL: trimmedEnv("CONTEXT_DATABASE_URL"),
		ContextTable:       envOrDefault("CONTEXT_TABLE", "voice_context_refs"),
		ContextRedisURL:    trimmedEnv("CONTEXT_REDIS_URL"),
		ContextCacheTTL:    5 * time.Minute,
		ContextRedactPII:   true,
	}
	if cfg.RealtimeAPIKey == "" {
		cfg.RealtimeAPIKey = cfg.OpenAIAPIKey
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionIdleTimeout, err = durationFromEnv("APP_SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionSweepInterval, err = durationFromEnv("APP_SESSION_SWEEP_INTERVAL", cfg.SessionSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.STTPCMSampleRate, err = intFromEnv("STT_PCM_SAMPLE_RATE", cfg.STTPCMSampleRate); err != nil {
		return Config{}, err
	}
	if cfg.RealtimeVADThreshold, err = floatFromEnv("REALTIME_VAD_THRESHOLD", cfg.RealtimeVADThreshold); err != nil {
		return Config{}, err
	}
	if cfg.ContextCacheTTL, err = durationFromEnv("CONTEXT_CACHE_TTL", cfg.ContextCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.ContextRedactPII, err = boolFromEnv("CONTEXT_REDACT_PII", cfg.ContextRedactPII); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.SessionIdleTimeout < time.Minute {
		return fmt.Errorf("APP_SESSION_IDLE_TIMEOUT must be at least 1m")
	}
	if c.SessionSweepInterval <= 0 || c.SessionSweepInterval > c.SessionIdleTimeout {
		return fmt.Errorf("APP_SESSION_SWEEP_INTERVAL must be positive and no longer than the idle timeout")
	}
	if !catalog.ValidProvider(c.TTSDefaultProvider) {
		return fmt.Errorf("TTS_DEFAULT_PROVIDER must be %s or %s", catalog.ProviderOpenAI, catalog.ProviderElevenLabs)
	}
	if _, ok := catalog.Lookup(c.TTSDefaultVoice); !ok {
		return fmt.Errorf("TTS_DEFAULT_VOICE %q is not in the voice catalog", c.TTSDefaultVoice)
	}
	if c.RealtimeVADThreshold <= 0 || c.RealtimeVADThreshold >= 1 {
		return fmt.Errorf("REALTIME_VAD_THRESHOLD must be between 0 and 1")
	}
	switch c.VoiceMode {
	case "auto", "mock":
	default:
		return fmt.Errorf("invalid VOICE_MODE: %q (expected auto|mock)", c.VoiceMode)
	}
	switch c.STTInputFormat {
	case "webm", "pcm16":
	default:
		return fmt.Errorf("invalid STT_INPUT_FORMAT: %q (expected webm|pcm16)", c.STTInputFormat)
	}
	if c.STTPCMSampleRate <= 0 {
		return fmt.Errorf("STT_PCM_SAMPLE_RATE must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("invalid APP_LOG_FORMAT: %q (expected json|console)", c.LogFormat)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
