package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/clientctx"
	"github.com/ent0n29/voicerelay/internal/config"
	"github.com/ent0n29/voicerelay/internal/httpapi"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/realtime"
	"github.com/ent0n29/voicerelay/internal/relay"
	"github.com/ent0n29/voicerelay/internal/session"
)

type VoiceInfo struct {
	Mode            string
	Detail          string
	Providers       []string
	DefaultVoice    string
	DefaultProvider string
	Realtime        bool
	Transcription   bool
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Registry
	Metrics  *observability.Metrics
	Hooks    *observability.Hooks
	Voice    VoiceInfo

	// Cleanup should be called on shutdown to release external resources (DB, cache, sessions).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	hooks := observability.NewHooks()
	hooks.Subscribe(metrics.ObserveLifecycle)

	contexts, err := clientctx.NewSource(ctx, clientctx.Config{
		DatabaseURL: cfg.ContextDatabaseURL,
		Table:       cfg.ContextTable,
		RedisURL:    cfg.ContextRedisURL,
		CacheTTL:    cfg.ContextCacheTTL,
	}, logger.Named("clientctx"))
	if err != nil {
		return nil, fmt.Errorf("client context source init failed: %w", err)
	}

	voiceSetup := resolveVoice(cfg, metrics, logger)

	sessions := session.NewRegistry(session.RegistryConfig{
		IdleTimeout:     cfg.SessionIdleTimeout,
		DefaultVoice:    voiceSetup.synthesizer.DefaultVoice(),
		DefaultProvider: voiceSetup.synthesizer.DefaultProvider(),
	}, logger.Named("session"))
	sessions.SetExpireHook(func(st session.State) {
		metrics.SetActiveSessions(sessions.ActiveCount())
		hooks.Emit(observability.LifecycleEvent{
			Kind:      observability.EventSessionExpired,
			SessionID: st.ID,
			Detail:    "idle",
		})
	})

	rtClient := realtime.NewClient(realtime.Config{
		URL:                cfg.RealtimeWSURL,
		Model:              cfg.RealtimeModel,
		APIKey:             cfg.RealtimeAPIKey,
		TranscriptionModel: cfg.RealtimeTranscriptionModel,
		VADThreshold:       cfg.RealtimeVADThreshold,
	}, logger.Named("realtime"))

	deps := relay.Deps{
		Synthesizer: voiceSetup.synthesizer,
		Bridges:     relay.NewRealtimeDialer(rtClient),
		Contexts:    contexts,
		Metrics:     metrics,
		Hooks:       hooks,
		Logger:      logger.Named("relay"),
	}
	// A nil *Transcriber stored in the interface would not compare equal to nil.
	if voiceSetup.transcriber != nil {
		deps.Transcriber = voiceSetup.transcriber
	}
	handler := relay.NewHandler(relay.Config{
		Instructions:  cfg.RealtimeInstructions,
		RedactContext: cfg.ContextRedactPII,
	}, deps)

	api := httpapi.New(sessions, httpapi.Options{
		AllowAnyOrigin: cfg.AllowAnyOrigin,
		Relay:          handler,
		Previewer:      voiceSetup.synthesizer,
		Metrics:        metrics,
		Hooks:          hooks,
		Logger:         logger.Named("http"),
		Ready:          contexts.Ping,
	})

	cleanup := func() error {
		sessions.Stop()
		sessions.CloseAll()
		metrics.SetActiveSessions(0)
		if err := contexts.Close(); err != nil {
			return fmt.Errorf("client context source close: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Hooks:    hooks,
		Voice: VoiceInfo{
			Mode:            voiceSetup.mode,
			Detail:          voiceSetup.detail,
			Providers:       voiceSetup.providers,
			DefaultVoice:    voiceSetup.synthesizer.DefaultVoice(),
			DefaultProvider: voiceSetup.synthesizer.DefaultProvider(),
			Realtime:        rtClient.Available(),
			Transcription:   voiceSetup.transcriber != nil,
		},
		Cleanup: cleanup,
	}, nil
}

// StartJanitor runs the idle sweep until ctx is done.
func (b *BuildResult) StartJanitor(ctx context.Context) {
	interval := b.Config.SessionSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	b.Sessions.StartJanitor(ctx, interval)
}
