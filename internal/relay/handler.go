package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/catalog"
	"github.com/ent0n29/voicerelay/internal/clientctx"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/policy"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/realtime"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID, provider string) (voice.Audio, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) string
}

type Config struct {
	Instructions  string
	RedactContext bool
	LookupTimeout time.Duration
}

type Deps struct {
	Synthesizer Synthesizer
	Transcriber Transcriber
	Bridges     BridgeDialer
	Contexts    clientctx.Source
	Metrics     *observability.Metrics
	Hooks       *observability.Hooks
	Logger      *zap.Logger
}

// Handler runs the per-connection message loop of a voice session.
type Handler struct {
	cfg         Config
	synth       Synthesizer
	transcriber Transcriber
	bridges     BridgeDialer
	contexts    clientctx.Source
	metrics     *observability.Metrics
	hooks       *observability.Hooks
	logger      *zap.Logger
}

func NewHandler(cfg Config, deps Deps) *Handler {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Contexts == nil {
		deps.Contexts = clientctx.NewStaticSource()
	}
	return &Handler{
		cfg:         cfg,
		synth:       deps.Synthesizer,
		transcriber: deps.Transcriber,
		bridges:     deps.Bridges,
		contexts:    deps.Contexts,
		metrics:     deps.Metrics,
		hooks:       deps.Hooks,
		logger:      deps.Logger,
	}
}

// RunConnection sends the connected greeting and then handles inbound
// messages one at a time, in arrival order, until inbound is closed or ctx
// ends. Any open bridge is closed on return.
func (h *Handler) RunConnection(
	ctx context.Context,
	sess *session.Session,
	inbound <-chan protocol.ClientMessage,
	outbound chan<- protocol.ServerMessage,
) error {
	logger := h.logger.With(zap.String("session_id", sess.ID))

	defer func() {
		if b, ok := sess.DetachBridge(nil); ok {
			_ = b.Close()
		}
	}()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	snd := &sender{out: outbound, done: ctx.Done(), metrics: h.metrics}

	state := sess.Snapshot()
	snd.send(protocol.Connected{
		Type:      protocol.TypeConnected,
		SessionID: sess.ID,
		Voices:    catalog.Voices(),
		Config:    configView(state),
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			sess.Touch(time.Now().UTC())
			h.dispatch(ctx, sess, snd, logger, msg)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, sess *session.Session, snd *sender, logger *zap.Logger, msg protocol.ClientMessage) {
	switch m := msg.(type) {
	case protocol.Configure:
		h.configure(sess, snd, logger, m)
	case protocol.Speak:
		h.speak(ctx, sess, snd, logger, m)
	case protocol.Interrupt:
		h.interrupt(ctx, sess, snd, logger)
	case protocol.StartRealtime:
		h.startRealtime(ctx, sess, snd, logger)
	case protocol.StopRealtime:
		h.stopRealtime(sess, snd)
	case protocol.AudioAppend:
		data, err := m.Decode()
		if err != nil {
			snd.error(protocol.CodeInvalidAudio, err.Error())
			return
		}
		h.forward(ctx, sess, snd, logger, realtime.AppendAudio{Audio: data})
	case protocol.CommitAudio:
		h.forward(ctx, sess, snd, logger, realtime.CommitAudio{})
	case protocol.AudioFrame:
		h.audioFrame(ctx, sess, snd, logger, m.Data)
	default:
		logger.Debug("ignoring client message", zap.String("type", string(protocol.TypeOf(msg))))
	}
}

func (h *Handler) configure(sess *session.Session, snd *sender, logger *zap.Logger, m protocol.Configure) {
	state := sess.Update(func(s *session.Settings) {
		if m.Voice != "" {
			if v, ok := catalog.Lookup(m.Voice); ok {
				s.VoiceID = v.ID
				s.Provider = v.Provider
			} else {
				logger.Debug("configure: unknown voice ignored", zap.String("voice", m.Voice))
			}
		}
		if m.Provider != "" {
			if catalog.ValidProvider(m.Provider) {
				s.Provider = catalog.NormalizeProvider(m.Provider)
			} else {
				logger.Debug("configure: unknown provider ignored", zap.String("provider", m.Provider))
			}
		}
		if m.ClientRef != nil {
			s.Context.ClientRef = strings.TrimSpace(*m.ClientRef)
		}
		if m.SessionRef != nil {
			s.Context.SessionRef = strings.TrimSpace(*m.SessionRef)
		}
		if m.Context != nil {
			s.Context.Notes = *m.Context
		}
	})

	if m.BargeIn != nil {
		state = h.setBargeIn(sess, *m.BargeIn)
	}
	if m.Context != nil {
		logger.Debug("configure: context updated", zap.String("context", policy.Preview(*m.Context, 80)))
	}

	snd.send(protocol.Configured{Type: protocol.TypeConfigured, Config: configView(state)})
}

// setBargeIn can always disable barge-in; enabling only takes effect while a
// bridge is attached.
func (h *Handler) setBargeIn(sess *session.Session, enabled bool) session.State {
	active := activeBridge(sess) != nil
	return sess.Update(func(s *session.Settings) {
		if !enabled {
			s.BargeInEnabled = false
			return
		}
		if active {
			s.BargeInEnabled = true
		}
	})
}

func (h *Handler) speak(ctx context.Context, sess *session.Session, snd *sender, logger *zap.Logger, m protocol.Speak) {
	text := strings.TrimSpace(m.Text)
	snd.send(protocol.SpeakingStart{Type: protocol.TypeSpeakingStart, Text: text})
	defer snd.send(protocol.SpeakingEnd{Type: protocol.TypeSpeakingEnd})

	if text == "" {
		snd.error(protocol.CodeEmptyText, "speak requires text")
		return
	}
	if h.synth == nil {
		snd.error(protocol.CodeProviderUnavailable, "speech synthesis is not configured")
		return
	}

	// A per-request voice overrides the session voice and brings its own
	// provider unless one is named explicitly.
	state := sess.Snapshot()
	voiceID, provider := state.VoiceID, state.Provider
	if v, ok := catalog.Lookup(m.Voice); ok {
		voiceID, provider = v.ID, ""
	}
	if catalog.ValidProvider(m.Provider) {
		provider = catalog.NormalizeProvider(m.Provider)
	}

	started := time.Now()
	sess.Update(func(s *session.Settings) { s.CurrentlyPlaying = true })
	audio, err := h.synth.Synthesize(ctx, text, voiceID, provider)
	sess.Update(func(s *session.Settings) { s.CurrentlyPlaying = false })

	if err != nil {
		code := protocol.CodeSynthesisFailed
		switch {
		case errors.Is(err, voice.ErrProviderUnavailable):
			code = protocol.CodeProviderUnavailable
		case errors.Is(err, voice.ErrEmptyText):
			code = protocol.CodeEmptyText
		}
		logger.Warn("speak failed", zap.String("voice", voiceID), zap.Error(err))
		snd.error(code, err.Error())
		h.emit(observability.EventSpeakFailed, sess.ID, code)
		return
	}

	snd.send(protocol.Audio{
		Type:   protocol.TypeAudio,
		Audio:  base64.StdEncoding.EncodeToString(audio.Data),
		Format: audio.Format,
		Text:   text,
	})
	h.metrics.ObserveStage(observability.StageSpeakTotal, time.Since(started))
	h.emit(observability.EventSpeakCompleted, sess.ID, audio.Provider)
}

func (h *Handler) interrupt(ctx context.Context, sess *session.Session, snd *sender, logger *zap.Logger) {
	if !sess.Snapshot().BargeInEnabled {
		snd.error(protocol.CodeBargeInDisabled, "barge-in is not enabled for this session")
		return
	}
	b := activeBridge(sess)
	if b == nil {
		snd.error(protocol.CodeRealtimeInactive, "no realtime bridge is active")
		return
	}
	if err := b.Send(ctx, realtime.CancelResponse{}); err != nil {
		h.bridgeSendFailed(sess, snd, logger, b, err)
		return
	}
	sess.Update(func(s *session.Settings) { s.CurrentlyPlaying = false })
	snd.send(protocol.Interrupted{Type: protocol.TypeInterrupted})
	h.emit(observability.EventInterrupted, sess.ID, "")
}

// forward relays an input-buffer event to the active bridge.
func (h *Handler) forward(ctx context.Context, sess *session.Session, snd *sender, logger *zap.Logger, ev realtime.ClientEvent) {
	b := activeBridge(sess)
	if b == nil {
		snd.error(protocol.CodeRealtimeInactive, "no realtime bridge is active")
		return
	}
	if err := b.Send(ctx, ev); err != nil {
		h.bridgeSendFailed(sess, snd, logger, b, err)
	}
}

func (h *Handler) audioFrame(ctx context.Context, sess *session.Session, snd *sender, logger *zap.Logger, data []byte) {
	if len(data) == 0 {
		return
	}
	if b := activeBridge(sess); b != nil {
		if err := b.Send(ctx, realtime.AppendAudio{Audio: data}); err != nil {
			h.bridgeSendFailed(sess, snd, logger, b, err)
		}
		return
	}
	if h.transcriber == nil {
		return
	}
	if text := h.transcriber.Transcribe(ctx, data); text != "" {
		snd.send(protocol.Transcription{Type: protocol.TypeTranscription, Text: text})
	}
}

// bridgeSendFailed reports the failure and tears the bridge down, which
// disables barge-in and produces realtime_stopped.
func (h *Handler) bridgeSendFailed(sess *session.Session, snd *sender, logger *zap.Logger, b Bridge, err error) {
	logger.Warn("realtime send failed", zap.Error(err))
	snd.error(protocol.CodeRealtimeSend, err.Error())
	if detached, ok := sess.DetachBridge(b); ok {
		_ = detached.Close()
	}
}

func (h *Handler) emit(kind observability.EventKind, sessionID, detail string) {
	h.hooks.Emit(observability.LifecycleEvent{Kind: kind, SessionID: sessionID, Detail: detail})
}

func configView(s session.State) protocol.SessionConfig {
	return protocol.SessionConfig{
		Voice:          s.VoiceID,
		Provider:       s.Provider,
		BargeInEnabled: s.BargeInEnabled,
		RealtimeActive: s.RealtimeActive,
	}
}
