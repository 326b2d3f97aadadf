package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/clientctx"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/realtime"
	"github.com/ent0n29/voicerelay/internal/session"
)

// Bridge is one live upstream realtime connection.
type Bridge interface {
	Send(ctx context.Context, ev realtime.ClientEvent) error
	Close() error
	Start()
}

type BridgeDialer interface {
	Available() bool
	Dial(ctx context.Context, sc realtime.SessionConfig, h realtime.Handler) (Bridge, error)
}

type realtimeDialer struct {
	client *realtime.Client
}

// NewRealtimeDialer adapts a realtime client to the BridgeDialer interface.
func NewRealtimeDialer(client *realtime.Client) BridgeDialer {
	return realtimeDialer{client: client}
}

func (d realtimeDialer) Available() bool {
	return d.client != nil && d.client.Available()
}

func (d realtimeDialer) Dial(ctx context.Context, sc realtime.SessionConfig, h realtime.Handler) (Bridge, error) {
	conn, err := d.client.Open(ctx, sc, h)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func activeBridge(sess *session.Session) Bridge {
	b, _ := sess.Bridge().(Bridge)
	return b
}

func (h *Handler) startRealtime(ctx context.Context, sess *session.Session, snd *sender, logger *zap.Logger) {
	if prev, ok := sess.DetachBridge(nil); ok {
		_ = prev.Close()
	}

	if h.bridges == nil || !h.bridges.Available() {
		snd.error(protocol.CodeRealtimeUnavailable, "realtime conversation is not configured")
		h.emit(observability.EventBridgeFailed, sess.ID, protocol.CodeRealtimeUnavailable)
		return
	}

	state := sess.Snapshot()
	background := h.lookupBackground(ctx, state.Context, logger)
	sc := realtime.SessionConfig{
		Instructions: buildInstructions(h.cfg.Instructions, state.Context, background, h.cfg.RedactContext),
		Voice:        realtimeVoice(state.VoiceID),
	}

	var bridge Bridge
	onEvent := func(ev realtime.Event) {
		h.relayEvent(sess, snd, logger, bridge, ev)
	}

	started := time.Now()
	bridge, err := h.bridges.Dial(ctx, sc, onEvent)
	if err != nil {
		logger.Warn("realtime bridge dial failed", zap.Error(err))
		snd.error(protocol.CodeRealtimeConnect, err.Error())
		h.emit(observability.EventBridgeFailed, sess.ID, err.Error())
		return
	}

	prev, err := sess.AttachBridge(bridge)
	if err != nil {
		_ = bridge.Close()
		return
	}
	if prev != nil {
		_ = prev.Close()
	}
	h.metrics.ObserveBridgeOpen(time.Since(started))
	logger.Info("realtime bridge opened", zap.String("voice", sc.Voice))
	bridge.Start()
}

func (h *Handler) stopRealtime(sess *session.Session, snd *sender) {
	if b, ok := sess.DetachBridge(nil); ok {
		// The bridge's Closed event reports realtime_stopped.
		_ = b.Close()
		return
	}
	snd.send(protocol.RealtimeStopped{Type: protocol.TypeRealtimeStopped})
}

func (h *Handler) lookupBackground(ctx context.Context, c session.Context, logger *zap.Logger) string {
	ref := clientctx.Reference{ClientRef: c.ClientRef, SessionRef: c.SessionRef}
	if ref.Empty() {
		return ""
	}
	lookupCtx, cancel := context.WithTimeout(ctx, h.cfg.LookupTimeout)
	defer cancel()
	text, err := h.contexts.Lookup(lookupCtx, ref)
	if err != nil {
		logger.Warn("client context lookup failed", zap.Error(err))
		return ""
	}
	return text
}

// relayEvent translates one upstream event into client messages. It runs on
// the bridge reader goroutine. Only Closed is relayed once the bridge has
// been detached.
func (h *Handler) relayEvent(sess *session.Session, snd *sender, logger *zap.Logger, bridge Bridge, ev realtime.Event) {
	if _, closed := ev.(realtime.Closed); !closed && (bridge == nil || activeBridge(sess) != bridge) {
		logger.Debug("dropping event from detached bridge", zap.String("event", fmt.Sprintf("%T", ev)))
		return
	}

	switch e := ev.(type) {
	case realtime.SessionCreated:
		if !sess.UpdateIfBridge(bridge, func(s *session.Settings) { s.BargeInEnabled = true }) {
			return
		}
		snd.send(protocol.RealtimeStarted{Type: protocol.TypeRealtimeStarted})
		h.emit(observability.EventBridgeOpened, sess.ID, "")
	case realtime.SpeechStarted:
		if !sess.UpdateIfBridge(bridge, func(s *session.Settings) { s.CurrentlyPlaying = false }) {
			return
		}
		snd.send(protocol.UserSpeechStarted{Type: protocol.TypeUserSpeechStarted})
	case realtime.SpeechStopped:
		snd.send(protocol.UserSpeechStopped{Type: protocol.TypeUserSpeechStopped})
	case realtime.InputTranscriptionCompleted:
		snd.send(protocol.Transcription{Type: protocol.TypeTranscription, Text: e.Transcript})
	case realtime.AudioDelta:
		if !sess.UpdateIfBridge(bridge, func(s *session.Settings) { s.CurrentlyPlaying = true }) {
			return
		}
		snd.send(protocol.AudioDelta{Type: protocol.TypeAudioDelta, Delta: e.Delta})
	case realtime.AudioDone:
		snd.send(protocol.AudioDone{Type: protocol.TypeAudioDone})
	case realtime.TranscriptDelta:
		snd.send(protocol.ResponseTextDelta{Type: protocol.TypeResponseTextDelta, Delta: e.Delta})
	case realtime.TranscriptDone:
		snd.send(protocol.ResponseTextDone{Type: protocol.TypeResponseTextDone, Text: e.Transcript})
	case realtime.ResponseDone:
		if !sess.UpdateIfBridge(bridge, func(s *session.Settings) { s.CurrentlyPlaying = false }) {
			return
		}
		snd.send(protocol.ResponseComplete{Type: protocol.TypeResponseComplete})
	case realtime.ErrorEvent:
		logger.Warn("realtime upstream error",
			zap.String("code", e.Code),
			zap.String("message", e.Message),
			zap.Bool("retryable", e.Retryable),
		)
		snd.error(e.Code, e.Message)
	case realtime.Closed:
		if bridge != nil {
			sess.DetachBridge(bridge)
		}
		if e.Err != nil {
			logger.Warn("realtime bridge closed", zap.Error(e.Err))
		} else {
			logger.Info("realtime bridge closed")
		}
		snd.send(protocol.RealtimeStopped{Type: protocol.TypeRealtimeStopped})
		h.emit(observability.EventBridgeClosed, sess.ID, "")
	case realtime.Unhandled:
		logger.Debug("unhandled realtime event", zap.String("type", e.Type))
	}
}
