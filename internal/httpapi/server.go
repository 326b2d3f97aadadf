package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/voice"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	queueSize      = 256
)

// Relay runs one client connection after the websocket is accepted.
type Relay interface {
	RunConnection(ctx context.Context, s *session.Session, inbound <-chan protocol.ClientMessage, outbound chan<- protocol.ServerMessage) error
}

// Previewer synthesizes a sample clip for the preview endpoint.
type Previewer interface {
	Synthesize(ctx context.Context, text, voiceID, provider string) (voice.Audio, error)
	DefaultVoice() string
	DefaultProvider() string
	HasProvider(provider string) bool
}

type Options struct {
	AllowAnyOrigin bool
	Relay          Relay
	Previewer      Previewer
	Metrics        *observability.Metrics
	Hooks          *observability.Hooks
	Logger         *zap.Logger
	// Ready reports dependency health for /readyz. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	registry  *session.Registry
	relay     Relay
	previewer Previewer
	metrics   *observability.Metrics
	hooks     *observability.Hooks
	logger    *zap.Logger
	ready     func(ctx context.Context) error
	upgrader  websocket.Upgrader
}

func New(registry *session.Registry, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	allowAny := opts.AllowAnyOrigin
	return &Server{
		registry:  registry,
		relay:     opts.Relay,
		previewer: opts.Previewer,
		metrics:   opts.Metrics,
		hooks:     opts.Hooks,
		logger:    logger,
		ready:     opts.Ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAny {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/voice/ws", s.handleWS)
	r.Get("/v1/voice/voices", s.handleListVoices)
	r.Post("/v1/voice/tts/preview", s.handlePreviewTTS)
	r.Get("/v1/voice/sessions/{id}", s.handleGetSession)
	r.Delete("/v1/voice/sessions/{id}", s.handleDeleteSession)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.registry.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	state := sess.Snapshot()
	if err := s.registry.Remove(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
		// The entry is gone even when a handle failed to close.
		s.logger.Warn("session close error", zap.String("session_id", id), zap.Error(err))
	}
	s.afterRemove(id, "deleted")
	respondJSON(w, http.StatusOK, state)
}

// wsHandle lets the registry close the client socket; closing makes the
// reader loop exit, which ends the connection.
type wsHandle struct {
	conn *websocket.Conn
	once sync.Once
	err  error
}

func (h *wsHandle) Close() error {
	h.once.Do(func() {
		_ = h.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			time.Now().Add(time.Second))
		h.err = h.conn.Close()
	})
	return h.err
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.relay == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "relay not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	handle := &wsHandle{conn: conn}
	defer handle.Close()

	sess := s.registry.Create(handle)
	logger := s.logger.With(zap.String("session_id", sess.ID))
	s.metrics.SetActiveSessions(s.registry.ActiveCount())
	s.hooks.Emit(observability.LifecycleEvent{Kind: observability.EventSessionStarted, SessionID: sess.ID})
	logger.Info("session connected", zap.String("remote", r.RemoteAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbound := make(chan protocol.ClientMessage, queueSize)
	outbound := make(chan protocol.ServerMessage, queueSize)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		if err := s.relay.RunConnection(ctx, sess, inbound, outbound); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("relay ended with error", zap.Error(err))
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, outbound)
	}()

	// A failed write cancels ctx; closing the socket unblocks the reader.
	go func() {
		<-ctx.Done()
		_ = handle.Close()
	}()

	s.readLoop(ctx, conn, sess, inbound, outbound, logger)

	cancel()
	close(inbound)
	<-runDone
	<-writerDone

	// A sweep or DELETE may have removed the session already and reported it.
	err = s.registry.Remove(sess.ID)
	if errors.Is(err, session.ErrNotFound) {
		logger.Info("session closed")
		return
	}
	if err != nil {
		logger.Debug("session close error", zap.Error(err))
	}
	s.afterRemove(sess.ID, "disconnected")
	logger.Info("session disconnected")
}

func (s *Server) afterRemove(sessionID, reason string) {
	s.metrics.SetActiveSessions(s.registry.ActiveCount())
	s.hooks.Emit(observability.LifecycleEvent{
		Kind:      observability.EventSessionEnded,
		SessionID: sessionID,
		Detail:    reason,
	})
}

// writeLoop is the only goroutine writing data frames to conn.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, outbound <-chan protocol.ServerMessage) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				s.metrics.ObserveWSWriteError("ping")
				cancel()
				return
			}
		case msg := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.ObserveWSWriteError("write_json")
				cancel()
				return
			}
			s.metrics.ObserveWSMessage("outbound", string(msg.MessageType()))
		}
	}
}

func (s *Server) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	sess *session.Session,
	inbound chan<- protocol.ClientMessage,
	outbound chan<- protocol.ServerMessage,
	logger *zap.Logger,
) {
	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read ended", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		msg, err := protocol.ParseClientMessage(data)
		switch {
		case errors.Is(err, protocol.ErrUnsupportedType):
			sess.Touch(time.Now().UTC())
			logger.Debug("ignoring unsupported message", zap.Error(err))
			continue
		case err != nil:
			sess.Touch(time.Now().UTC())
			select {
			case <-ctx.Done():
				return
			case outbound <- protocol.NewError(protocol.CodeInvalidMessage, err.Error()):
				s.metrics.ObserveOutboundMessage(string(protocol.TypeError), "queued")
			}
			continue
		}

		s.metrics.ObserveWSMessage("inbound", string(protocol.TypeOf(msg)))
		select {
		case <-ctx.Done():
			return
		case inbound <- msg:
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
