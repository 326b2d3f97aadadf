package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/reliability"
)

const (
	prefixPaddingMS   = 300
	silenceDurationMS = 500

	writeTimeout = 10 * time.Second
	maxDialWait  = 2 * time.Second
)

var (
	ErrClosed             = errors.New("realtime bridge closed")
	ErrMissingCredentials = errors.New("realtime credentials not configured")
)

type Config struct {
	URL                string
	Model              string
	APIKey             string
	TranscriptionModel string
	VADThreshold       float64
	DialTimeout        time.Duration
	DialAttempts       int
}

// SessionConfig is the per-bridge part of the upstream session.update.
type SessionConfig struct {
	Instructions       string
	Voice              string
	TranscriptionModel string
	VADThreshold       float64
}

// Client opens bridges to the upstream realtime speech API.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = "wss://api.openai.com/v1/realtime"
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	if strings.TrimSpace(cfg.TranscriptionModel) == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.VADThreshold <= 0 || cfg.VADThreshold >= 1 {
		cfg.VADThreshold = 0.5
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		logger: logger,
	}
}

// Available reports whether upstream credentials are configured.
func (c *Client) Available() bool {
	return strings.TrimSpace(c.cfg.APIKey) != ""
}

// Open dials upstream and sends session.update. Events reach h only after
// Start is called on the returned Conn.
func (c *Client) Open(ctx context.Context, sc SessionConfig, h Handler) (*Conn, error) {
	if !c.Available() {
		return nil, ErrMissingCredentials
	}
	if sc.TranscriptionModel == "" {
		sc.TranscriptionModel = c.cfg.TranscriptionModel
	}
	if sc.VADThreshold <= 0 || sc.VADThreshold >= 1 {
		sc.VADThreshold = c.cfg.VADThreshold
	}

	ws, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	conn := &Conn{
		ws:      ws,
		handler: h,
		done:    make(chan struct{}),
		logger:  c.logger,
	}
	if err := conn.Send(ctx, sessionUpdate{cfg: sc}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send session.update: %w", err)
	}
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+c.cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	var (
		lastErr error
		wait    time.Duration
	)
	for attempt := 0; attempt < c.cfg.DialAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		ws, resp, err := c.dialer.DialContext(ctx, u.String(), headers)
		if err == nil {
			return ws, nil
		}
		status := 0
		wait = reliability.ExponentialBackoff(attempt, 200*time.Millisecond, maxDialWait)
		if resp != nil {
			status = resp.StatusCode
			wait = min(reliability.RetryAfter(resp.Header, wait), maxDialWait)
			_ = resp.Body.Close()
		}
		lastErr = fmt.Errorf("dial realtime websocket (status %d): %w", status, err)
		if status == 0 || !reliability.IsRetryableHTTPStatus(status) {
			break
		}
		c.logger.Warn("realtime dial retry", zap.Int("attempt", attempt+1), zap.Int("status", status))
	}
	return nil, lastErr
}

// Conn is one live bridge. Close is idempotent; once it is closed no event
// other than the final Closed reaches the handler.
type Conn struct {
	ws      *websocket.Conn
	handler Handler
	logger  *zap.Logger

	writeMu sync.Mutex
	emitMu  sync.Mutex

	mu      sync.Mutex
	closed  bool
	started bool
	done    chan struct{}
}

// Start begins delivering upstream events to the handler.
func (c *Conn) Start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()
	go c.readLoop()
}

func (c *Conn) Send(ctx context.Context, ev ClientEvent) error {
	if c.isClosed() {
		return ErrClosed
	}

	data, err := encodeClientEvent(ev)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("realtime write: %w", err)
	}
	return nil
}

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

// Done is closed once the connection has shut down.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.ws.Close()
	close(c.done)

	// Wait out an in-flight emit so Closed is the last event.
	c.emitMu.Lock()
	c.emitMu.Unlock()

	if c.handler != nil {
		c.handler(Closed{Err: cause})
	}
}

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			c.shutdown(err)
			return
		}
		ev, err := ParseEvent(data)
		if err != nil {
			c.logger.Debug("skip malformed upstream event", zap.Error(err))
			continue
		}
		c.emit(ev)
	}
}

func (c *Conn) emit(ev Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.isClosed() || c.handler == nil {
		return
	}
	c.handler(ev)
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
