package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session closed")
)

const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

type RegistryConfig struct {
	IdleTimeout     time.Duration
	DefaultVoice    string
	DefaultProvider string
}

// Registry owns the active sessions of one process.
type Registry struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idleTimeout time.Duration
	defaults    Settings
	onExpire    func(State)
	logger      *zap.Logger
	now         func() time.Time

	janitorMu   sync.Mutex
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

func NewRegistry(cfg RegistryConfig, logger *zap.Logger) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:    make(map[string]*Session),
		idleTimeout: cfg.IdleTimeout,
		defaults: Settings{
			VoiceID:  cfg.DefaultVoice,
			Provider: cfg.DefaultProvider,
		},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) SetExpireHook(hook func(State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) IdleTimeout() time.Duration {
	return r.idleTimeout
}

// Create registers a session with default settings. client may be nil for
// sessions that are not bound to a connection.
func (r *Registry) Create(client Handle) *Session {
	now := r.now()
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		settings:     r.defaults,
		client:       client,
		lastActivity: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return s
}

func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (r *Registry) Touch(sessionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	s.Touch(r.now())
	return nil
}

// Remove closes both handles of the session and then drops it. The entry is
// dropped even when a close fails; the close error is returned. When removals
// overlap only the one that closed the session succeeds; the others get
// ErrNotFound.
func (r *Registry) Remove(sessionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	closed, closeErr := s.close()
	if !closed {
		return ErrNotFound
	}

	r.mu.Lock()
	if cur, ok := r.sessions[sessionID]; ok && cur == s {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	return closeErr
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StartJanitor sweeps idle sessions every interval until ctx ends or Stop
// is called. A second call while running is ignored.
func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	r.janitorMu.Lock()
	if r.stopJanitor != nil {
		r.janitorMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.stopJanitor = cancel
	r.janitorDone = done
	r.janitorMu.Unlock()

	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep()
			}
		}
	}()
}

// Stop halts the janitor and waits for it to exit. Safe to call repeatedly
// or without a prior StartJanitor.
func (r *Registry) Stop() {
	r.janitorMu.Lock()
	cancel, done := r.stopJanitor, r.janitorDone
	r.stopJanitor, r.janitorDone = nil, nil
	r.janitorMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep removes every session idle for longer than the timeout and returns
// how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()

	r.mu.RLock()
	var candidates []*Session
	for _, s := range r.sessions {
		if s.idle(now, r.idleTimeout) {
			candidates = append(candidates, s)
		}
	}
	hook := r.onExpire
	r.mu.RUnlock()

	removed := 0
	for _, s := range candidates {
		// Activity may have arrived since the scan.
		if !s.idle(now, r.idleTimeout) {
			continue
		}
		snap := s.Snapshot()
		if err := r.Remove(s.ID); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			r.logger.Warn("idle session close failed",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
		}
		removed++
		r.logger.Info("idle session expired",
			zap.String("session_id", s.ID),
			zap.Duration("idle", now.Sub(snap.LastActivityAt)),
		)
		if hook != nil {
			hook(snap)
		}
	}
	return removed
}

// CloseAll removes every session. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if err := r.Remove(id); err != nil && !errors.Is(err, ErrNotFound) {
			r.logger.Warn("session close failed", zap.String("session_id", id), zap.Error(err))
		}
	}
}
