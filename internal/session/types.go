package session

import (
	"errors"
	"sync"
	"time"
)

// Handle is a closable channel owned by a session: the client websocket or
// the upstream bridge.
type Handle interface {
	Close() error
}

// Context is caller-supplied free text used only to seed upstream instructions.
type Context struct {
	ClientRef  string `json:"client_ref,omitempty"`
	SessionRef string `json:"session_ref,omitempty"`
	Notes      string `json:"-"`
}

// Settings is the mutable per-session state.
type Settings struct {
	VoiceID          string  `json:"voice_id"`
	Provider         string  `json:"provider"`
	BargeInEnabled   bool    `json:"barge_in_enabled"`
	CurrentlyPlaying bool    `json:"currently_playing"`
	Context          Context `json:"context"`
}

// State is a point-in-time copy of a session.
type State struct {
	ID string `json:"session_id"`
	Settings
	RealtimeActive bool      `json:"realtime_active"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Session is one client connection's voice state. All fields behind mu are
// shared between the dispatch loop and the bridge reader.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	settings     Settings
	client       Handle
	bridge       Handle
	lastActivity time.Time
	closed       bool
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:             s.ID,
		Settings:       s.settings,
		RealtimeActive: s.bridge != nil,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.lastActivity,
	}
}

// Update applies fn to the session settings under the session lock.
func (s *Session) Update(fn func(*Settings)) State {
	s.mu.Lock()
	fn(&s.settings)
	s.mu.Unlock()
	return s.Snapshot()
}

// UpdateIfBridge applies fn only while h is the active bridge, so events
// from a detached bridge cannot change settings.
func (s *Session) UpdateIfBridge(h Handle, fn func(*Settings)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == nil || s.bridge != h {
		return false
	}
	fn(&s.settings)
	return true
}

func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// Bridge returns the active upstream handle, or nil.
func (s *Session) Bridge() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridge
}

// AttachBridge stores h as the active bridge and returns the handle it
// replaced. The caller owns closing the returned handle. Attaching to a
// closed session fails and leaves h unowned.
func (s *Session) AttachBridge(h Handle) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	prev := s.bridge
	s.bridge = h
	return prev, nil
}

// DetachBridge clears the active bridge. With a non-nil h it only detaches
// when h is still the active bridge. Barge-in is disabled and playback
// cleared whenever a bridge is detached.
func (s *Session) DetachBridge(h Handle) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bridge == nil || (h != nil && s.bridge != h) {
		return nil, false
	}
	prev := s.bridge
	s.bridge = nil
	s.settings.BargeInEnabled = false
	s.settings.CurrentlyPlaying = false
	return prev, true
}

func (s *Session) idle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity) > timeout
}

// close releases both handles once. It reports whether this call did the
// closing; later calls return false and do nothing.
func (s *Session) close() (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, nil
	}
	s.closed = true
	bridge, client := s.bridge, s.client
	s.bridge, s.client = nil, nil
	s.settings.BargeInEnabled = false
	s.settings.CurrentlyPlaying = false
	s.mu.Unlock()

	var errs []error
	if bridge != nil {
		if err := bridge.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if client != nil {
		if err := client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}
