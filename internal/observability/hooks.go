package observability

import (
	"sync"
	"time"
)

type EventKind string

const (
	EventSessionStarted EventKind = "session_started"
	EventSessionEnded   EventKind = "session_ended"
	EventSessionExpired EventKind = "session_expired"
	EventBridgeOpened   EventKind = "bridge_opened"
	EventBridgeClosed   EventKind = "bridge_closed"
	EventBridgeFailed   EventKind = "bridge_failed"
	EventSpeakCompleted EventKind = "speak_completed"
	EventSpeakFailed    EventKind = "speak_failed"
	EventInterrupted    EventKind = "interrupted"
)

// LifecycleEvent describes one session lifecycle transition.
type LifecycleEvent struct {
	Kind      EventKind
	SessionID string
	Detail    string
	At        time.Time
}

// Hooks is a callback registry for lifecycle observers. The zero value is
// not usable; use NewHooks. A nil *Hooks drops every event.
type Hooks struct {
	mu   sync.RWMutex
	subs map[int]func(LifecycleEvent)
	next int
}

func NewHooks() *Hooks {
	return &Hooks{subs: make(map[int]func(LifecycleEvent))}
}

// Subscribe registers fn and returns a function that removes it.
func (h *Hooks) Subscribe(fn func(LifecycleEvent)) func() {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Emit delivers ev synchronously to every subscriber.
func (h *Hooks) Emit(ev LifecycleEvent) {
	if h == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.RLock()
	subs := make([]func(LifecycleEvent), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
