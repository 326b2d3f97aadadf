package clientctx

import (
	"context"
	"sync"
)

// StaticSource is an in-process Source for local/dev use and tests.
type StaticSource struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewStaticSource() *StaticSource {
	return &StaticSource{entries: make(map[string]string)}
}

func (s *StaticSource) Put(ref Reference, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[ref.key()] = text
}

// Lookup prefers an exact client+session match and falls back to the
// client-level entry.
func (s *StaticSource) Lookup(_ context.Context, ref Reference) (string, error) {
	if ref.Empty() {
		return "", nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if text, ok := s.entries[ref.key()]; ok {
		return text, nil
	}
	return s.entries[Reference{ClientRef: ref.ClientRef}.key()], nil
}

func (s *StaticSource) Ping(context.Context) error { return nil }

func (s *StaticSource) Close() error { return nil }
