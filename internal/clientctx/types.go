package clientctx

import (
	"context"
	"strings"
)

// Reference identifies the collaborator record a voice session talks about.
type Reference struct {
	ClientRef  string
	SessionRef string
}

func (r Reference) Empty() bool {
	return strings.TrimSpace(r.ClientRef) == "" && strings.TrimSpace(r.SessionRef) == ""
}

func (r Reference) key() string {
	return strings.TrimSpace(r.ClientRef) + "|" + strings.TrimSpace(r.SessionRef)
}

// Source resolves a reference into short free-text context. An unknown
// reference yields an empty string and no error.
type Source interface {
	Lookup(ctx context.Context, ref Reference) (string, error)
	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
	Close() error
}
