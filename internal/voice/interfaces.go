package voice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/voicerelay/internal/reliability"
)

var (
	// ErrProviderUnavailable means no client is configured for the resolved provider.
	ErrProviderUnavailable = errors.New("speech provider unavailable")
	ErrEmptyText           = errors.New("text is empty")
)

// Audio is one complete synthesized clip.
type Audio struct {
	Data     []byte
	Format   string
	Provider string
	VoiceID  string
}

type SpeechRequest struct {
	Text string
	// VoiceID is the provider-specific voice identifier.
	VoiceID string
}

// SpeechClient synthesizes speech through one provider.
type SpeechClient interface {
	Synthesize(ctx context.Context, req SpeechRequest) (Audio, error)
}

type TranscriptionRequest struct {
	Audio    []byte
	Filename string
	Language string
}

// TranscriptionClient turns one audio clip into text.
type TranscriptionClient interface {
	Transcribe(ctx context.Context, req TranscriptionRequest) (string, error)
}

// Observer receives one call per provider request.
type Observer interface {
	ObserveProviderCall(provider, operation, code string, retryable bool, elapsed time.Duration)
}

// ProviderError is a non-2xx response from a provider API.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Retryable() bool {
	return reliability.IsRetryableHTTPStatus(e.StatusCode)
}

// classifyError maps a provider call error to a metrics code.
func classifyError(err error) (string, bool) {
	if err == nil {
		return "ok", false
	}
	var perr *ProviderError
	switch {
	case errors.As(err, &perr):
		return fmt.Sprintf("http_%d", perr.StatusCode), perr.Retryable()
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable", false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "timeout", true
	default:
		return "transport", true
	}
}

type nopObserver struct{}

func (nopObserver) ObserveProviderCall(string, string, string, bool, time.Duration) {}
