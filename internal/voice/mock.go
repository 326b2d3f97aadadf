package voice

import (
	"context"
	"strings"
	"sync"
)

// MockSpeechClient is a local provider used when no credentials are configured.
// It returns the request text as audio bytes.
type MockSpeechClient struct {
	Provider string
	Err      error

	mu    sync.Mutex
	calls []SpeechRequest
}

func NewMockSpeechClient(provider string) *MockSpeechClient {
	return &MockSpeechClient{Provider: provider}
}

func (c *MockSpeechClient) Synthesize(_ context.Context, req SpeechRequest) (Audio, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	err := c.Err
	c.mu.Unlock()
	if err != nil {
		return Audio{}, err
	}
	return Audio{
		Data:     []byte("mock:" + req.VoiceID + ":" + req.Text),
		Format:   "mp3",
		Provider: c.Provider,
	}, nil
}

// Calls returns the requests received so far.
func (c *MockSpeechClient) Calls() []SpeechRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SpeechRequest, len(c.calls))
	copy(out, c.calls)
	return out
}

// MockTranscriptionClient reports a fixed transcript for any non-empty clip.
type MockTranscriptionClient struct {
	Text string
	Err  error
}

func NewMockTranscriptionClient() *MockTranscriptionClient {
	return &MockTranscriptionClient{Text: "simulated voice input"}
}

func (c *MockTranscriptionClient) Transcribe(_ context.Context, req TranscriptionRequest) (string, error) {
	if c.Err != nil {
		return "", c.Err
	}
	if len(req.Audio) == 0 {
		return "", nil
	}
	return strings.TrimSpace(c.Text), nil
}
