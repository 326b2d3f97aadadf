package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ent0n29/voicerelay/internal/reliability"
)

// Upstream event tags.
const (
	EventSessionCreated              = "session.created"
	EventSessionUpdated              = "session.updated"
	EventSpeechStarted               = "input_audio_buffer.speech_started"
	EventSpeechStopped               = "input_audio_buffer.speech_stopped"
	EventInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventAudioDelta                  = "response.audio.delta"
	EventAudioDone                   = "response.audio.done"
	EventTranscriptDelta             = "response.audio_transcript.delta"
	EventTranscriptDone              = "response.audio_transcript.done"
	EventResponseDone                = "response.done"
	EventError                       = "error"
)

// Event is one upstream event delivered to a Handler.
type Event interface {
	eventType() string
}

type SessionCreated struct{}

type SpeechStarted struct{}

type SpeechStopped struct{}

type InputTranscriptionCompleted struct {
	Transcript string
}

// AudioDelta carries a base64 audio chunk exactly as received.
type AudioDelta struct {
	Delta string
}

type AudioDone struct{}

type TranscriptDelta struct {
	Delta string
}

type TranscriptDone struct {
	Transcript string
}

type ResponseDone struct{}

type ErrorEvent struct {
	Code      string
	Message   string
	Retryable bool
}

// Unhandled is any upstream event without a client-side translation.
type Unhandled struct {
	Type string
}

// Closed is delivered exactly once when the connection ends. Err is nil when
// the connection was closed locally.
type Closed struct {
	Err error
}

func (SessionCreated) eventType() string              { return EventSessionCreated }
func (SpeechStarted) eventType() string               { return EventSpeechStarted }
func (SpeechStopped) eventType() string               { return EventSpeechStopped }
func (InputTranscriptionCompleted) eventType() string { return EventInputTranscriptionCompleted }
func (AudioDelta) eventType() string                  { return EventAudioDelta }
func (AudioDone) eventType() string                   { return EventAudioDone }
func (TranscriptDelta) eventType() string             { return EventTranscriptDelta }
func (TranscriptDone) eventType() string              { return EventTranscriptDone }
func (ResponseDone) eventType() string                { return EventResponseDone }
func (ErrorEvent) eventType() string                  { return EventError }
func (e Unhandled) eventType() string                 { return e.Type }
func (Closed) eventType() string                      { return "closed" }

// Handler receives upstream events in arrival order from a single goroutine.
type Handler func(Event)

type wireEvent struct {
	Type       string     `json:"type"`
	Delta      string     `json:"delta"`
	Transcript string     `json:"transcript"`
	Error      *wireError `json:"error"`
}

type wireError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEvent decodes one upstream frame.
func ParseEvent(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode upstream event: %w", err)
	}
	switch w.Type {
	case EventSessionCreated:
		return SessionCreated{}, nil
	case EventSpeechStarted:
		return SpeechStarted{}, nil
	case EventSpeechStopped:
		return SpeechStopped{}, nil
	case EventInputTranscriptionCompleted:
		return InputTranscriptionCompleted{Transcript: w.Transcript}, nil
	case EventAudioDelta:
		return AudioDelta{Delta: w.Delta}, nil
	case EventAudioDone:
		return AudioDone{}, nil
	case EventTranscriptDelta:
		return TranscriptDelta{Delta: w.Delta}, nil
	case EventTranscriptDone:
		return TranscriptDone{Transcript: w.Transcript}, nil
	case EventResponseDone:
		return ResponseDone{}, nil
	case EventError:
		ev := ErrorEvent{Code: "upstream_error"}
		if w.Error != nil {
			if w.Error.Code != "" {
				ev.Code = w.Error.Code
			} else if w.Error.Type != "" {
				ev.Code = w.Error.Type
			}
			ev.Message = w.Error.Message
		}
		ev.Retryable = reliability.IsRetryableRealtimeMessageType(ev.Code)
		return ev, nil
	default:
		return Unhandled{Type: w.Type}, nil
	}
}

// ClientEvent is one event sent upstream.
type ClientEvent interface {
	payload() map[string]any
}

// AppendAudio adds raw audio bytes to the upstream input buffer.
type AppendAudio struct {
	Audio []byte
}

type CommitAudio struct{}

type CancelResponse struct{}

type sessionUpdate struct {
	cfg SessionConfig
}

func (e AppendAudio) payload() map[string]any {
	return map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(e.Audio),
	}
}

func (CommitAudio) payload() map[string]any {
	return map[string]any{"type": "input_audio_buffer.commit"}
}

func (CancelResponse) payload() map[string]any {
	return map[string]any{"type": "response.cancel"}
}

func (e sessionUpdate) payload() map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        e.cfg.Instructions,
			"voice":               e.cfg.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": e.cfg.TranscriptionModel,
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           e.cfg.VADThreshold,
				"prefix_padding_ms":   prefixPaddingMS,
				"silence_duration_ms": silenceDurationMS,
			},
		},
	}
}

func encodeClientEvent(ev ClientEvent) ([]byte, error) {
	p := ev.payload()
	p["event_id"] = "evt_" + uuid.NewString()
	return json.Marshal(p)
}
