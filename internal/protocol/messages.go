package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ent0n29/voicerelay/internal/catalog"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeConfigure     MessageType = "configure"
	TypeSpeak         MessageType = "speak"
	TypeInterrupt     MessageType = "interrupt"
	TypeStartRealtime MessageType = "start_realtime"
	TypeStopRealtime  MessageType = "stop_realtime"
	TypeAudioAppend   MessageType = "audio_append"
	TypeCommitAudio   MessageType = "commit_audio"
	// TypeAudioFrame is never on the wire; it labels raw audio payloads.
	TypeAudioFrame MessageType = "audio_frame"

	TypeConnected         MessageType = "connected"
	TypeConfigured        MessageType = "configured"
	TypeSpeakingStart     MessageType = "speaking_start"
	TypeAudio             MessageType = "audio"
	TypeSpeakingEnd       MessageType = "speaking_end"
	TypeInterrupted       MessageType = "interrupted"
	TypeRealtimeStarted   MessageType = "realtime_started"
	TypeRealtimeStopped   MessageType = "realtime_stopped"
	TypeTranscription     MessageType = "transcription"
	TypeAudioDelta        MessageType = "audio_delta"
	TypeAudioDone         MessageType = "audio_done"
	TypeResponseTextDelta MessageType = "response_text_delta"
	TypeResponseTextDone  MessageType = "response_text_done"
	TypeResponseComplete  MessageType = "response_complete"
	TypeUserSpeechStarted MessageType = "user_speech_started"
	TypeUserSpeechStopped MessageType = "user_speech_stopped"
	TypeError             MessageType = "error"
)

// Error codes carried by Error messages.
const (
	CodeInvalidMessage      = "invalid_message"
	CodeInvalidAudio        = "invalid_audio"
	CodeEmptyText           = "empty_text"
	CodeProviderUnavailable = "provider_unavailable"
	CodeSynthesisFailed     = "synthesis_failed"
	CodeBargeInDisabled     = "barge_in_disabled"
	CodeRealtimeInactive    = "realtime_inactive"
	CodeRealtimeUnavailable = "realtime_unavailable"
	CodeRealtimeConnect     = "realtime_connect_failed"
	CodeRealtimeSend        = "realtime_send_failed"
	CodeUpstream            = "upstream_error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientMessage is one classified inbound payload.
type ClientMessage interface {
	clientMessage()
}

type Configure struct {
	Type       MessageType `json:"type"`
	Voice      string      `json:"voice,omitempty"`
	Provider   string      `json:"provider,omitempty"`
	BargeIn    *bool       `json:"barge_in,omitempty"`
	ClientRef  *string     `json:"client_ref,omitempty"`
	SessionRef *string     `json:"session_ref,omitempty"`
	Context    *string     `json:"context,omitempty"`
}

type Speak struct {
	Type     MessageType `json:"type"`
	Text     string      `json:"text"`
	Voice    string      `json:"voice,omitempty"`
	Provider string      `json:"provider,omitempty"`
}

type Interrupt struct {
	Type MessageType `json:"type"`
}

type StartRealtime struct {
	Type MessageType `json:"type"`
}

type StopRealtime struct {
	Type MessageType `json:"type"`
}

type AudioAppend struct {
	Type  MessageType `json:"type"`
	Audio string      `json:"audio"`
}

// Decode returns the raw audio bytes.
func (m AudioAppend) Decode() ([]byte, error) {
	if m.Audio == "" {
		return nil, errors.New("audio_append without audio")
	}
	data, err := base64.StdEncoding.DecodeString(m.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio_append decode: %w", err)
	}
	return data, nil
}

type CommitAudio struct {
	Type MessageType `json:"type"`
}

// AudioFrame is a payload that did not parse as a control message.
type AudioFrame struct {
	Data []byte
}

func (Configure) clientMessage()     {}
func (Speak) clientMessage()         {}
func (Interrupt) clientMessage()     {}
func (StartRealtime) clientMessage() {}
func (StopRealtime) clientMessage()  {}
func (AudioAppend) clientMessage()   {}
func (CommitAudio) clientMessage()   {}
func (AudioFrame) clientMessage()    {}

// ParseClientMessage classifies one inbound payload. Anything that is not a
// JSON object comes back as an AudioFrame. A JSON object with an unknown type
// returns ErrUnsupportedType.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return AudioFrame{Data: raw}, nil
	}

	switch env.Type {
	case TypeConfigure:
		var msg Configure
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid configure: %w", err)
		}
		return msg, nil
	case TypeSpeak:
		var msg Speak
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid speak: %w", err)
		}
		return msg, nil
	case TypeInterrupt:
		return Interrupt{Type: env.Type}, nil
	case TypeStartRealtime:
		return StartRealtime{Type: env.Type}, nil
	case TypeStopRealtime:
		return StopRealtime{Type: env.Type}, nil
	case TypeAudioAppend:
		var msg AudioAppend
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("invalid audio_append: %w", err)
		}
		return msg, nil
	case TypeCommitAudio:
		return CommitAudio{Type: env.Type}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// TypeOf names a client message for logs and metrics.
func TypeOf(msg ClientMessage) MessageType {
	switch msg.(type) {
	case Configure:
		return TypeConfigure
	case Speak:
		return TypeSpeak
	case Interrupt:
		return TypeInterrupt
	case StartRealtime:
		return TypeStartRealtime
	case StopRealtime:
		return TypeStopRealtime
	case AudioAppend:
		return TypeAudioAppend
	case CommitAudio:
		return TypeCommitAudio
	case AudioFrame:
		return TypeAudioFrame
	default:
		return "unknown"
	}
}

// ServerMessage is one outbound payload written to the client.
type ServerMessage interface {
	MessageType() MessageType
}

// SessionConfig is the client-visible view of a session's settings.
type SessionConfig struct {
	Voice          string `json:"voice"`
	Provider       string `json:"provider"`
	BargeInEnabled bool   `json:"barge_in_enabled"`
	RealtimeActive bool   `json:"realtime_active"`
}

type Connected struct {
	Type      MessageType           `json:"type"`
	SessionID string                `json:"session_id"`
	Voices    []catalog.VoiceOption `json:"voices"`
	Config    SessionConfig         `json:"config"`
}

type Configured struct {
	Type   MessageType   `json:"type"`
	Config SessionConfig `json:"config"`
}

type SpeakingStart struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type Audio struct {
	Type   MessageType `json:"type"`
	Audio  string      `json:"audio"`
	Format string      `json:"format"`
	Text   string      `json:"text"`
}

type SpeakingEnd struct {
	Type MessageType `json:"type"`
}

type Interrupted struct {
	Type MessageType `json:"type"`
}

type RealtimeStarted struct {
	Type MessageType `json:"type"`
}

type RealtimeStopped struct {
	Type MessageType `json:"type"`
}

type Transcription struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type AudioDelta struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta"`
}

type AudioDone struct {
	Type MessageType `json:"type"`
}

type ResponseTextDelta struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta"`
}

type ResponseTextDone struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type ResponseComplete struct {
	Type MessageType `json:"type"`
}

type UserSpeechStarted struct {
	Type MessageType `json:"type"`
}

type UserSpeechStopped struct {
	Type MessageType `json:"type"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

func (m Connected) MessageType() MessageType         { return TypeConnected }
func (m Configured) MessageType() MessageType        { return TypeConfigured }
func (m SpeakingStart) MessageType() MessageType     { return TypeSpeakingStart }
func (m Audio) MessageType() MessageType             { return TypeAudio }
func (m SpeakingEnd) MessageType() MessageType       { return TypeSpeakingEnd }
func (m Interrupted) MessageType() MessageType       { return TypeInterrupted }
func (m RealtimeStarted) MessageType() MessageType   { return TypeRealtimeStarted }
func (m RealtimeStopped) MessageType() MessageType   { return TypeRealtimeStopped }
func (m Transcription) MessageType() MessageType     { return TypeTranscription }
func (m AudioDelta) MessageType() MessageType        { return TypeAudioDelta }
func (m AudioDone) MessageType() MessageType         { return TypeAudioDone }
func (m ResponseTextDelta) MessageType() MessageType { return TypeResponseTextDelta }
func (m ResponseTextDone) MessageType() MessageType  { return TypeResponseTextDone }
func (m ResponseComplete) MessageType() MessageType  { return TypeResponseComplete }
func (m UserSpeechStarted) MessageType() MessageType { return TypeUserSpeechStarted }
func (m UserSpeechStopped) MessageType() MessageType { return TypeUserSpeechStopped }
func (m Error) MessageType() MessageType             { return TypeError }

// NewError builds an error message with its type tag set.
func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}
