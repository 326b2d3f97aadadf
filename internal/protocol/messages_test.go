package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageConfigure(t *testing.T) {
	raw := []byte(`{"type":"configure","voice":"nova","provider":"openai","barge_in":true,"client_ref":"c-1","context":"recent note"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	cfg, ok := msg.(Configure)
	if !ok {
		t.Fatalf("message type = %T, want Configure", msg)
	}
	if cfg.Voice != "nova" || cfg.Provider != "openai" {
		t.Fatalf("unexpected configure: %+v", cfg)
	}
	if cfg.BargeIn == nil || !*cfg.BargeIn {
		t.Fatalf("BargeIn = %v, want true", cfg.BargeIn)
	}
	if cfg.ClientRef == nil || *cfg.ClientRef != "c-1" {
		t.Fatalf("ClientRef = %v, want c-1", cfg.ClientRef)
	}
	if cfg.SessionRef != nil {
		t.Fatalf("SessionRef = %v, want nil", *cfg.SessionRef)
	}
}

func TestParseClientMessageSpeak(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"speak","text":"hello","voice":"rachel"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	speak, ok := msg.(Speak)
	if !ok {
		t.Fatalf("message type = %T, want Speak", msg)
	}
	if speak.Text != "hello" || speak.Voice != "rachel" {
		t.Fatalf("unexpected speak: %+v", speak)
	}
}

func TestParseClientMessageBareTypes(t *testing.T) {
	tests := []struct {
		raw  string
		want MessageType
	}{
		{raw: `{"type":"interrupt"}`, want: TypeInterrupt},
		{raw: `{"type":"start_realtime"}`, want: TypeStartRealtime},
		{raw: `{"type":"stop_realtime"}`, want: TypeStopRealtime},
		{raw: `{"type":"commit_audio"}`, want: TypeCommitAudio},
		{raw: `{"type":"audio_append","audio":"AQID"}`, want: TypeAudioAppend},
	}
	for _, tc := range tests {
		msg, err := ParseClientMessage([]byte(tc.raw))
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", tc.raw, err)
		}
		if got := TypeOf(msg); got != tc.want {
			t.Fatalf("TypeOf(%s) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseClientMessageNonJSONIsAudioFrame(t *testing.T) {
	payloads := [][]byte{
		{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0x01},
		[]byte("not json"),
		[]byte("12345"),
	}
	for _, raw := range payloads {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			t.Fatalf("ParseClientMessage(%q) error = %v", raw, err)
		}
		frame, ok := msg.(AudioFrame)
		if !ok {
			t.Fatalf("message type = %T, want AudioFrame", msg)
		}
		if !bytes.Equal(frame.Data, raw) {
			t.Fatalf("frame data = %v, want %v", frame.Data, raw)
		}
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	_, err = ParseClientMessage([]byte(`{}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType for missing type", err)
	}
}

func TestAudioAppendDecode(t *testing.T) {
	data, err := AudioAppend{Audio: "AQID"}.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Fatalf("Decode() = %v, want [1 2 3]", data)
	}
	if _, err := (AudioAppend{Audio: "%%%"}).Decode(); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := (AudioAppend{}).Decode(); err == nil {
		t.Fatalf("expected error for empty audio")
	}
}

func TestServerMessageJSONShape(t *testing.T) {
	raw, err := json.Marshal(NewError(CodeBargeInDisabled, "barge-in is not enabled"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"type":"error","code":"barge_in_disabled","message":"barge-in is not enabled"}`
	if string(raw) != want {
		t.Fatalf("Marshal() = %s, want %s", raw, want)
	}
}

func BenchmarkParseClientMessageAudioAppend(b *testing.B) {
	raw := []byte(`{"type":"audio_append","audio":"AQIDBAUGBwgJCgsMDQ4P"}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(AudioAppend); !ok {
			b.Fatalf("message type = %T, want AudioAppend", msg)
		}
	}
}
