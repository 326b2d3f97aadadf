package voice

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/voicerelay/internal/audio"
)

const (
	InputFormatWebM  = "webm"
	InputFormatPCM16 = "pcm16"
)

type TranscriberConfig struct {
	Language    string
	InputFormat string
	SampleRate  int
}

// Transcriber turns inbound audio frames into text. Failures are logged and
// reported as an empty transcript.
type Transcriber struct {
	client   TranscriptionClient
	cfg      TranscriberConfig
	observer Observer
	logger   *zap.Logger
}

func NewTranscriber(cfg TranscriberConfig, client TranscriptionClient, observer Observer, logger *zap.Logger) *Transcriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	cfg.InputFormat = strings.ToLower(strings.TrimSpace(cfg.InputFormat))
	if cfg.InputFormat != InputFormatPCM16 {
		cfg.InputFormat = InputFormatWebM
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &Transcriber{client: client, cfg: cfg, observer: observer, logger: logger}
}

// Available reports whether a transcription client is configured.
func (t *Transcriber) Available() bool {
	return t.client != nil
}

func (t *Transcriber) Transcribe(ctx context.Context, clip []byte) string {
	if len(clip) == 0 {
		return ""
	}
	if t.client == nil {
		t.logger.Debug("transcription skipped: no provider configured")
		return ""
	}

	req := TranscriptionRequest{Audio: clip, Filename: "audio.webm", Language: t.cfg.Language}
	if t.cfg.InputFormat == InputFormatPCM16 {
		wav, err := audio.EncodeWAVPCM16LE(clip, t.cfg.SampleRate)
		if err != nil {
			t.logger.Warn("wrap pcm as wav failed", zap.Error(err))
			return ""
		}
		req.Audio = wav
		req.Filename = "audio.wav"
	}

	started := time.Now()
	text, err := t.client.Transcribe(ctx, req)
	code, retryable := classifyError(err)
	t.observer.ObserveProviderCall("openai", "transcribe", code, retryable, time.Since(started))
	if err != nil {
		t.logger.Warn("transcription failed", zap.Int("bytes", len(clip)), zap.Error(err))
		return ""
	}
	return strings.TrimSpace(text)
}
