package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/catalog"
	"github.com/ent0n29/voicerelay/internal/voice"
)

const defaultPreviewText = "Hi, this is how I sound. Let me know if you would like a different voice."

type providerStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

type listVoicesResponse struct {
	DefaultVoice    string                `json:"default_voice"`
	DefaultProvider string                `json:"default_provider"`
	Providers       []providerStatus      `json:"providers"`
	Voices          []catalog.VoiceOption `json:"voices"`
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	resp := listVoicesResponse{Voices: catalog.Voices()}
	for _, p := range catalog.Providers() {
		resp.Providers = append(resp.Providers, providerStatus{Name: p})
	}
	if s.previewer != nil {
		resp.DefaultVoice = s.previewer.DefaultVoice()
		resp.DefaultProvider = s.previewer.DefaultProvider()
		for i := range resp.Providers {
			resp.Providers[i].Available = s.previewer.HasProvider(resp.Providers[i].Name)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

type previewTTSRequest struct {
	Voice    string `json:"voice"`
	Provider string `json:"provider"`
	Text     string `json:"text"`
}

func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	if s.previewer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "speech synthesis not configured")
		return
	}

	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	voiceID := strings.TrimSpace(req.Voice)
	if voiceID == "" {
		voiceID = s.previewer.DefaultVoice()
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = defaultPreviewText
	}

	clip, err := s.previewer.Synthesize(r.Context(), text, voiceID, req.Provider)
	switch {
	case errors.Is(err, voice.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "empty_text", err.Error())
		return
	case errors.Is(err, voice.ErrProviderUnavailable):
		respondError(w, http.StatusServiceUnavailable, "provider_unavailable", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}

	out := clip.Data
	contentType := mimeForFormat(clip.Format)
	if rate, ok := pcmSampleRate(clip.Format); ok {
		wav, err := audio.EncodeWAVPCM16LE(out, rate)
		if err != nil {
			respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
			return
		}
		out = wav
		contentType = "audio/wav"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Audio-Format", clip.Format)
	w.Header().Set("X-Voice-Provider", clip.Provider)
	w.Header().Set("X-Voice-Id", clip.VoiceID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

func mimeForFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch {
	case strings.HasPrefix(f, "wav"):
		return "audio/wav"
	case strings.HasPrefix(f, "mp3"):
		return "audio/mpeg"
	case strings.HasPrefix(f, "opus"), strings.HasPrefix(f, "ogg"):
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// pcmSampleRate parses provider formats like "pcm_24000". A bare "pcm"
// defaults to 24kHz, the OpenAI raw PCM rate.
func pcmSampleRate(format string) (int, bool) {
	f := strings.ToLower(strings.TrimSpace(format))
	if !strings.HasPrefix(f, "pcm") {
		return 0, false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(f, "pcm"), "_")
	if rate, err := strconv.Atoi(rest); err == nil && rate > 0 {
		return rate, true
	}
	return 24000, true
}
