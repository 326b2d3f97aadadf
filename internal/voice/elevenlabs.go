package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/voicerelay/internal/catalog"
)

type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	OutputFormat string
	Stability    float64
	Similarity   float64
	Timeout      time.Duration
}

// ElevenLabsClient synthesizes speech through the ElevenLabs REST API.
type ElevenLabsClient struct {
	cfg  ElevenLabsConfig
	http *http.Client
}

func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	cfg.Stability = clampUnit(cfg.Stability, 0.5)
	cfg.Similarity = clampUnit(cfg.Similarity, 0.75)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ElevenLabsClient{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type elevenLabsBody struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenVoiceSetting `json:"voice_settings"`
}

type elevenVoiceSetting struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (c *ElevenLabsClient) Synthesize(ctx context.Context, req SpeechRequest) (Audio, error) {
	if strings.TrimSpace(req.VoiceID) == "" {
		return Audio{}, fmt.Errorf("voice_id is required")
	}
	body, err := json.Marshal(elevenLabsBody{
		Text:    req.Text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: elevenVoiceSetting{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.Similarity,
		},
	})
	if err != nil {
		return Audio{}, err
	}

	u, err := url.Parse(c.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID))
	if err != nil {
		return Audio{}, err
	}
	q := u.Query()
	q.Set("output_format", c.cfg.OutputFormat)
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return Audio{}, err
	}
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("elevenlabs read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Audio{}, &ProviderError{Provider: catalog.ProviderElevenLabs, StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}
	return Audio{Data: data, Format: formatFromOutput(c.cfg.OutputFormat), Provider: catalog.ProviderElevenLabs}, nil
}

// formatFromOutput turns an ElevenLabs output_format such as mp3_44100_128
// into its container name. Raw PCM keeps its sample rate suffix.
func formatFromOutput(outputFormat string) string {
	head, _, _ := strings.Cut(outputFormat, "_")
	switch head {
	case "":
		return "mp3"
	case "pcm":
		return outputFormat
	default:
		return head
	}
}

func clampUnit(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	if v > 1 {
		return 1
	}
	return v
}
