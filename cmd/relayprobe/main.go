package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/voicerelay/internal/audio"
	"github.com/ent0n29/voicerelay/internal/protocol"
)

type options struct {
	baseURL     string
	sessions    int
	turns       int
	voice       string
	provider    string
	texts       []string
	wavPath     string
	chunkMS     int
	realtime    float64
	turnTimeout time.Duration
	verbose     bool
}

type wsEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Text      string `json:"text,omitempty"`
}

type turnResult struct {
	firstAudio time.Duration
	total      time.Duration
	err        error
}

type pcmClip struct {
	PCM16LE    []byte
	SampleRate int
}

var defaultUtterances = []string{
	"Hello, this is a relay latency probe.",
	"The quick brown fox jumps over the lazy dog.",
	"Testing one two three.",
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayprobe: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "relayprobe: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var cfg options
	var textsRaw string
	var turnTimeoutMS int

	fs.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voice relay base URL")
	fs.IntVar(&cfg.sessions, "sessions", 1, "number of concurrent websocket sessions")
	fs.IntVar(&cfg.turns, "turns", 3, "speak turns per session")
	fs.StringVar(&cfg.voice, "voice", "", "optional catalog voice for configure")
	fs.StringVar(&cfg.provider, "provider", "", "optional provider for configure")
	fs.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional)")
	fs.StringVar(&cfg.wavPath, "wav", "", "optional mono PCM16 WAV sent as raw audio frames after the speak turns")
	fs.IntVar(&cfg.chunkMS, "chunk-ms", 0, "audio frame size in milliseconds (0 sends the clip as one frame)")
	fs.Float64Var(&cfg.realtime, "realtime", 1.0, "frame pacing multiplier (1.0=realtime, 2.0=2x)")
	fs.IntVar(&turnTimeoutMS, "turn-timeout-ms", 15000, "timeout waiting for speaking_end per turn in milliseconds")
	fs.BoolVar(&cfg.verbose, "verbose", false, "print per-turn progress")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.sessions <= 0 {
		return options{}, fmt.Errorf("sessions must be > 0")
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS != 0 && (cfg.chunkMS < 10 || cfg.chunkMS > 2000) {
		return options{}, fmt.Errorf("chunk-ms must be 0 or in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if turnTimeoutMS < 1000 {
		turnTimeoutMS = 1000
	}
	cfg.turnTimeout = time.Duration(turnTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	wsURL, err := wsURLFor(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}

	var clip *pcmClip
	if cfg.wavPath != "" {
		data, err := os.ReadFile(cfg.wavPath)
		if err != nil {
			return fmt.Errorf("read wav: %w", err)
		}
		pcm, rate, err := audio.DecodeWAVPCM16LE(data)
		if err != nil {
			return fmt.Errorf("decode wav: %w", err)
		}
		clip = &pcmClip{PCM16LE: pcm, SampleRate: rate}
	}

	var (
		mu      sync.Mutex
		results []turnResult
		wg      sync.WaitGroup
	)
	for i := 0; i < cfg.sessions; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res := runSession(ctx, cfg, wsURL, n, clip)
			mu.Lock()
			results = append(results, res...)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sum := summarize(results)
	fmt.Printf("relayprobe: sessions=%d turns=%d ok=%d failed=%d\n", cfg.sessions, len(results), sum.ok, sum.failed)
	fmt.Printf("relayprobe: first_audio p50=%.1fms p95=%.1fms\n", sum.firstAudioP50, sum.firstAudioP95)
	fmt.Printf("relayprobe: turn_total  p50=%.1fms p95=%.1fms\n", sum.totalP50, sum.totalP95)
	if sum.ok == 0 {
		return errors.New("no turn completed")
	}
	return nil
}

func runSession(ctx context.Context, cfg options, wsURL string, n int, clip *pcmClip) []turnResult {
	fail := func(err error) []turnResult { return []turnResult{{err: err}} }

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fail(fmt.Errorf("session %d dial: %w", n, err))
	}
	defer conn.Close()

	events := make(chan wsEnvelope, 64)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readLoop(conn, events, readErr, done)

	hello, err := awaitType(events, readErr, cfg.turnTimeout, string(protocol.TypeConnected))
	if err != nil {
		return fail(fmt.Errorf("session %d connected: %w", n, err))
	}
	if cfg.verbose {
		fmt.Printf("relayprobe: session %d id=%s\n", n, hello.SessionID)
	}

	if cfg.voice != "" || cfg.provider != "" {
		if err := conn.WriteJSON(protocol.Configure{
			Type:     protocol.TypeConfigure,
			Voice:    cfg.voice,
			Provider: cfg.provider,
		}); err != nil {
			return fail(fmt.Errorf("session %d configure: %w", n, err))
		}
		if _, err := awaitType(events, readErr, cfg.turnTimeout, string(protocol.TypeConfigured)); err != nil {
			return fail(fmt.Errorf("session %d configured: %w", n, err))
		}
	}

	results := make([]turnResult, 0, cfg.turns)
	for i := 0; i < cfg.turns; i++ {
		text := cfg.texts[(n+i)%len(cfg.texts)]
		res := speakTurn(conn, events, readErr, text, cfg.turnTimeout)
		if cfg.verbose {
			fmt.Printf("relayprobe: session %d turn %d first_audio=%s total=%s err=%v\n", n, i+1, res.firstAudio, res.total, res.err)
		}
		results = append(results, res)
		if res.err != nil && errors.Is(res.err, errReadClosed) {
			return results
		}
	}

	if clip != nil {
		if err := streamFrames(conn, *clip, cfg.chunkMS, cfg.realtime); err != nil {
			fmt.Fprintf(os.Stderr, "relayprobe: session %d stream frames: %v\n", n, err)
		} else if ev, err := awaitType(events, readErr, cfg.turnTimeout, string(protocol.TypeTranscription)); err == nil && cfg.verbose {
			fmt.Printf("relayprobe: session %d transcription=%q\n", n, ev.Text)
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "probe done"),
		time.Now().Add(time.Second))
	return results
}

var errReadClosed = errors.New("websocket closed")

func speakTurn(conn *websocket.Conn, events <-chan wsEnvelope, readErr <-chan error, text string, timeout time.Duration) turnResult {
	started := time.Now()
	if err := conn.WriteJSON(protocol.Speak{Type: protocol.TypeSpeak, Text: text}); err != nil {
		return turnResult{err: fmt.Errorf("%w: %v", errReadClosed, err)}
	}

	var res turnResult
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			switch ev.Type {
			case string(protocol.TypeAudio):
				res.firstAudio = time.Since(started)
			case string(protocol.TypeError):
				res.err = fmt.Errorf("%s: %s", ev.Code, ev.Message)
			case string(protocol.TypeSpeakingEnd):
				res.total = time.Since(started)
				if res.err == nil && res.firstAudio == 0 {
					res.err = errors.New("speaking_end without audio")
				}
				return res
			}
		case err := <-readErr:
			return turnResult{err: fmt.Errorf("%w: %v", errReadClosed, err)}
		case <-timer.C:
			return turnResult{err: fmt.Errorf("timeout after %s", timeout)}
		}
	}
}

// streamFrames sends raw PCM as binary frames paced at the clip's sample rate.
// Without a realtime bridge each frame is transcribed on its own.
func streamFrames(conn *websocket.Conn, clip pcmClip, chunkMS int, realtime float64) error {
	chunk := frameBytes(clip.SampleRate, chunkMS)
	for off := 0; off < len(clip.PCM16LE); {
		end := off + min(chunk, len(clip.PCM16LE)-off)
		if err := conn.WriteMessage(websocket.BinaryMessage, clip.PCM16LE[off:end]); err != nil {
			return err
		}
		if chunkMS > 0 && clip.SampleRate > 0 {
			pause := time.Duration(float64(time.Duration(end-off)*time.Second/time.Duration(clip.SampleRate*2)) / realtime)
			time.Sleep(max(pause, time.Millisecond))
		}
		off = end
	}
	return nil
}

func frameBytes(sampleRate, chunkMS int) int {
	if chunkMS <= 0 {
		return math.MaxInt
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	n := sampleRate * 2 * chunkMS / 1000
	if n%2 != 0 {
		n++
	}
	return max(n, 2)
}

func wsURLFor(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	return u.String(), nil
}

func readLoop(conn *websocket.Conn, events chan<- wsEnvelope, readErr chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErr <- err:
			default:
			}
			return
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		select {
		case events <- env:
		case <-done:
			return
		}
	}
}

func awaitType(events <-chan wsEnvelope, readErr <-chan error, timeout time.Duration, want string) (wsEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev, nil
			}
			if ev.Type == string(protocol.TypeError) {
				return ev, fmt.Errorf("%s: %s", ev.Code, ev.Message)
			}
		case err := <-readErr:
			return wsEnvelope{}, err
		case <-timer.C:
			return wsEnvelope{}, fmt.Errorf("timeout waiting for %s", want)
		}
	}
}

type summary struct {
	ok, failed                   int
	firstAudioP50, firstAudioP95 float64
	totalP50, totalP95           float64
}

func summarize(results []turnResult) summary {
	var s summary
	var first, total []float64
	for _, r := range results {
		if r.err != nil {
			s.failed++
			continue
		}
		s.ok++
		first = append(first, float64(r.firstAudio)/float64(time.Millisecond))
		total = append(total, float64(r.total)/float64(time.Millisecond))
	}
	sort.Float64s(first)
	sort.Float64s(total)
	s.firstAudioP50, s.firstAudioP95 = percentile(first, 0.50), percentile(first, 0.95)
	s.totalP50, s.totalP95 = percentile(total, 0.50), percentile(total, 0.95)
	return s
}

// percentile uses nearest-rank on an ascending slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
