package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/voicerelay/internal/catalog"
	"github.com/ent0n29/voicerelay/internal/clientctx"
	"github.com/ent0n29/voicerelay/internal/observability"
	"github.com/ent0n29/voicerelay/internal/protocol"
	"github.com/ent0n29/voicerelay/internal/realtime"
	"github.com/ent0n29/voicerelay/internal/session"
	"github.com/ent0n29/voicerelay/internal/voice"
)

type synthCall struct {
	text, voiceID, provider string
}

type fakeSynth struct {
	mu    sync.Mutex
	calls []synthCall
	err   error
}

func (f *fakeSynth) Synthesize(_ context.Context, text, voiceID, provider string) (voice.Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, synthCall{text: text, voiceID: voiceID, provider: provider})
	if f.err != nil {
		return voice.Audio{}, f.err
	}
	return voice.Audio{Data: []byte("pcm:" + text), Format: "mp3", Provider: "openai", VoiceID: voiceID}, nil
}

func (f *fakeSynth) Calls() []synthCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]synthCall(nil), f.calls...)
}

type fakeTranscriber struct {
	text string
}

func (f fakeTranscriber) Transcribe(context.Context, []byte) string { return f.text }

type fakeBridge struct {
	mu      sync.Mutex
	sent    []realtime.ClientEvent
	handler realtime.Handler
	sendErr error
	closed  bool
	started chan struct{}
	once    sync.Once
}

func (b *fakeBridge) Send(_ context.Context, ev realtime.ClientEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return realtime.ErrClosed
	}
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, ev)
	return nil
}

func (b *fakeBridge) Start() {
	b.once.Do(func() { close(b.started) })
}

// Close mirrors realtime.Conn: the handler sees Closed exactly once.
func (b *fakeBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	b.handler(realtime.Closed{})
	return nil
}

func (b *fakeBridge) emit(ev realtime.Event) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if !closed {
		b.handler(ev)
	}
}

func (b *fakeBridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *fakeBridge) Sent() []realtime.ClientEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]realtime.ClientEvent(nil), b.sent...)
}

type fakeDialer struct {
	available bool
	err       error
	dials     chan *fakeBridge

	mu      sync.Mutex
	configs []realtime.SessionConfig
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{available: true, dials: make(chan *fakeBridge, 8)}
}

func (d *fakeDialer) Available() bool { return d.available }

func (d *fakeDialer) Dial(_ context.Context, sc realtime.SessionConfig, h realtime.Handler) (Bridge, error) {
	d.mu.Lock()
	d.configs = append(d.configs, sc)
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	b := &fakeBridge{handler: h, started: make(chan struct{})}
	d.dials <- b
	return b, nil
}

func (d *fakeDialer) lastConfig() realtime.SessionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configs[len(d.configs)-1]
}

type harness struct {
	t        *testing.T
	sess     *session.Session
	inbound  chan protocol.ClientMessage
	outbound chan protocol.ServerMessage
	synth    *fakeSynth
	dialer   *fakeDialer
	cancel   context.CancelFunc
	done     chan error
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	registry := session.NewRegistry(session.RegistryConfig{
		DefaultVoice:    "alloy",
		DefaultProvider: catalog.ProviderOpenAI,
	}, nil)
	h := &harness{
		t:        t,
		sess:     registry.Create(nil),
		inbound:  make(chan protocol.ClientMessage, 16),
		outbound: make(chan protocol.ServerMessage, 64),
		synth:    &fakeSynth{},
		dialer:   newFakeDialer(),
		done:     make(chan error, 1),
	}
	deps := Deps{
		Synthesizer: h.synth,
		Transcriber: fakeTranscriber{},
		Bridges:     h.dialer,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	handler := NewHandler(Config{}, deps)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- handler.RunConnection(ctx, h.sess, h.inbound, h.outbound)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	connected := expectType[protocol.Connected](t, h)
	if connected.SessionID != h.sess.ID {
		t.Fatalf("connected session id = %q, want %q", connected.SessionID, h.sess.ID)
	}
	return h
}

func (h *harness) send(msg protocol.ClientMessage) {
	h.inbound <- msg
}

func (h *harness) next() protocol.ServerMessage {
	h.t.Helper()
	select {
	case msg := <-h.outbound:
		return msg
	case <-time.After(2 * time.Second):
		h.t.Fatalf("timed out waiting for outbound message")
		return nil
	}
}

func (h *harness) expectNone() {
	h.t.Helper()
	select {
	case msg := <-h.outbound:
		h.t.Fatalf("unexpected outbound message %T %+v", msg, msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// startBridge runs start_realtime and delivers session.created.
func (h *harness) startBridge() *fakeBridge {
	h.t.Helper()
	h.send(protocol.StartRealtime{Type: protocol.TypeStartRealtime})
	var b *fakeBridge
	select {
	case b = <-h.dialer.dials:
	case <-time.After(2 * time.Second):
		h.t.Fatalf("bridge was not dialed")
	}
	<-b.started
	b.emit(realtime.SessionCreated{})
	expectType[protocol.RealtimeStarted](h.t, h)
	return b
}

func expectType[T protocol.ServerMessage](t *testing.T, h *harness) T {
	t.Helper()
	msg := h.next()
	got, ok := msg.(T)
	if !ok {
		var want T
		t.Fatalf("outbound = %T %+v, want %T", msg, msg, want)
	}
	return got
}

func expectError(t *testing.T, h *harness, code string) protocol.Error {
	t.Helper()
	e := expectType[protocol.Error](t, h)
	if e.Code != code {
		t.Fatalf("error code = %q (%s), want %q", e.Code, e.Message, code)
	}
	return e
}

func boolPtr(v bool) *bool    { return &v }
func strPtr(v string) *string { return &v }

func TestConnectedAdvertisesCatalog(t *testing.T) {
	registry := session.NewRegistry(session.RegistryConfig{}, nil)
	sess := registry.Create(nil)
	inbound := make(chan protocol.ClientMessage)
	outbound := make(chan protocol.ServerMessage, 4)
	handler := NewHandler(Config{}, Deps{})

	done := make(chan error, 1)
	go func() { done <- handler.RunConnection(context.Background(), sess, inbound, outbound) }()

	msg := <-outbound
	connected, ok := msg.(protocol.Connected)
	if !ok {
		t.Fatalf("first message = %T, want Connected", msg)
	}
	if len(connected.Voices) != len(catalog.Voices()) {
		t.Fatalf("voices = %d, want %d", len(connected.Voices), len(catalog.Voices()))
	}
	if connected.Config.BargeInEnabled || connected.Config.RealtimeActive {
		t.Fatalf("fresh session config = %+v", connected.Config)
	}

	close(inbound)
	if err := <-done; err != nil {
		t.Fatalf("RunConnection() error = %v", err)
	}
}

func TestConfigureVoiceThenSpeak(t *testing.T) {
	openai := voice.NewMockSpeechClient(catalog.ProviderOpenAI)
	synth := voice.NewSynthesizer(voice.SynthesizerConfig{
		DefaultProvider: catalog.ProviderOpenAI,
		DefaultVoice:    "alloy",
	}, map[string]voice.SpeechClient{catalog.ProviderOpenAI: openai}, nil, nil)
	h := newHarness(t, func(d *Deps) { d.Synthesizer = synth })

	h.send(protocol.Configure{Type: protocol.TypeConfigure, Voice: "nova"})
	configured := expectType[protocol.Configured](t, h)
	if configured.Config.Voice != "nova" || configured.Config.Provider != catalog.ProviderOpenAI {
		t.Fatalf("configured = %+v", configured.Config)
	}

	h.send(protocol.Speak{Type: protocol.TypeSpeak, Text: "Hello"})
	start := expectType[protocol.SpeakingStart](t, h)
	if start.Text != "Hello" {
		t.Fatalf("speaking_start text = %q", start.Text)
	}
	audio := expectType[protocol.Audio](t, h)
	data, err := base64.StdEncoding.DecodeString(audio.Audio)
	if err != nil {
		t.Fatalf("audio is not base64: %v", err)
	}
	if string(data) != "mock:nova:Hello" || audio.Format != "mp3" || audio.Text != "Hello" {
		t.Fatalf("audio = %q format=%q text=%q", data, audio.Format, audio.Text)
	}
	expectType[protocol.SpeakingEnd](t, h)

	calls := openai.Calls()
	if len(calls) != 1 || calls[0].VoiceID != "nova" {
		t.Fatalf("provider calls = %+v", calls)
	}
	if h.sess.Snapshot().CurrentlyPlaying {
		t.Fatalf("playing should be false after speak")
	}
}

func TestSpeakEmptyTextStillBracketed(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.Speak{Type: protocol.TypeSpeak, Text: "   "})
	expectType[protocol.SpeakingStart](t, h)
	expectError(t, h, protocol.CodeEmptyText)
	expectType[protocol.SpeakingEnd](t, h)

	if calls := h.synth.Calls(); len(calls) != 0 {
		t.Fatalf("synth calls = %+v, want none", calls)
	}
}

func TestSpeakErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{err: fmt.Errorf("%w: elevenlabs", voice.ErrProviderUnavailable), code: protocol.CodeProviderUnavailable},
		{err: errors.New("openai synthesize: status 500"), code: protocol.CodeSynthesisFailed},
	}
	for _, tc := range cases {
		h := newHarness(t)
		h.synth.err = tc.err

		h.send(protocol.Speak{Type: protocol.TypeSpeak, Text: "hi"})
		expectType[protocol.SpeakingStart](t, h)
		expectError(t, h, tc.code)
		expectType[protocol.SpeakingEnd](t, h)
	}
}

func TestSpeakPerRequestVoiceOverridesSession(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.Speak{Type: protocol.TypeSpeak, Text: "hi", Voice: "rachel"})
	expectType[protocol.SpeakingStart](t, h)
	expectType[protocol.Audio](t, h)
	expectType[protocol.SpeakingEnd](t, h)

	h.send(protocol.Speak{Type: protocol.TypeSpeak, Text: "again", Voice: "unknown"})
	expectType[protocol.SpeakingStart](t, h)
	expectType[protocol.Audio](t, h)
	expectType[protocol.SpeakingEnd](t, h)

	calls := h.synth.Calls()
	want := []synthCall{
		{text: "hi", voiceID: "rachel", provider: ""},
		{text: "again", voiceID: "alloy", provider: catalog.ProviderOpenAI},
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %+v", calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("call %d = %+v, want %+v", i, calls[i], want[i])
		}
	}
}

func TestConfigureIgnoresUnknownValues(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.Configure{Type: protocol.TypeConfigure, Voice: "robot", Provider: "acme"})
	cfg := expectType[protocol.Configured](t, h).Config
	if cfg.Voice != "alloy" || cfg.Provider != catalog.ProviderOpenAI {
		t.Fatalf("config = %+v, want defaults", cfg)
	}

	h.send(protocol.Configure{Type: protocol.TypeConfigure, Voice: "rachel", Provider: "OpenAI"})
	cfg = expectType[protocol.Configured](t, h).Config
	if cfg.Voice != "rachel" || cfg.Provider != catalog.ProviderOpenAI {
		t.Fatalf("explicit provider should win, config = %+v", cfg)
	}
}

func TestConfigureBargeInNeedsBridge(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.Configure{Type: protocol.TypeConfigure, BargeIn: boolPtr(true)})
	if cfg := expectType[protocol.Configured](t, h).Config; cfg.BargeInEnabled {
		t.Fatalf("barge-in enabled without a bridge")
	}

	h.startBridge()
	h.send(protocol.Configure{Type: protocol.TypeConfigure, BargeIn: boolPtr(false)})
	if cfg := expectType[protocol.Configured](t, h).Config; cfg.BargeInEnabled || !cfg.RealtimeActive {
		t.Fatalf("config = %+v, want barge-in off with bridge active", cfg)
	}
	h.send(protocol.Configure{Type: protocol.TypeConfigure, BargeIn: boolPtr(true)})
	if cfg := expectType[protocol.Configured](t, h).Config; !cfg.BargeInEnabled {
		t.Fatalf("barge-in should be re-enabled while bridge is active")
	}
}

func TestStartRealtimeUnavailable(t *testing.T) {
	h := newHarness(t)
	h.dialer.available = false

	h.send(protocol.StartRealtime{Type: protocol.TypeStartRealtime})
	expectError(t, h, protocol.CodeRealtimeUnavailable)

	state := h.sess.Snapshot()
	if state.BargeInEnabled || state.RealtimeActive {
		t.Fatalf("state = %+v, want no bridge and barge-in off", state)
	}
}

func TestStartRealtimeDialFailure(t *testing.T) {
	hooks := observability.NewHooks()
	var mu sync.Mutex
	var kinds []observability.EventKind
	hooks.Subscribe(func(ev observability.LifecycleEvent) {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
	})
	h := newHarness(t, func(d *Deps) { d.Hooks = hooks })
	h.dialer.err = errors.New("dial upstream: 401")

	h.send(protocol.StartRealtime{Type: protocol.TypeStartRealtime})
	expectError(t, h, protocol.CodeRealtimeConnect)

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) != 1 || kinds[0] != observability.EventBridgeFailed {
		t.Fatalf("hook events = %v", kinds)
	}
}

func TestRealtimeEventsAreRelayed(t *testing.T) {
	h := newHarness(t)
	b := h.startBridge()

	if !h.sess.Snapshot().BargeInEnabled {
		t.Fatalf("barge-in should be enabled once the bridge is up")
	}

	b.emit(realtime.SpeechStarted{})
	expectType[protocol.UserSpeechStarted](t, h)
	b.emit(realtime.SpeechStopped{})
	expectType[protocol.UserSpeechStopped](t, h)
	b.emit(realtime.InputTranscriptionCompleted{Transcript: "how are you"})
	if got := expectType[protocol.Transcription](t, h); got.Text != "how are you" {
		t.Fatalf("transcription = %q", got.Text)
	}
	b.emit(realtime.AudioDelta{Delta: "AAEC"})
	if got := expectType[protocol.AudioDelta](t, h); got.Delta != "AAEC" {
		t.Fatalf("audio delta = %q", got.Delta)
	}
	if !h.sess.Snapshot().CurrentlyPlaying {
		t.Fatalf("playing should be true while audio streams")
	}
	b.emit(realtime.TranscriptDelta{Delta: "I am "})
	expectType[protocol.ResponseTextDelta](t, h)
	b.emit(realtime.TranscriptDone{Transcript: "I am fine"})
	if got := expectType[protocol.ResponseTextDone](t, h); got.Text != "I am fine" {
		t.Fatalf("text done = %q", got.Text)
	}
	b.emit(realtime.AudioDone{})
	expectType[protocol.AudioDone](t, h)
	b.emit(realtime.ResponseDone{})
	expectType[protocol.ResponseComplete](t, h)
	if h.sess.Snapshot().CurrentlyPlaying {
		t.Fatalf("playing should be false after response.done")
	}
	b.emit(realtime.ErrorEvent{Code: "rate_limit_exceeded", Message: "slow down"})
	expectError(t, h, "rate_limit_exceeded")
	b.emit(realtime.Unhandled{Type: "rate_limits.updated"})
	h.expectNone()
}

func TestStartRealtimeTwiceReplacesBridge(t *testing.T) {
	h := newHarness(t)
	first := h.startBridge()

	h.send(protocol.StartRealtime{Type: protocol.TypeStartRealtime})
	expectType[protocol.RealtimeStopped](t, h)
	second := <-h.dialer.dials
	<-second.started

	if !first.isClosed() {
		t.Fatalf("first bridge should be closed")
	}
	if second.isClosed() {
		t.Fatalf("second bridge should stay open")
	}
	if activeBridge(h.sess) != Bridge(second) {
		t.Fatalf("session bridge is not the second bridge")
	}

	second.emit(realtime.SessionCreated{})
	expectType[protocol.RealtimeStarted](t, h)
}

func TestUpstreamCloseDetachesBridge(t *testing.T) {
	h := newHarness(t)
	b := h.startBridge()

	_ = b.Close()
	expectType[protocol.RealtimeStopped](t, h)

	state := h.sess.Snapshot()
	if state.RealtimeActive || state.BargeInEnabled {
		t.Fatalf("state after upstream close = %+v", state)
	}
}

func TestInterrupt(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.Interrupt{Type: protocol.TypeInterrupt})
	expectError(t, h, protocol.CodeBargeInDisabled)

	b := h.startBridge()
	b.emit(realtime.AudioDelta{Delta: "AA=="})
	expectType[protocol.AudioDelta](t, h)

	h.send(protocol.Interrupt{Type: protocol.TypeInterrupt})
	expectType[protocol.Interrupted](t, h)

	sent := b.Sent()
	if len(sent) != 1 {
		t.Fatalf("bridge events = %+v", sent)
	}
	if _, ok := sent[0].(realtime.CancelResponse); !ok {
		t.Fatalf("bridge event = %T, want CancelResponse", sent[0])
	}
	if h.sess.Snapshot().CurrentlyPlaying {
		t.Fatalf("playing should be cleared by interrupt")
	}
}

func TestInterruptWithBargeInDisabledKeepsPlayback(t *testing.T) {
	h := newHarness(t)
	b := h.startBridge()
	b.emit(realtime.AudioDelta{Delta: "AA=="})
	expectType[protocol.AudioDelta](t, h)

	h.send(protocol.Configure{Type: protocol.TypeConfigure, BargeIn: boolPtr(false)})
	if cfg := expectType[protocol.Configured](t, h).Config; cfg.BargeInEnabled || !cfg.RealtimeActive {
		t.Fatalf("config = %+v, want barge-in off with bridge active", cfg)
	}
	if !h.sess.Snapshot().CurrentlyPlaying {
		t.Fatalf("playing should survive configure")
	}

	h.send(protocol.Interrupt{Type: protocol.TypeInterrupt})
	expectError(t, h, protocol.CodeBargeInDisabled)
	h.expectNone()

	if sent := b.Sent(); len(sent) != 0 {
		t.Fatalf("bridge events = %+v, want no cancel", sent)
	}
	if !h.sess.Snapshot().CurrentlyPlaying {
		t.Fatalf("refused interrupt should not clear playback")
	}
}

func TestStopRealtime(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.StopRealtime{Type: protocol.TypeStopRealtime})
	expectType[protocol.RealtimeStopped](t, h)

	b := h.startBridge()
	h.send(protocol.StopRealtime{Type: protocol.TypeStopRealtime})
	expectType[protocol.RealtimeStopped](t, h)
	h.expectNone()

	if !b.isClosed() {
		t.Fatalf("bridge should be closed")
	}
	if h.sess.Snapshot().BargeInEnabled {
		t.Fatalf("barge-in should be off after stop")
	}

	b.emit(realtime.AudioDelta{Delta: "AA=="})
	h.send(protocol.CommitAudio{Type: protocol.TypeCommitAudio})
	expectError(t, h, protocol.CodeRealtimeInactive)
}

func TestEventsFromDetachedBridgeAreDropped(t *testing.T) {
	h := newHarness(t)
	h.send(protocol.StartRealtime{Type: protocol.TypeStartRealtime})
	b := <-h.dialer.dials
	<-b.started

	// stop_realtime detaches before it closes; upstream may still deliver
	// events in between.
	if _, ok := h.sess.DetachBridge(nil); !ok {
		t.Fatalf("bridge was not attached")
	}
	b.emit(realtime.SessionCreated{})
	b.emit(realtime.AudioDelta{Delta: "AA=="})
	_ = b.Close()

	expectType[protocol.RealtimeStopped](t, h)
	h.expectNone()

	state := h.sess.Snapshot()
	if state.BargeInEnabled || state.CurrentlyPlaying || state.RealtimeActive {
		t.Fatalf("state after stop = %+v, want everything off", state)
	}
}

func TestAudioForwarding(t *testing.T) {
	h := newHarness(t)

	h.send(protocol.AudioAppend{Type: protocol.TypeAudioAppend, Audio: "AQID"})
	expectError(t, h, protocol.CodeRealtimeInactive)

	b := h.startBridge()
	h.send(protocol.AudioAppend{Type: protocol.TypeAudioAppend, Audio: "not base64!"})
	expectError(t, h, protocol.CodeInvalidAudio)

	h.send(protocol.AudioAppend{Type: protocol.TypeAudioAppend, Audio: "AQID"})
	h.send(protocol.AudioFrame{Data: []byte{9, 9}})
	h.send(protocol.CommitAudio{Type: protocol.TypeCommitAudio})
	h.send(protocol.Configure{Type: protocol.TypeConfigure})
	expectType[protocol.Configured](t, h)

	sent := b.Sent()
	if len(sent) != 3 {
		t.Fatalf("bridge events = %+v", sent)
	}
	if a, ok := sent[0].(realtime.AppendAudio); !ok || string(a.Audio) != "\x01\x02\x03" {
		t.Fatalf("first event = %+v", sent[0])
	}
	if a, ok := sent[1].(realtime.AppendAudio); !ok || string(a.Audio) != "\x09\x09" {
		t.Fatalf("second event = %+v", sent[1])
	}
	if _, ok := sent[2].(realtime.CommitAudio); !ok {
		t.Fatalf("third event = %T", sent[2])
	}
}

func TestBridgeSendFailureTearsDown(t *testing.T) {
	h := newHarness(t)
	b := h.startBridge()
	b.mu.Lock()
	b.sendErr = errors.New("broken pipe")
	b.mu.Unlock()

	h.send(protocol.CommitAudio{Type: protocol.TypeCommitAudio})
	expectError(t, h, protocol.CodeRealtimeSend)
	expectType[protocol.RealtimeStopped](t, h)

	if h.sess.Snapshot().RealtimeActive {
		t.Fatalf("bridge should be detached after send failure")
	}
}

func TestAudioFrameTranscribesWithoutBridge(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Transcriber = fakeTranscriber{text: "simulated voice input"} })

	h.send(protocol.AudioFrame{Data: []byte{0x1a, 0x45, 0xdf, 0xa3}})
	if got := expectType[protocol.Transcription](t, h); got.Text != "simulated voice input" {
		t.Fatalf("transcription = %q", got.Text)
	}
}

func TestStartRealtimeUsesSessionContext(t *testing.T) {
	static := clientctx.NewStaticSource()
	static.Put(clientctx.Reference{ClientRef: "client-7"}, "Prefers short answers.")
	h := newHarness(t, func(d *Deps) { d.Contexts = static })

	h.send(protocol.Configure{
		Type:      protocol.TypeConfigure,
		Voice:     "shimmer",
		ClientRef: strPtr("client-7"),
		Context:   strPtr("Talked about sleep."),
	})
	expectType[protocol.Configured](t, h)
	h.startBridge()

	sc := h.dialer.lastConfig()
	if sc.Voice != "shimmer" {
		t.Fatalf("realtime voice = %q, want shimmer", sc.Voice)
	}
	for _, want := range []string{"client-7", "Talked about sleep.", "Prefers short answers."} {
		if !strings.Contains(sc.Instructions, want) {
			t.Fatalf("instructions missing %q:\n%s", want, sc.Instructions)
		}
	}
}

func TestRunConnectionClosesBridgeOnExit(t *testing.T) {
	h := newHarness(t)
	b := h.startBridge()

	close(h.inbound)
	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("RunConnection() error = %v", err)
		}
		h.done <- nil
	case <-time.After(2 * time.Second):
		t.Fatalf("RunConnection did not return")
	}
	if !b.isClosed() {
		t.Fatalf("bridge should be closed when the connection ends")
	}
}
