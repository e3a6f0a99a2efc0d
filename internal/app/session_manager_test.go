package app_test

import (
	"encoding/binary"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/dispatch"
	"github.com/MrWong99/parley/internal/session"
	sinkmock "github.com/MrWong99/parley/internal/sink/mock"
	"github.com/MrWong99/parley/pkg/audio"
	audiomock "github.com/MrWong99/parley/pkg/audio/mock"
	translatemock "github.com/MrWong99/parley/pkg/provider/translate/mock"
	"github.com/MrWong99/parley/pkg/types"
)

// loudFrame returns 20 ms of 48 kHz stereo PCM well above the voice gate.
func loudFrame() []byte {
	b := make([]byte, 960*2*2)
	for i := 0; i < len(b); i += 2 {
		binary.LittleEndian.PutUint16(b[i:], uint16(int16(1000)))
	}
	return b
}

func loudFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = loudFrame()
	}
	return frames
}

type harness struct {
	sm       *app.SessionManager
	registry *session.Registry
	platform *audiomock.Platform
	provider *translatemock.Provider
	sink     *sinkmock.Sink
}

func newHarness(t *testing.T, provider *translatemock.Provider, reconnects int, dopts ...dispatch.Option) *harness {
	t.Helper()
	h := &harness{
		registry: session.NewRegistry(),
		platform: &audiomock.Platform{},
		provider: provider,
		sink:     &sinkmock.Sink{},
	}
	d, err := dispatch.New(provider, append([]dispatch.Option{dispatch.WithRetryDelay(0)}, dopts...)...)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	sm, err := app.NewSessionManager(app.SessionManagerConfig{
		Platform:          h.platform,
		Registry:          h.registry,
		Dispatcher:        d,
		Sink:              h.sink,
		Gate:              audio.VoiceGate{Enabled: true, Threshold: audio.VoiceActivityThreshold},
		ReconnectAttempts: reconnects,
		ReconnectBackoff:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewSessionManager: %v", err)
	}
	h.sm = sm
	t.Cleanup(func() { _ = sm.Shutdown() })
	return h
}

func (h *harness) join(t *testing.T, guildID, lang string) *audiomock.Connection {
	t.Helper()
	if _, err := h.sm.Join(t.Context(), guildID, "voice-"+guildID, "text-"+guildID, lang); err != nil {
		t.Fatalf("Join: %v", err)
	}
	return h.platform.Last().(*audiomock.Connection)
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewSessionManager_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := app.NewSessionManager(app.SessionManagerConfig{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

func TestSessionManager_TranslatesPerSpeaker(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{Script: []translatemock.Step{
		translatemock.JSON("hello", "こんにちは", "en", 0.9),
	}}, 0)
	conn := h.join(t, "g1", "ja")

	conn.Speak("u1", "Alice", loudFrames(5)...)
	if !h.sink.WaitFor(1, 3*time.Second) {
		t.Fatal("first result not delivered")
	}
	conn.Speak("u2", "Bob", loudFrames(5)...)
	if !h.sink.WaitFor(2, 3*time.Second) {
		t.Fatal("second result not delivered")
	}

	got := h.sink.Deliveries()
	speakers := []string{got[0].Result.SpeakerID, got[1].Result.SpeakerID}
	slices.Sort(speakers)
	if !slices.Equal(speakers, []string{"u1", "u2"}) {
		t.Errorf("speakers = %v, want u1 and u2", speakers)
	}
	for _, d := range got {
		if d.ChannelID != "text-g1" {
			t.Errorf("ChannelID = %q, want text-g1", d.ChannelID)
		}
		r := d.Result
		if r.SessionID != "g1" || r.TargetLanguage != "ja" || r.Translation != "こんにちは" {
			t.Errorf("result = %+v", r)
		}
		if r.SourceLanguage != "en" || r.Degraded {
			t.Errorf("SourceLanguage/Degraded = %q/%v", r.SourceLanguage, r.Degraded)
		}
	}
	if got[0].Result.SpeakerID == "u1" && got[0].Result.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", got[0].Result.DisplayName)
	}

	for _, req := range h.provider.Requests() {
		// 5 frames of 960 stereo samples at 48 kHz become 1600 mono samples.
		if len(req.Audio) != 3200 || req.Format != audio.CanonicalFormat || req.TargetLanguage != "ja" {
			t.Errorf("request audio=%d format=%+v target=%q", len(req.Audio), req.Format, req.TargetLanguage)
		}
	}

	snap, ok := h.sm.Stats("g1")
	if !ok || snap.Delivered != 2 {
		t.Errorf("Stats = %+v/%v, want 2 delivered", snap, ok)
	}
}

func TestSessionManager_TargetLanguageCapturedAtFlush(t *testing.T) {
	t.Parallel()

	slow := translatemock.JSON("hello", "こんにちは", "en", 0.9)
	slow.Delay = 200 * time.Millisecond
	h := newHarness(t, &translatemock.Provider{Script: []translatemock.Step{
		slow,
		translatemock.JSON("hello", "안녕하세요", "en", 0.9),
	}}, 0)
	conn := h.join(t, "g1", "ja")

	conn.Speak("u1", "Alice", loudFrames(3)...)
	waitUntil(t, "first provider call", func() bool { return h.provider.CallCount() == 1 })

	if !h.sm.SetTargetLanguage("g1", "ko") {
		t.Fatal("SetTargetLanguage reported no session")
	}
	if !h.sink.WaitFor(1, 3*time.Second) {
		t.Fatal("first result not delivered")
	}
	if got := h.sink.Deliveries()[0].Result.TargetLanguage; got != "ja" {
		t.Errorf("in-flight utterance target = %q, want ja", got)
	}

	conn.Speak("u1", "Alice", loudFrames(3)...)
	if !h.sink.WaitFor(2, 3*time.Second) {
		t.Fatal("second result not delivered")
	}
	if got := h.sink.Deliveries()[1].Result.TargetLanguage; got != "ko" {
		t.Errorf("later utterance target = %q, want ko", got)
	}
	if got := h.provider.Requests()[1].TargetLanguage; got != "ko" {
		t.Errorf("second request target = %q, want ko", got)
	}
}

func TestSessionManager_SilenceNotDispatched(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	conn := h.join(t, "g1", "ja")

	conn.Speak("u1", "Alice", make([]byte, 3840), make([]byte, 3840))
	time.Sleep(100 * time.Millisecond)
	if n := h.provider.CallCount(); n != 0 {
		t.Errorf("provider calls = %d, want 0 for silence", n)
	}
}

func TestSessionManager_JoinTwice(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	h.join(t, "g1", "ja")

	_, err := h.sm.Join(t.Context(), "g1", "voice-2", "text-2", "en")
	if !errors.Is(err, session.ErrSessionExists) {
		t.Fatalf("err = %v, want ErrSessionExists", err)
	}
	if n := len(h.platform.Calls()); n != 1 {
		t.Errorf("Connect calls = %d, want 1", n)
	}
}

func TestSessionManager_ConnectError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	h.platform.ConnectError = errors.New("missing permissions")

	_, err := h.sm.Join(t.Context(), "g1", "v", "t", "ja")
	if !errors.Is(err, types.ErrVoiceChannel) {
		t.Fatalf("err = %v, want a voice channel error", err)
	}
	if h.registry.Exists("g1") {
		t.Error("session registered despite connect failure")
	}
}

func TestSessionManager_LeaveDiscardsInFlight(t *testing.T) {
	t.Parallel()

	blocked := translatemock.JSON("a", "b", "en", 1)
	blocked.Delay = 5 * time.Second
	h := newHarness(t, &translatemock.Provider{Script: []translatemock.Step{blocked}}, 0)
	conn := h.join(t, "g1", "ja")

	conn.Speak("u1", "Alice", loudFrames(3)...)
	waitUntil(t, "provider call", func() bool { return h.provider.CallCount() == 1 })

	start := time.Now()
	if err := h.sm.Leave("g1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if conn.Disconnects() != 1 {
		t.Errorf("Disconnect calls = %d, want 1", conn.Disconnects())
	}
	if h.registry.Exists("g1") {
		t.Error("session still registered after Leave")
	}
	if _, ok := h.sm.Stats("g1"); ok {
		t.Error("stats still reported after Leave")
	}

	time.Sleep(100 * time.Millisecond)
	if n := len(h.sink.Deliveries()); n != 0 {
		t.Errorf("deliveries after Leave = %d, want 0", n)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Leave took %v; in-flight call not cancelled", elapsed)
	}

	if err := h.sm.Leave("g1"); !errors.Is(err, app.ErrNotActive) {
		t.Errorf("second Leave err = %v, want ErrNotActive", err)
	}
}

func TestSessionManager_StatusTracksSpeakers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	conn := h.join(t, "g1", "ja")

	conn.Emit(audio.Event{Type: audio.EventSpeakingStart, SpeakerID: "u1", DisplayName: "Alice"})
	waitUntil(t, "active speaker", func() bool {
		st, _ := h.sm.Status("g1")
		return slices.Equal(st.ActiveSpeakers, []string{"u1"})
	})

	st, ok := h.sm.Status("g1")
	if !ok || st.SinkID != "text-g1" || st.VoiceChannelID != "voice-g1" || st.TargetLanguage != "ja" {
		t.Errorf("Status = %+v/%v", st, ok)
	}

	conn.Emit(audio.Event{Type: audio.EventSpeakingStop, SpeakerID: "u1"})
	waitUntil(t, "speaker stop", func() bool {
		st, _ := h.sm.Status("g1")
		return len(st.ActiveSpeakers) == 0
	})

	if _, ok := h.sm.Status("other"); ok {
		t.Error("Status reported an unknown guild")
	}
}

func TestSessionManager_DropClosesSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	conn := h.join(t, "g1", "ja")

	conn.Drop()
	waitUntil(t, "session close", func() bool { return !h.registry.Exists("g1") })
	if h.sm.Active() != 0 {
		t.Errorf("Active = %d, want 0", h.sm.Active())
	}
}

func TestSessionManager_DropReconnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{Script: []translatemock.Step{
		translatemock.JSON("hi", "やあ", "en", 0.8),
	}}, 2)
	first := h.join(t, "g1", "ja")

	first.Drop()
	waitUntil(t, "reconnect", func() bool { return len(h.platform.Calls()) == 2 })
	if !h.registry.Exists("g1") {
		t.Fatal("session closed despite successful reconnect")
	}
	calls := h.platform.Calls()
	if calls[1].GuildID != "g1" || calls[1].ChannelID != "voice-g1" {
		t.Errorf("reconnect call = %+v", calls[1])
	}

	second := h.platform.Last().(*audiomock.Connection)
	second.Speak("u1", "Alice", loudFrames(3)...)
	if !h.sink.WaitFor(1, 3*time.Second) {
		t.Fatal("no delivery after reconnect")
	}

	if err := h.sm.Leave("g1"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if second.Disconnects() != 1 {
		t.Errorf("new connection Disconnect calls = %d, want 1", second.Disconnects())
	}
}

func TestSessionManager_ReconnectGivesUp(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 1)
	conn := h.join(t, "g1", "ja")

	h.platform.ConnectError = errors.New("channel deleted")
	conn.Drop()
	waitUntil(t, "session close", func() bool { return !h.registry.Exists("g1") })
}

func TestSessionManager_FailedTranslationCounted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{Script: []translatemock.Step{
		{Err: errors.New("503")},
	}}, 0, dispatch.WithMaxRetries(2))
	conn := h.join(t, "g1", "ja")

	conn.Speak("u1", "Alice", loudFrames(3)...)
	waitUntil(t, "failure recorded", func() bool {
		snap, _ := h.sm.Stats("g1")
		return snap.Failed == 1
	})
	if n := h.provider.CallCount(); n != 2 {
		t.Errorf("provider calls = %d, want 2", n)
	}
	if n := len(h.sink.Deliveries()); n != 0 {
		t.Errorf("deliveries = %d, want 0", n)
	}
}

func TestSessionManager_SetTargetLanguageUnknown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	if h.sm.SetTargetLanguage("nope", "ko") {
		t.Error("SetTargetLanguage on unknown guild reported true")
	}
}

func TestSessionManager_ConcurrentJoinConnectsOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	entered := make(chan struct{})
	release := make(chan struct{})
	h.platform.NewConnection = func(_, channelID string) audio.Connection {
		close(entered)
		<-release
		return audiomock.NewConnection(channelID)
	}

	first := make(chan error, 1)
	go func() {
		_, err := h.sm.Join(t.Context(), "g1", "voice-1", "text-1", "ja")
		first <- err
	}()
	<-entered

	_, err := h.sm.Join(t.Context(), "g1", "voice-2", "text-2", "en")
	if !errors.Is(err, session.ErrSessionExists) {
		t.Errorf("second Join err = %v, want ErrSessionExists", err)
	}
	close(release)

	if err := <-first; err != nil {
		t.Fatalf("first Join: %v", err)
	}
	if n := len(h.platform.Calls()); n != 1 {
		t.Errorf("Connect calls = %d, want 1", n)
	}
	if conn := h.platform.Last().(*audiomock.Connection); conn.Disconnects() != 0 {
		t.Errorf("winning connection disconnected %d times", conn.Disconnects())
	}
}

func TestSessionManager_JoinAfterFailedConnect(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{}, 0)
	h.platform.ConnectError = errors.New("timeout")
	if _, err := h.sm.Join(t.Context(), "g1", "v", "t", "ja"); err == nil {
		t.Fatal("expected connect error")
	}

	h.platform.ConnectError = nil
	h.join(t, "g1", "ja")
}

func TestSessionManager_DropsFramesWithUnexpectedFormat(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &translatemock.Provider{Script: []translatemock.Step{
		translatemock.JSON("hi", "やあ", "en", 0.9),
	}}, 0)
	conn := h.join(t, "g1", "ja")

	conn.Emit(audio.Event{Type: audio.EventSpeakingStart, SpeakerID: "u1", DisplayName: "Alice"})
	for _, f := range loudFrames(10) {
		conn.Emit(audio.Event{
			Type:      audio.EventFrame,
			SpeakerID: "u1",
			Frame:     audio.AudioFrame{Data: f, SampleRate: 48000, Channels: 1},
		})
	}
	conn.Emit(audio.Event{Type: audio.EventSpeakingStop, SpeakerID: "u1"})

	conn.Speak("u2", "Bob", loudFrames(10)...)
	if !h.sink.WaitFor(1, 3*time.Second) {
		t.Fatal("timed out waiting for Bob's translation")
	}
	time.Sleep(50 * time.Millisecond)

	if n := h.provider.CallCount(); n != 1 {
		t.Fatalf("provider calls = %d, want 1 (mono frames dropped)", n)
	}
	if got := h.sink.Deliveries()[0].Result.SpeakerID; got != "u2" {
		t.Errorf("translated speaker = %q, want u2", got)
	}
}
