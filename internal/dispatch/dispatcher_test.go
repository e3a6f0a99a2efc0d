package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/translate"
	"github.com/MrWong99/parley/pkg/provider/translate/mock"
	"github.com/MrWong99/parley/pkg/types"
)

var errUpstream = errors.New("upstream 503")

// utterance builds a valid utterance whose first payload byte is marker.
func utterance(t *testing.T, speakerID string, marker byte) types.Utterance {
	t.Helper()
	pcm := make([]byte, 320)
	pcm[0] = marker
	u, err := types.NewUtterance("session-a", speakerID, "name-"+speakerID, pcm,
		time.Unix(1700000000, 0), "ja", "en")
	if err != nil {
		t.Fatalf("NewUtterance: %v", err)
	}
	return u
}

func newDispatcher(t *testing.T, p translate.Provider, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{WithRetryDelay(0)}, opts...)
	d, err := New(p, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()

	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	d, _ := New(&mock.Provider{}, WithMaxRetries(0), WithRetryDelay(-time.Second))
	n, delay := d.RetryPolicy()
	if n != DefaultMaxRetries || delay != DefaultRetryDelay {
		t.Errorf("policy = %d/%v, want %d/%v", n, delay, DefaultMaxRetries, DefaultRetryDelay)
	}
}

func TestTranslate_EmptyPayloadFailsWithoutCall(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{mock.JSON("a", "b", "ja", 1)}}
	d := newDispatcher(t, p)

	_, err := d.Translate(context.Background(), types.Utterance{SpeakerID: "u1", TargetLanguage: "en"})
	if !errors.Is(err, types.ErrTranslation) || !errors.Is(err, types.ErrEmptyUtterance) {
		t.Fatalf("err = %v, want empty utterance translation error", err)
	}
	if p.CallCount() != 0 {
		t.Errorf("provider called %d times, want 0", p.CallCount())
	}
}

func TestTranslate_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{
		{Err: errUpstream},
		{Err: errUpstream},
		mock.JSON("こんにちは", "Hello", "ja", 0.9),
	}}
	d := newDispatcher(t, p, WithMaxRetries(3))

	res, err := d.Translate(context.Background(), utterance(t, "u1", 1))
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if p.CallCount() != 3 {
		t.Errorf("provider called %d times, want 3", p.CallCount())
	}
	if res.Transcript != "こんにちは" || res.Translation != "Hello" || res.SourceLanguage != "ja" {
		t.Errorf("result = %+v", res)
	}
	if res.Confidence == nil || *res.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", res.Confidence)
	}
	if res.SpeakerID != "u1" || res.DisplayName != "name-u1" || res.TargetLanguage != "en" || res.SessionID != "session-a" {
		t.Errorf("identity = %+v", res)
	}
	if !res.CapturedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("CapturedAt = %v", res.CapturedAt)
	}
}

func TestTranslate_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{{Err: errUpstream}}}
	d := newDispatcher(t, p, WithMaxRetries(2))

	_, err := d.Translate(context.Background(), utterance(t, "u1", 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, types.ErrTranslation) || !errors.Is(err, errUpstream) {
		t.Errorf("err = %v, want translation error wrapping the last upstream error", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2", p.CallCount())
	}
}

func TestTranslate_FixedDelayBetweenAttempts(t *testing.T) {
	t.Parallel()

	const delay = 40 * time.Millisecond
	p := &mock.Provider{Script: []mock.Step{{Err: errUpstream}, {Err: errUpstream}, mock.JSON("a", "b", "ja", 1)}}
	d := newDispatcher(t, p, WithRetryDelay(delay))

	if _, err := d.Translate(context.Background(), utterance(t, "u1", 1)); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	for i := 1; i < len(p.Calls); i++ {
		if gap := p.Calls[i].At.Sub(p.Calls[i-1].At); gap < delay {
			t.Errorf("gap before attempt %d = %v, want >= %v", i+1, gap, delay)
		}
	}
}

func TestTranslate_CancelAbortsRetryWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := &mock.Provider{TranslateFunc: func(context.Context, translate.Request) (translate.Response, error) {
		cancel()
		return translate.Response{}, errUpstream
	}}
	d := newDispatcher(t, p, WithRetryDelay(10*time.Second))

	start := time.Now()
	_, err := d.Translate(ctx, utterance(t, "u1", 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not abort the retry wait")
	}
	if p.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.CallCount())
	}
}

func TestTranslate_NoSpeechIsNotRetried(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{{Err: translate.ErrNoSpeech}}}
	d := newDispatcher(t, p)

	_, err := d.Translate(context.Background(), utterance(t, "u1", 1))
	if !errors.Is(err, translate.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if p.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.CallCount())
	}
}

func TestTranslate_UnparseableAnswerIsDegraded(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		declared string
		wantLang string
	}{
		{name: "declared language", declared: "ja", wantLang: "ja"},
		{name: "no language", declared: "", wantLang: translate.UnknownLanguage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &mock.Provider{Script: []mock.Step{{Response: translate.Response{Raw: " Sorry, I could not do that. "}}}}
			d := newDispatcher(t, p)
			u := utterance(t, "u1", 1)
			u.SourceLanguage = tc.declared

			res, err := d.Translate(context.Background(), u)
			if err != nil {
				t.Fatalf("Translate: %v", err)
			}
			if !res.Degraded {
				t.Error("expected degraded result")
			}
			if res.Transcript != "Sorry, I could not do that." || res.Translation != res.Transcript {
				t.Errorf("texts = %q / %q", res.Transcript, res.Translation)
			}
			if res.SourceLanguage != tc.wantLang {
				t.Errorf("SourceLanguage = %q, want %q", res.SourceLanguage, tc.wantLang)
			}
			if res.Confidence == nil || *res.Confidence != translate.FallbackConfidence {
				t.Errorf("Confidence = %v, want %v", res.Confidence, translate.FallbackConfidence)
			}
			if p.CallCount() != 1 {
				t.Errorf("degraded answer must not be retried, calls = %d", p.CallCount())
			}
		})
	}
}

func TestTranslate_EmptyAnswerIsRetried(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{{Response: translate.Response{Raw: "  "}}, mock.JSON("a", "b", "ja", 1)}}
	d := newDispatcher(t, p)

	if _, err := d.Translate(context.Background(), utterance(t, "u1", 1)); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2", p.CallCount())
	}
}

func TestTranslate_StructuredAnswerUsedDirectly(t *testing.T) {
	t.Parallel()

	conf := 1.7
	p := &mock.Provider{Script: []mock.Step{{Response: translate.Response{
		Raw:    "not json",
		Parsed: &translate.Parsed{Transcript: "hola", Translation: "hello", Confidence: &conf},
	}}}}
	d := newDispatcher(t, p)
	u := utterance(t, "u1", 1)
	u.SourceLanguage = "es"

	res, err := d.Translate(context.Background(), u)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if res.Degraded || res.Translation != "hello" || res.SourceLanguage != "es" {
		t.Errorf("result = %+v", res)
	}
	if res.Confidence == nil || *res.Confidence != 1 {
		t.Errorf("Confidence = %v, want clamped 1", res.Confidence)
	}
}

func TestTranslate_RequestShape(t *testing.T) {
	t.Parallel()

	for _, auto := range []bool{false, true} {
		p := &mock.Provider{Script: []mock.Step{mock.JSON("a", "b", "ja", 1)}}
		d := newDispatcher(t, p, WithAutoDetect(auto))
		u := utterance(t, "u1", 7)

		if _, err := d.Translate(context.Background(), u); err != nil {
			t.Fatalf("Translate: %v", err)
		}
		req := p.Requests()[0]
		if req.Format != audio.CanonicalFormat || req.TargetLanguage != "en" || req.Audio[0] != 7 {
			t.Errorf("auto=%v: request = %+v", auto, req)
		}
		wantSource := "ja"
		if auto {
			wantSource = ""
		}
		if req.SourceLanguage != wantSource {
			t.Errorf("auto=%v: SourceLanguage = %q, want %q", auto, req.SourceLanguage, wantSource)
		}
	}
}

func TestTranslate_RequestTimeoutPerAttempt(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{{Delay: time.Second, Response: mock.JSON("a", "b", "ja", 1).Response}, mock.JSON("a", "b", "ja", 1)}}
	d := newDispatcher(t, p, WithRequestTimeout(20*time.Millisecond))

	if _, err := d.Translate(context.Background(), utterance(t, "u1", 1)); err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if p.CallCount() != 2 {
		t.Errorf("provider called %d times, want 2 (first attempt timed out)", p.CallCount())
	}
}

func TestSetRetryPolicy(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{{Err: errUpstream}}}
	d := newDispatcher(t, p, WithMaxRetries(5))
	d.SetRetryPolicy(1, 0)
	d.SetRetryPolicy(0, -1) // ignored

	if _, err := d.Translate(context.Background(), utterance(t, "u1", 1)); err == nil {
		t.Fatal("expected error")
	}
	if p.CallCount() != 1 {
		t.Errorf("provider called %d times, want 1", p.CallCount())
	}
}

func TestTranslate_Metrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	p := &mock.Provider{Script: []mock.Step{{Err: errUpstream}, {Err: errUpstream}, mock.JSON("a", "b", "ja", 1)}}
	d := newDispatcher(t, p, WithMetrics(m), WithProviderName("gemini"))
	if _, err := d.Translate(context.Background(), utterance(t, "u1", 1)); err != nil {
		t.Fatalf("Translate: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if s, ok := met.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[met.Name] += dp.Value
				}
			}
		}
	}
	want := map[string]int64{
		"parley.translate.retries":  2,
		"parley.provider.requests":  3,
		"parley.provider.errors":    2,
		"parley.translate.failures": 0,
	}
	for name, v := range want {
		if sums[name] != v {
			t.Errorf("%s = %d, want %d", name, sums[name], v)
		}
	}
}

func TestTranslate_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{mock.JSON("a", "b", "ja", 1)}}
	d := newDispatcher(t, p)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Go(func() {
			if _, err := d.Translate(context.Background(), utterance(t, "u1", byte(i))); err != nil {
				t.Errorf("Translate: %v", err)
			}
		})
	}
	wg.Wait()
	if p.CallCount() != 16 {
		t.Errorf("provider called %d times, want 16", p.CallCount())
	}
}
