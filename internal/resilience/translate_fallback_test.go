package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/translate"
	"github.com/MrWong99/parley/pkg/provider/translate/mock"
)

func TestTranslateFallback_Failover(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{Script: []mock.Step{{Err: errTest}}}
	secondary := &mock.Provider{Script: []mock.Step{mock.JSON("hi", "やあ", "en", 0.9)}}

	fb := NewTranslateFallback(primary, "gemini", FallbackConfig{})
	fb.AddFallback("cascade", secondary)

	resp, err := fb.Translate(context.Background(), translate.Request{Audio: []byte{1}, TargetLanguage: "ja"})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if resp.Raw == "" {
		t.Error("expected the secondary's raw answer")
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), secondary.CallCount())
	}
}

func TestTranslateFallback_NoSpeechIsTerminal(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{Script: []mock.Step{{Err: translate.ErrNoSpeech}}}
	secondary := &mock.Provider{Script: []mock.Step{mock.JSON("hi", "やあ", "en", 0.9)}}

	fb := NewTranslateFallback(primary, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("cascade", secondary)

	for range 3 {
		_, err := fb.Translate(context.Background(), translate.Request{Audio: []byte{1}})
		if !errors.Is(err, translate.ErrNoSpeech) {
			t.Fatalf("err = %v, want ErrNoSpeech", err)
		}
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.CallCount())
	}
	for _, b := range fb.Breakers() {
		if b.State != StateClosed {
			t.Errorf("breaker %s = %v, want closed", b.Name, b.State)
		}
	}
}
