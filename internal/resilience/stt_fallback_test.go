package resilience

import (
	"context"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/stt"
	sttmock "github.com/MrWong99/parley/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errTest}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "hello", Language: "en"}}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{Audio: []byte{1, 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" {
		t.Errorf("Text = %q", tr.Text)
	}
	if len(primary.Calls) != 1 || len(secondary.Calls) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", len(primary.Calls), len(secondary.Calls))
	}
}
