package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/parley/pkg/provider/translate"
	"github.com/MrWong99/parley/pkg/provider/translate/mock"
	"github.com/MrWong99/parley/pkg/types"
)

func TestBatch_PartialFailure(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{TranslateFunc: func(_ context.Context, req translate.Request) (translate.Response, error) {
		if req.Audio[0] == 2 {
			return translate.Response{}, errUpstream
		}
		return mock.JSON("t", string('0'+rune(req.Audio[0])), "ja", 1).Response, nil
	}}
	d := newDispatcher(t, p, WithMaxRetries(2), WithBatchLimit(2))

	batch := []types.Utterance{
		utterance(t, "u1", 1),
		utterance(t, "u2", 2),
		utterance(t, "u3", 3),
	}
	results, failures := d.Batch(context.Background(), batch)

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Translation != "1" || results[1].Translation != "3" {
		t.Errorf("order = %q, %q; want 1, 3", results[0].Translation, results[1].Translation)
	}
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	f := failures[0]
	if f.Index != 1 || f.Utterance.SpeakerID != "u2" || !errors.Is(f.Err, errUpstream) {
		t.Errorf("failure = %+v", f)
	}
	// Two attempts for the failing item, one for each of the others.
	if p.CallCount() != 4 {
		t.Errorf("provider called %d times, want 4", p.CallCount())
	}
}

func TestBatch_Empty(t *testing.T) {
	t.Parallel()

	d := newDispatcher(t, &mock.Provider{})
	results, failures := d.Batch(context.Background(), nil)
	if len(results) != 0 || len(failures) != 0 {
		t.Errorf("got %d results / %d failures for empty batch", len(results), len(failures))
	}
}

func TestBatch_EmptyUtteranceFailsAlone(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Script: []mock.Step{mock.JSON("a", "b", "ja", 1)}}
	d := newDispatcher(t, p)

	results, failures := d.Batch(context.Background(), []types.Utterance{{SpeakerID: "x"}, utterance(t, "u1", 1)})
	if len(results) != 1 || len(failures) != 1 || failures[0].Index != 0 {
		t.Fatalf("results=%d failures=%+v", len(results), failures)
	}
	if !errors.Is(failures[0].Err, types.ErrEmptyUtterance) {
		t.Errorf("err = %v", failures[0].Err)
	}
}
