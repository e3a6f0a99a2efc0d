package dispatch

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/pkg/types"
)

// BatchFailure reports one utterance of a batch that could not be
// translated.
type BatchFailure struct {
	// Index is the utterance's position in the input slice.
	Index     int
	Utterance types.Utterance
	Err       error
}

// Batch translates all utterances concurrently. One failure never affects
// the others: successes are returned in their original relative order and
// every failure is logged and reported individually.
func (d *Dispatcher) Batch(ctx context.Context, utterances []types.Utterance) ([]types.TranslationResult, []BatchFailure) {
	results := make([]types.TranslationResult, len(utterances))
	errs := make([]error, len(utterances))

	// The group never sees an error so that siblings are not cancelled.
	g, gctx := errgroup.WithContext(ctx)
	if d.batchLimit > 0 {
		g.SetLimit(d.batchLimit)
	}
	for i, u := range utterances {
		g.Go(func() error {
			results[i], errs[i] = d.Translate(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	var (
		ok       []types.TranslationResult
		failures []BatchFailure
	)
	for i, err := range errs {
		if err != nil {
			slog.Error("dispatch: batch item failed",
				"index", i,
				"session_id", utterances[i].SessionID,
				"speaker_id", utterances[i].SpeakerID,
				"err", err,
			)
			failures = append(failures, BatchFailure{Index: i, Utterance: utterances[i], Err: err})
			continue
		}
		ok = append(ok, results[i])
	}
	return ok, failures
}
