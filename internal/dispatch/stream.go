package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/parley/pkg/types"
)

// StreamResult is one output of [Dispatcher.Stream]. Exactly one of Result
// and Err is meaningful.
type StreamResult struct {
	Utterance types.Utterance
	Result    types.TranslationResult
	Err       error
}

// Stream translates every utterance received on in and emits one
// [StreamResult] per utterance on the returned channel.
//
// Results for one speaker (same SessionID and SpeakerID) are emitted in the
// order the utterances arrived. Different speakers are translated
// concurrently, so a slow or retrying call for one speaker never holds back
// another. Queues are unbounded; reading from in never waits on a provider.
//
// The returned channel is closed after in is closed and every queued
// utterance has been handled, or after ctx is cancelled. Results produced
// after cancellation are dropped.
func (d *Dispatcher) Stream(ctx context.Context, in <-chan types.Utterance) <-chan StreamResult {
	out := make(chan StreamResult)

	go func() {
		defer close(out)

		var wg sync.WaitGroup
		queues := make(map[string]*fifo)
		defer func() {
			for _, q := range queues {
				q.close()
			}
			wg.Wait()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case u, ok := <-in:
				if !ok {
					return
				}
				key := speakerKey(u)
				q, exists := queues[key]
				if !exists {
					q = newFIFO()
					queues[key] = q
					wg.Go(func() { d.drainQueue(ctx, q, out) })
				}
				q.push(u)
			}
		}
	}()

	return out
}

// drainQueue translates the utterances of one speaker in order.
func (d *Dispatcher) drainQueue(ctx context.Context, q *fifo, out chan<- StreamResult) {
	for {
		u, ok := q.pop(ctx)
		if !ok {
			return
		}
		res, err := d.Translate(ctx, u)
		if err != nil && ctx.Err() == nil {
			slog.Error("dispatch: utterance dropped",
				"session_id", u.SessionID,
				"speaker_id", u.SpeakerID,
				"err", err,
			)
		}
		select {
		case out <- StreamResult{Utterance: u, Result: res, Err: err}:
		case <-ctx.Done():
			return
		}
	}
}

// fifo is an unbounded single-consumer utterance queue.
type fifo struct {
	mu     sync.Mutex
	items  []types.Utterance
	closed bool
	wake   chan struct{}
}

func newFIFO() *fifo {
	return &fifo{wake: make(chan struct{}, 1)}
}

func (q *fifo) push(u types.Utterance) {
	q.mu.Lock()
	q.items = append(q.items, u)
	q.mu.Unlock()
	q.signal()
}

// close lets the consumer exit once the queue is empty.
func (q *fifo) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *fifo) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop blocks until an item is available, the queue is closed and empty, or
// ctx is done.
func (q *fifo) pop(ctx context.Context) (types.Utterance, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items[0] = types.Utterance{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return u, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return types.Utterance{}, false
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return types.Utterance{}, false
		}
	}
}
