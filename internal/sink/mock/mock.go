// Package mock provides a recording implementation of sink.Sink for tests.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/sink"
	"github.com/MrWong99/parley/pkg/types"
)

var _ sink.Sink = (*Sink)(nil)

// Delivery records one Deliver call.
type Delivery struct {
	ChannelID string
	Result    types.TranslationResult
}

// Sink records every delivery. Set Err to make deliveries fail.
type Sink struct {
	mu sync.Mutex

	// SinkName is returned by Name. Defaults to "mock".
	SinkName string

	// Err is returned by Deliver.
	Err error

	// Block, when non-nil, makes Deliver wait until it is closed or ctx ends.
	Block chan struct{}

	deliveries []Delivery
	notify     chan struct{}
}

// Name implements sink.Sink.
func (s *Sink) Name() string {
	if s.SinkName == "" {
		return "mock"
	}
	return s.SinkName
}

// Deliver implements sink.Sink.
func (s *Sink) Deliver(ctx context.Context, channelID string, r types.TranslationResult) error {
	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.deliveries = append(s.deliveries, Delivery{ChannelID: channelID, Result: r})
	notify := s.notify
	s.notify = nil
	err := s.Err
	s.mu.Unlock()
	if notify != nil {
		close(notify)
	}
	return err
}

// Deliveries returns a copy of all recorded deliveries.
func (s *Sink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Delivery, len(s.deliveries))
	copy(out, s.deliveries)
	return out
}

// WaitFor blocks until at least n deliveries were recorded or timeout
// elapses. It reports whether n was reached.
func (s *Sink) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s.mu.Lock()
		if len(s.deliveries) >= n {
			s.mu.Unlock()
			return true
		}
		if s.notify == nil {
			s.notify = make(chan struct{})
		}
		wait := s.notify
		s.mu.Unlock()

		select {
		case <-wait:
		case <-deadline:
			return false
		}
	}
}
