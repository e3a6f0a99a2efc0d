// Package sink delivers translation results to end users and archives.
//
// A [Sink] accepts one [types.TranslationResult] for a destination channel.
// Deliveries are best effort: failures are logged and counted, never retried
// indefinitely. [Multi] fans a result out to several sinks, each bounded by
// its own timeout.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/types"
)

// DefaultDeliveryTimeout bounds a single delivery when none is configured.
const DefaultDeliveryTimeout = 10 * time.Second

// Sink delivers translation results. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver hands r to the destination identified by channelID.
	Deliver(ctx context.Context, channelID string, r types.TranslationResult) error
}

// Multi delivers to every configured sink in order.
type Multi struct {
	sinks   []Sink
	timeout time.Duration
	metrics *observe.Metrics
}

var _ Sink = (*Multi)(nil)

// MultiOption configures a [Multi].
type MultiOption func(*Multi)

// WithTimeout bounds each sink's delivery. Defaults to
// [DefaultDeliveryTimeout].
func WithTimeout(d time.Duration) MultiOption {
	return func(m *Multi) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMetrics counts deliveries per sink.
func WithMetrics(met *observe.Metrics) MultiOption {
	return func(m *Multi) {
		m.metrics = met
	}
}

// NewMulti returns a fan-out sink. Nil entries are skipped.
func NewMulti(sinks []Sink, opts ...MultiOption) *Multi {
	m := &Multi{timeout: DefaultDeliveryTimeout}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Name implements [Sink].
func (m *Multi) Name() string { return "multi" }

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Deliver implements [Sink]. A failing sink does not stop delivery to the
// others; all failures are logged and returned joined.
func (m *Multi) Deliver(ctx context.Context, channelID string, r types.TranslationResult) error {
	var errs []error
	for _, s := range m.sinks {
		if err := m.deliverOne(ctx, s, channelID, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) deliverOne(ctx context.Context, s Sink, channelID string, r types.TranslationResult) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	status := "ok"
	err := s.Deliver(ctx, channelID, r)
	if err != nil {
		status = "error"
		err = fmt.Errorf("sink: %s: %w", s.Name(), err)
		slog.Error("sink: delivery failed",
			"sink", s.Name(),
			"session_id", r.SessionID,
			"speaker_id", r.SpeakerID,
			"channel_id", channelID,
			"err", err,
		)
	}
	if m.metrics != nil {
		m.metrics.RecordDelivery(ctx, s.Name(), status)
	}
	return err
}
