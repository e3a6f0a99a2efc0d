package sink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sink"
	"github.com/MrWong99/parley/internal/sink/mock"
	"github.com/MrWong99/parley/pkg/types"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func result(translation string) types.TranslationResult {
	return types.TranslationResult{
		SessionID:      "s1",
		SpeakerID:      "u1",
		DisplayName:    "Alice",
		Translation:    translation,
		TargetLanguage: "ja",
		CapturedAt:     time.Unix(1700000000, 0),
	}
}

func TestMulti_DeliversToAll(t *testing.T) {
	t.Parallel()

	a := &mock.Sink{SinkName: "a"}
	b := &mock.Sink{SinkName: "b"}
	m := sink.NewMulti([]sink.Sink{a, nil, b})
	if m.Len() != 2 {
		t.Fatalf("Len = %d, want 2 (nil skipped)", m.Len())
	}

	if err := m.Deliver(context.Background(), "text-1", result("hi")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	for _, s := range []*mock.Sink{a, b} {
		got := s.Deliveries()
		if len(got) != 1 || got[0].ChannelID != "text-1" || got[0].Result.Translation != "hi" {
			t.Errorf("%s deliveries = %+v", s.Name(), got)
		}
	}
}

func TestMulti_FailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	a := &mock.Sink{SinkName: "a", Err: boom}
	b := &mock.Sink{SinkName: "b"}
	m := sink.NewMulti([]sink.Sink{a, b})

	err := m.Deliver(context.Background(), "text-1", result("hi"))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapping boom", err)
	}
	if len(b.Deliveries()) != 1 {
		t.Error("second sink should still receive the result")
	}
}

func TestMulti_Timeout(t *testing.T) {
	t.Parallel()

	slow := &mock.Sink{Block: make(chan struct{})}
	m := sink.NewMulti([]sink.Sink{slow}, sink.WithTimeout(20*time.Millisecond))

	start := time.Now()
	err := m.Deliver(context.Background(), "text-1", result("hi"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Deliver took %v, want it bounded by the timeout", elapsed)
	}
}

func TestMulti_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	m := sink.NewMulti([]sink.Sink{
		&mock.Sink{SinkName: "ok"},
		&mock.Sink{SinkName: "bad", Err: errors.New("x")},
	}, sink.WithMetrics(met))
	_ = m.Deliver(context.Background(), "c", result("hi"))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	counts := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name != "parley.sink.deliveries" {
				continue
			}
			sum, ok := md.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("deliveries data = %T", md.Data)
			}
			for _, dp := range sum.DataPoints {
				name, _ := dp.Attributes.Value("sink")
				status, _ := dp.Attributes.Value("status")
				counts[name.AsString()+"/"+status.AsString()] += dp.Value
			}
		}
	}
	if counts["ok/ok"] != 1 || counts["bad/error"] != 1 {
		t.Errorf("delivery counts = %v", counts)
	}
}

func TestMockSink_WaitFor(t *testing.T) {
	t.Parallel()

	s := &mock.Sink{}
	if s.WaitFor(1, 10*time.Millisecond) {
		t.Fatal("WaitFor should time out with no deliveries")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Deliver(context.Background(), "c", result("a"))
	}()
	if !s.WaitFor(1, 2*time.Second) {
		t.Fatal("WaitFor did not observe the delivery")
	}
}
