package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/parley"

// Span attributes describing the utterance a span works on.
const (
	AttrSessionID      = attribute.Key("parley.session.id")
	AttrSpeakerID      = attribute.Key("parley.speaker.id")
	AttrTargetLanguage = attribute.Key("parley.language.target")
	AttrAudioSeconds   = attribute.Key("parley.audio.seconds")
)

// Tracer returns the Parley tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on [Tracer]. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// UtteranceInfo identifies one utterance in spans and log lines.
type UtteranceInfo struct {
	SessionID      string
	SpeakerID      string
	TargetLanguage string
	AudioSeconds   float64
}

type utteranceKey struct{}

// StartUtteranceSpan starts a span tagged with u and remembers u in the
// returned context, so [Logger] adds session_id and speaker_id to every line
// logged under it.
func StartUtteranceSpan(ctx context.Context, name string, u UtteranceInfo) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, utteranceKey{}, u)
	return StartSpan(ctx, name, trace.WithAttributes(
		AttrSessionID.String(u.SessionID),
		AttrSpeakerID.String(u.SpeakerID),
		AttrTargetLanguage.String(u.TargetLanguage),
		AttrAudioSeconds.Float64(u.AudioSeconds),
	))
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// The ops server echoes it as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default() with the trace and span IDs of ctx and, under
// [StartUtteranceSpan], the session and speaker IDs.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if u, ok := ctx.Value(utteranceKey{}).(UtteranceInfo); ok {
		l = l.With(
			slog.String("session_id", u.SessionID),
			slog.String("speaker_id", u.SpeakerID),
		)
	}
	return l
}
