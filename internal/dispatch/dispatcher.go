// Package dispatch turns flushed utterances into translation results.
//
// A [Dispatcher] wraps a [translate.Provider] with a bounded retry loop,
// validation of the provider's answer and telemetry. It offers three entry
// points: [Dispatcher.Translate] for a single utterance, [Dispatcher.Stream]
// for a live sequence with per-speaker ordering, and [Dispatcher.Batch] for a
// fixed set dispatched concurrently.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/provider/translate"
	"github.com/MrWong99/parley/pkg/types"
)

const (
	// DefaultMaxRetries is the default number of attempts per utterance.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the default pause between attempts.
	DefaultRetryDelay = time.Second
)

// errEmptyAnswer is returned for an attempt whose answer carried no text.
var errEmptyAnswer = errors.New("provider returned an empty answer")

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithMaxRetries sets the number of attempts per utterance. Values below 1
// are ignored.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) {
		if n >= 1 {
			d.maxRetries = n
		}
	}
}

// WithRetryDelay sets the fixed pause between attempts. Negative values are
// ignored; zero retries immediately.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.retryDelay = delay
		}
	}
}

// WithAutoDetect omits the utterance's declared source language from
// requests so the service detects it.
func WithAutoDetect(on bool) Option {
	return func(d *Dispatcher) {
		d.autoDetect = on
	}
}

// WithRequestTimeout bounds every single attempt. Zero means no per-attempt
// limit beyond the caller's context.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout >= 0 {
			d.requestTimeout = timeout
		}
	}
}

// WithProviderName sets the provider label used in metrics and logs.
func WithProviderName(name string) Option {
	return func(d *Dispatcher) {
		if name != "" {
			d.providerName = name
		}
	}
}

// WithMetrics records dispatcher telemetry on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithBatchLimit caps the number of concurrent calls made by
// [Dispatcher.Batch]. Zero or negative means unlimited.
func WithBatchLimit(n int) Option {
	return func(d *Dispatcher) {
		d.batchLimit = n
	}
}

// Dispatcher sends utterances to a translation provider. It is safe for
// concurrent use.
type Dispatcher struct {
	provider       translate.Provider
	providerName   string
	autoDetect     bool
	requestTimeout time.Duration
	batchLimit     int
	metrics        *observe.Metrics

	mu         sync.RWMutex
	maxRetries int
	retryDelay time.Duration
}

// New returns a Dispatcher for p.
func New(p translate.Provider, opts ...Option) (*Dispatcher, error) {
	if p == nil {
		return nil, errors.New("dispatch: provider must not be nil")
	}
	d := &Dispatcher{
		provider:     p,
		providerName: "translate",
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// SetRetryPolicy replaces the retry settings for subsequent calls. Used by
// the config hot-reload path. Invalid values keep the current setting.
func (d *Dispatcher) SetRetryPolicy(maxRetries int, delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if maxRetries >= 1 {
		d.maxRetries = maxRetries
	}
	if delay >= 0 {
		d.retryDelay = delay
	}
}

// RetryPolicy returns the current attempt count and delay.
func (d *Dispatcher) RetryPolicy() (int, time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.maxRetries, d.retryDelay
}

// Translate sends u to the provider, retrying failed attempts up to the
// configured limit with a fixed delay in between.
//
// An empty payload fails immediately without a call. A provider answer that
// is not the expected JSON shape is not a failure: the raw text is used for
// both transcript and translation and the result is marked degraded. When
// every attempt fails the last error is returned wrapped in a
// [types.KindTranslation] error. Cancelling ctx aborts the retry wait.
func (d *Dispatcher) Translate(ctx context.Context, u types.Utterance) (types.TranslationResult, error) {
	if len(u.PCM) == 0 {
		return types.TranslationResult{}, types.NewError(types.KindTranslation, "translate", types.ErrEmptyUtterance)
	}

	ctx, span := observe.StartUtteranceSpan(ctx, "dispatch.translate", observe.UtteranceInfo{
		SessionID:      u.SessionID,
		SpeakerID:      u.SpeakerID,
		TargetLanguage: u.TargetLanguage,
		AudioSeconds:   u.Duration().Seconds(),
	})
	defer span.End()
	log := observe.Logger(ctx).With("provider", d.providerName)

	req := translate.Request{
		Audio:          u.PCM,
		Format:         audio.CanonicalFormat,
		TargetLanguage: u.TargetLanguage,
	}
	if !d.autoDetect {
		req.SourceLanguage = u.SourceLanguage
	}

	maxRetries, delay := d.RetryPolicy()
	start := time.Now()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxRetries; attempt++ {
		attempts = attempt
		if attempt > 1 && d.metrics != nil {
			d.metrics.TranslateRetries.Add(ctx, 1)
		}

		parsed, err := d.attempt(ctx, req, u.SourceLanguage)
		if err == nil {
			res := buildResult(u, parsed)
			if res.Degraded {
				log.Warn("dispatch: unparseable answer, using raw text", "attempt", attempt)
			}
			d.recordDone(ctx, start, "ok")
			span.SetAttributes(attribute.Int("dispatch.attempts", attempt))
			return res, nil
		}

		lastErr = err
		log.Warn("dispatch: translation attempt failed",
			"attempt", attempt,
			"max_attempts", maxRetries,
			"err", err,
		)
		if errors.Is(err, translate.ErrNoSpeech) || ctx.Err() != nil {
			break
		}
		if attempt < maxRetries {
			if werr := wait(ctx, delay); werr != nil {
				lastErr = errors.Join(lastErr, werr)
				break
			}
		}
	}

	d.recordDone(ctx, start, "error")
	if d.metrics != nil {
		d.metrics.TranslateFailures.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Int("dispatch.attempts", attempts))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "translation failed")

	return types.TranslationResult{}, types.NewError(types.KindTranslation, "translate",
		fmt.Errorf("after %d attempt(s): %w", attempts, lastErr))
}

// attempt performs one provider call and validates the answer.
func (d *Dispatcher) attempt(ctx context.Context, req translate.Request, declaredLang string) (translate.Parsed, error) {
	if d.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.requestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := d.provider.Translate(ctx, req)
	if d.metrics != nil {
		d.metrics.ProviderDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("provider", d.providerName)))
	}
	if err != nil {
		d.recordProvider(ctx, "error")
		return translate.Parsed{}, err
	}
	d.recordProvider(ctx, "ok")

	var parsed translate.Parsed
	if resp.Parsed != nil {
		parsed = *resp.Parsed
	} else {
		parsed = translate.ParseResponse(resp.Raw, declaredLang)
	}
	if parsed.Translation == "" && parsed.Transcript == "" {
		return translate.Parsed{}, errEmptyAnswer
	}
	return parsed, nil
}

// buildResult assembles the result for u from a validated answer.
func buildResult(u types.Utterance, p translate.Parsed) types.TranslationResult {
	lang := p.DetectedLanguage
	if lang == "" {
		lang = u.SourceLanguage
	}
	if lang == "" {
		lang = translate.UnknownLanguage
	}
	var conf *float64
	if p.Confidence != nil {
		conf = types.ClampConfidence(*p.Confidence)
	}
	return types.TranslationResult{
		SessionID:      u.SessionID,
		SpeakerID:      u.SpeakerID,
		DisplayName:    u.DisplayName,
		Transcript:     p.Transcript,
		Translation:    p.Translation,
		SourceLanguage: lang,
		TargetLanguage: u.TargetLanguage,
		Confidence:     conf,
		CapturedAt:     u.CapturedAt,
		Degraded:       p.Degraded,
	}
}

func (d *Dispatcher) recordProvider(ctx context.Context, status string) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordProviderRequest(ctx, d.providerName, "translate", status)
	if status != "ok" {
		d.metrics.RecordProviderError(ctx, d.providerName, "translate")
	}
}

func (d *Dispatcher) recordDone(ctx context.Context, start time.Time, status string) {
	if d.metrics == nil {
		return
	}
	d.metrics.TranslateDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// wait sleeps for delay or until ctx is done.
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// speakerKey identifies a per-speaker ordering domain.
func speakerKey(u types.Utterance) string {
	return u.SessionID + "\x00" + u.SpeakerID
}
