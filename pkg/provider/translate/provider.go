// Package translate defines the Provider interface for translation services:
// backends that accept one utterance of canonical PCM and answer with a
// transcript and its translation.
//
// Two families exist. Audio-native backends (gemini) hear the audio and
// return free-form model text that is expected to contain a JSON object; the
// caller validates it with [ParseResponse]. Cascade backends chain a
// transcriber with a text LLM and return an already structured [Parsed].
//
// Implementations must be safe for concurrent use and must honour ctx
// cancellation.
package translate

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/pkg/audio"
)

// ErrNoSpeech is returned by providers that detect an utterance without
// intelligible speech. Retrying such a call cannot succeed.
var ErrNoSpeech = errors.New("translate: no speech in utterance")

// Request is a single translation call.
type Request struct {
	// Audio is 16-bit little-endian PCM in Format. Never empty.
	Audio []byte

	// Format describes Audio; normally [audio.CanonicalFormat].
	Format audio.Format

	// TargetLanguage is the ISO-639-1 code to translate into.
	TargetLanguage string

	// SourceLanguage is the declared spoken language. Empty requests
	// auto-detection.
	SourceLanguage string
}

// Parsed is a validated translation answer.
type Parsed struct {
	Transcript       string
	Translation      string
	DetectedLanguage string

	// Confidence is nil when the backend did not report one.
	Confidence *float64

	// Degraded marks a fallback built from an unparseable answer.
	Degraded bool
}

// Response is what a Provider returns for a successful call.
type Response struct {
	// Raw is the backend's text answer, kept for logging and for
	// [ParseResponse] when Parsed is nil.
	Raw string

	// Parsed is set by providers that produce structured output themselves.
	Parsed *Parsed
}

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate performs one remote call. Errors are transport or API
	// failures; a malformed answer is not an error.
	Translate(ctx context.Context, req Request) (Response, error)
}
