package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures by how the pipeline recovers from them.
type ErrorKind int

const (
	// KindConfiguration covers missing credentials or required settings.
	// Fatal at startup.
	KindConfiguration ErrorKind = iota + 1

	// KindAudioProcessing covers decode and resample failures. The current
	// utterance is dropped and the session continues.
	KindAudioProcessing

	// KindTranslation covers remote calls that exhausted their retries. The
	// current utterance is dropped and the session continues.
	KindTranslation

	// KindVoiceChannel covers join, leave and transport failures. Surfaced to
	// the caller.
	KindVoiceChannel
)

// String returns the human-readable name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAudioProcessing:
		return "audio_processing"
	case KindTranslation:
		return "translation"
	case KindVoiceChannel:
		return "voice_channel"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against a kind, e.g.
//
//	if errors.Is(err, types.ErrTranslation) { ... }
var (
	ErrConfiguration   = kindSentinel(KindConfiguration)
	ErrAudioProcessing = kindSentinel(KindAudioProcessing)
	ErrTranslation     = kindSentinel(KindTranslation)
	ErrVoiceChannel    = kindSentinel(KindVoiceChannel)
)

type kindSentinel ErrorKind

func (k kindSentinel) Error() string { return ErrorKind(k).String() + " error" }

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	k, ok := target.(kindSentinel)
	return ok && ErrorKind(k) == e.Kind
}

// NewError wraps err with kind and op. Returns nil when err is nil.
func NewError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first [*Error] in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
