// Package types defines the shared types used across all Parley packages.
//
// These types form the lingua franca between the transport adapters, the
// segmenter, the translation dispatcher, and the sinks. Each package defines
// its own domain types, but the values that cross package boundaries live here
// to avoid circular imports.
package types

import (
	"errors"
	"math"
	"time"
)

// CanonicalSampleRate is the sample rate (Hz) of every [Utterance] payload.
// Translation services consume 16 kHz mono 16-bit PCM.
const CanonicalSampleRate = 16000

// CanonicalChannels is the channel count of every [Utterance] payload.
const CanonicalChannels = 1

// ErrEmptyUtterance is returned by [NewUtterance] when the payload is empty.
var ErrEmptyUtterance = errors.New("utterance payload is empty")

// Utterance is one flushed span of a single speaker's speech, already
// converted to canonical 16 kHz mono PCM.
//
// Utterances are passed by value and never mutated after construction. Build
// them with [NewUtterance] so that the payload is copied away from the
// segmenter's scratch buffers.
type Utterance struct {
	// SessionID identifies the call the utterance was captured in.
	SessionID string

	// SpeakerID is the platform-specific user ID of the speaker.
	SpeakerID string

	// DisplayName is the human-readable speaker name at flush time.
	DisplayName string

	// PCM is the 16 kHz mono little-endian int16 payload. Never empty.
	PCM []byte

	// CapturedAt is the flush time.
	CapturedAt time.Time

	// SourceLanguage is an optional declared source language (BCP-47 code).
	// Empty means "auto-detect".
	SourceLanguage string

	// TargetLanguage is the session's target language captured at flush time.
	// Later language changes do not alter in-flight utterances.
	TargetLanguage string
}

// NewUtterance validates and builds an [Utterance]. The pcm slice is copied.
// Returns [ErrEmptyUtterance] wrapped in a [KindTranslation] error when pcm
// is empty.
func NewUtterance(sessionID, speakerID, displayName string, pcm []byte, capturedAt time.Time, sourceLang, targetLang string) (Utterance, error) {
	if len(pcm) == 0 {
		return Utterance{}, &Error{Kind: KindTranslation, Op: "new utterance", Err: ErrEmptyUtterance}
	}
	payload := make([]byte, len(pcm))
	copy(payload, pcm)
	return Utterance{
		SessionID:      sessionID,
		SpeakerID:      speakerID,
		DisplayName:    displayName,
		PCM:            payload,
		CapturedAt:     capturedAt,
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
	}, nil
}

// Duration returns the playback length of the payload.
func (u Utterance) Duration() time.Duration {
	samples := len(u.PCM) / 2
	return time.Duration(samples) * time.Second / CanonicalSampleRate
}

// TranslationResult is the dispatcher's output for one [Utterance].
type TranslationResult struct {
	// SessionID, SpeakerID and DisplayName are copied from the utterance.
	SessionID   string
	SpeakerID   string
	DisplayName string

	// Transcript is the original-language text.
	Transcript string

	// Translation is the text in TargetLanguage.
	Translation string

	// SourceLanguage is the detected (or declared) source language code.
	// "unknown" when neither the service nor the caller supplied one.
	SourceLanguage string

	// TargetLanguage equals the utterance's TargetLanguage.
	TargetLanguage string

	// Confidence is an optional score in [0, 1]. Nil when the service did not
	// report one.
	Confidence *float64

	// CapturedAt is the utterance's flush time.
	CapturedAt time.Time

	// Degraded is true when the service response could not be parsed and the
	// raw text was substituted for both transcript and translation.
	Degraded bool
}

// ClampConfidence returns a pointer to c limited to [0, 1]. NaN and
// infinities are not scores and yield nil.
func ClampConfidence(c float64) *float64 {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return nil
	}
	switch {
	case c < 0:
		c = 0
	case c > 1:
		c = 1
	}
	return &c
}
