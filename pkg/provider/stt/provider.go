// Package stt defines the Provider interface for batch Speech-to-Text
// backends used by the cascade translator.
//
// A Provider receives one complete utterance at a time and returns its
// transcript. Segmentation happens upstream, so implementations never see a
// live audio stream. Backends include a local whisper.cpp server and the
// OpenAI transcription API.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/parley/pkg/audio"
)

// Request is one utterance to transcribe.
type Request struct {
	// Audio is 16-bit little-endian PCM in Format.
	Audio []byte

	// Format describes Audio. Callers normally pass [audio.CanonicalFormat].
	Format audio.Format

	// Language is an ISO-639-1 hint (e.g. "ja"). Empty requests
	// auto-detection where the backend supports it.
	Language string
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe converts req.Audio to text. It blocks until the backend
	// answers or ctx is cancelled. An empty Transcript.Text with a nil error
	// means the backend heard nothing intelligible.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
