package stt

// Transcript is the result of a single transcription request.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the backend detected or was told to use.
	// Empty when the backend reports neither.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// backend does not report confidence.
	Confidence float64
}
