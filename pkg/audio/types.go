package audio

import "time"

// AudioFrame is a single decoded PCM frame delivered by a transport for one
// speaker. Frames are appended verbatim to that speaker's buffer; conversion
// to the canonical format happens once per utterance at flush time.
type AudioFrame struct {
	// Data is little-endian int16 PCM, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (48000 for Discord Opus).
	SampleRate int

	// Channels is 2 for Discord voice.
	Channels int

	// Timestamp is the transport's capture timestamp relative to stream start.
	Timestamp time.Duration
}

// Format returns the frame's sample rate and channel count.
func (f AudioFrame) Format() Format {
	return Format{SampleRate: f.SampleRate, Channels: f.Channels}
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate for 16-bit samples.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns the playback length of n bytes of PCM in this format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// DiscordFormat is the decoded Discord voice format: 48 kHz stereo.
var DiscordFormat = Format{SampleRate: 48000, Channels: 2}

// CanonicalFormat is the translation-service format: 16 kHz mono.
var CanonicalFormat = Format{SampleRate: 16000, Channels: 1}
