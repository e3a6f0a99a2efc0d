// Package audio defines the interfaces and types for voice transport
// connectivity and PCM handling within Parley.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel and returns a [Connection].
//   - [Connection] is an active voice session delivering per-speaker decoded
//     frames and speaking-start/stop signals as a single ordered [Event] stream.
//
// Implementations live in platform-specific adapter packages (e.g.
// audio/discord). The package also hosts the pure PCM helpers used by the
// segmenter: [Resample], [VoiceGate] and [EncodeWAV].
package audio

import (
	"context"
)

// EventType classifies the events emitted by a [Connection].
type EventType int

const (
	// EventFrame carries one decoded PCM frame for a speaker.
	EventFrame EventType = iota

	// EventSpeakingStart is emitted when a speaker begins transmitting.
	EventSpeakingStart

	// EventSpeakingStop is emitted after the transport's silence timeout
	// expires for a speaker.
	EventSpeakingStop

	// EventDisconnected is emitted once when the transport loses the voice
	// channel without a local Disconnect call.
	EventDisconnected
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventFrame:
		return "FRAME"
	case EventSpeakingStart:
		return "SPEAKING_START"
	case EventSpeakingStop:
		return "SPEAKING_STOP"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is a transport notification. Frame is only set for [EventFrame].
//
// Events for one speaker are delivered in send order. No ordering is
// guaranteed across speakers.
type Event struct {
	Type EventType

	// SpeakerID is the platform-specific user ID. Empty for EventDisconnected.
	SpeakerID string

	// DisplayName is the best known human-readable name for SpeakerID. May be
	// empty; consumers fall back to SpeakerID.
	DisplayName string

	// Frame holds the decoded PCM for EventFrame.
	Frame AudioFrame
}

// Connection represents an active session on a voice channel.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Disconnect] is called or the transport drops. Implementations
// must be safe for concurrent use.
type Connection interface {
	// Events returns the event stream. The channel is closed after Disconnect
	// or after an EventDisconnected has been delivered.
	Events() <-chan Event

	// ChannelID returns the voice channel this connection is joined to.
	ChannelID() string

	// Disconnect leaves the voice channel and closes the event stream. Safe to
	// call more than once; later calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice transport.
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins channelID in guildID. ctx bounds the join handshake only.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
