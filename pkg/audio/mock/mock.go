// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	conn := mock.NewConnection("voice-1")
//	platform := &mock.Platform{ConnectResult: conn}
//	got, _ := platform.Connect(ctx, "guild-1", "voice-1")
//	conn.Speak("user-1", "Alice", pcmFrames...)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parley/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection]. Tests push events
// with [Connection.Emit] or the [Connection.Speak] helper.
type Connection struct {
	mu sync.Mutex

	channelID string
	events    chan audio.Event
	closed    bool

	// DisconnectError is returned by the first Disconnect call.
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int
}

// NewConnection returns a Connection on channelID with a generously buffered
// event channel.
func NewConnection(channelID string) *Connection {
	return &Connection{
		channelID: channelID,
		events:    make(chan audio.Event, 1024),
	}
}

// Events implements [audio.Connection].
func (c *Connection) Events() <-chan audio.Event {
	return c.events
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	return c.channelID
}

// Disconnect implements [audio.Connection]. The first call closes the event
// channel and returns DisconnectError; later calls return nil.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return c.DisconnectError
}

// Emit delivers ev to the event channel. It is a no-op after Disconnect.
func (c *Connection) Emit(ev audio.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// Speak emits a full speaking burst for speakerID: start, one frame per
// entry in frames (48 kHz stereo), then stop.
func (c *Connection) Speak(speakerID, displayName string, frames ...[]byte) {
	c.Emit(audio.Event{Type: audio.EventSpeakingStart, SpeakerID: speakerID, DisplayName: displayName})
	for _, f := range frames {
		c.Emit(audio.Event{
			Type:        audio.EventFrame,
			SpeakerID:   speakerID,
			DisplayName: displayName,
			Frame: audio.AudioFrame{
				Data:       f,
				SampleRate: audio.DiscordFormat.SampleRate,
				Channels:   audio.DiscordFormat.Channels,
			},
		})
	}
	c.Emit(audio.Event{Type: audio.EventSpeakingStop, SpeakerID: speakerID, DisplayName: displayName})
}

// Drop simulates the transport losing the channel: an
// [audio.EventDisconnected] is delivered and the event channel is closed.
func (c *Connection) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- audio.Event{Type: audio.EventDisconnected}
	c.closed = true
	close(c.events)
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect. When nil
	// and NewConnection is also nil, a fresh [Connection] is created per call.
	ConnectResult audio.Connection

	// NewConnection, when set, builds the connection for each Connect call.
	NewConnection func(guildID, channelID string) audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Connections records every connection handed out, in order.
	Connections []audio.Connection
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	var conn audio.Connection
	switch {
	case p.NewConnection != nil:
		conn = p.NewConnection(guildID, channelID)
	case p.ConnectResult != nil:
		conn = p.ConnectResult
	default:
		conn = NewConnection(channelID)
	}
	p.Connections = append(p.Connections, conn)
	return conn, nil
}

// Calls returns a copy of the recorded Connect invocations.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Last returns the most recent connection handed out, or nil.
func (p *Platform) Last() audio.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Connections) == 0 {
		return nil
	}
	return p.Connections[len(p.Connections)-1]
}
