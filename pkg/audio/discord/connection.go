package discord

import (
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

// eventBuffer is the capacity of the event channel. Frames are dropped when
// the consumer falls this far behind; control events are never dropped.
const eventBuffer = 256

// speaker tracks one actively transmitting sender.
type speaker struct {
	userID    string
	name      string
	lastHeard time.Time
}

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface.
//
// A single run goroutine owns the event channel: it decodes incoming Opus
// packets, emits speaking-start before a sender's first frame, emits
// speaking-stop once the sender has been silent for the silence timeout, and
// reports [audio.EventDisconnected] when Discord drops the bot from the
// channel.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc             *discordgo.VoiceConnection
	session        *discordgo.Session
	guildID        string
	channelID      string
	silenceTimeout time.Duration

	events  chan audio.Event
	done    chan struct{}
	lost    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	ssrcUser map[uint32]string // filled from speaking updates
	lostOnce sync.Once

	closeOnce     sync.Once
	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC tears down the voice connection. Defaults to vc.Disconnect;
	// overridden in tests.
	disconnectVC func() error

	// resolveName returns the display name for a user ID.
	resolveName func(userID string) string

	now func() time.Time
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts its run goroutine.
func newConnection(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string, silenceTimeout time.Duration) *Connection {
	c := newConnectionState(vc, session, guildID, channelID, silenceTimeout)
	c.disconnectVC = vc.Disconnect
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)
	go c.run()
	return c
}

// newConnectionState builds a Connection without touching the network.
func newConnectionState(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID, channelID string, silenceTimeout time.Duration) *Connection {
	if silenceTimeout <= 0 {
		silenceTimeout = DefaultSilenceTimeout
	}
	c := &Connection{
		vc:             vc,
		session:        session,
		guildID:        guildID,
		channelID:      channelID,
		silenceTimeout: silenceTimeout,
		events:         make(chan audio.Event, eventBuffer),
		done:           make(chan struct{}),
		lost:           make(chan struct{}),
		stopped:        make(chan struct{}),
		ssrcUser:       make(map[uint32]string),
		now:            time.Now,
	}
	c.resolveName = c.memberName
	return c
}

// Events implements [audio.Connection].
func (c *Connection) Events() <-chan audio.Event {
	return c.events
}

// ChannelID implements [audio.Connection].
func (c *Connection) ChannelID() string {
	return c.channelID
}

// Disconnect leaves the voice channel, stops the run goroutine and closes the
// event channel. It is safe to call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	err := c.teardown()
	<-c.stopped
	return err
}

// teardown performs the one-time release of Discord resources. It does not
// wait for the run goroutine, so run may call it itself.
func (c *Connection) teardown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

// run is the single writer of c.events.
func (c *Connection) run() {
	defer close(c.stopped)
	defer close(c.events)

	decoders := make(map[uint32]*opusDecoder)
	active := make(map[string]*speaker)

	tick := c.silenceTimeout / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	recv := c.vc.OpusRecv

	for {
		select {
		case <-c.done:
			return

		case <-c.lost:
			c.stopAll(active)
			c.send(audio.Event{Type: audio.EventDisconnected})
			if err := c.teardown(); err != nil {
				slog.Warn("discord: voice teardown after drop", "guild_id", c.guildID, "err", err)
			}
			return

		case pkt, ok := <-recv:
			if !ok {
				recv = nil
				c.markLost()
				continue
			}
			if pkt == nil {
				continue
			}
			c.handlePacket(pkt, decoders, active)

		case <-ticker.C:
			now := c.now()
			for id, sp := range active {
				if now.Sub(sp.lastHeard) >= c.silenceTimeout {
					delete(active, id)
					c.send(audio.Event{Type: audio.EventSpeakingStop, SpeakerID: sp.userID, DisplayName: sp.name})
				}
			}
		}
	}
}

// handlePacket decodes pkt and emits the resulting events.
func (c *Connection) handlePacket(pkt *discordgo.Packet, decoders map[uint32]*opusDecoder, active map[string]*speaker) {
	c.mu.Lock()
	userID, known := c.ssrcUser[pkt.SSRC]
	c.mu.Unlock()
	if !known {
		// Discord announces an SSRC with a speaking update before its audio.
		slog.Debug("discord: packet from unmapped ssrc", "ssrc", pkt.SSRC)
		return
	}

	dec, ok := decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = newOpusDecoder()
		if err != nil {
			slog.Error("discord: failed to create opus decoder", "ssrc", pkt.SSRC, "err", err)
			return
		}
		decoders[pkt.SSRC] = dec
	}

	pcm, err := dec.decode(pkt.Opus)
	if err != nil {
		slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "user_id", userID, "err", err)
		return
	}

	sp, speaking := active[userID]
	if !speaking {
		sp = &speaker{userID: userID, name: c.resolveName(userID)}
		active[userID] = sp
		c.send(audio.Event{Type: audio.EventSpeakingStart, SpeakerID: userID, DisplayName: sp.name})
	}
	sp.lastHeard = c.now()

	ev := audio.Event{
		Type:        audio.EventFrame,
		SpeakerID:   userID,
		DisplayName: sp.name,
		Frame: audio.AudioFrame{
			Data:       pcm,
			SampleRate: opusSampleRate,
			Channels:   opusChannels,
			Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
		},
	}
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		slog.Warn("discord: event buffer full, dropping frame", "user_id", userID)
	}
}

// stopAll emits speaking-stop for every active speaker.
func (c *Connection) stopAll(active map[string]*speaker) {
	for id, sp := range active {
		delete(active, id)
		c.send(audio.Event{Type: audio.EventSpeakingStop, SpeakerID: sp.userID, DisplayName: sp.name})
	}
}

// send delivers a control event, blocking until it is consumed or the
// connection is closed.
func (c *Connection) send(ev audio.Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// markLost signals the run goroutine that the transport dropped.
func (c *Connection) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

// handleSpeakingUpdate records the SSRC to user mapping announced by the
// voice gateway.
func (c *Connection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.mu.Unlock()
}

// handleVoiceStateUpdate watches for the bot itself leaving the channel
// without a local Disconnect (kicked, channel deleted, moved away).
func (c *Connection) handleVoiceStateUpdate(s *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil || vsu.GuildID != c.guildID {
		return
	}
	if vsu.UserID != selfID(s) {
		return
	}
	if vsu.ChannelID == c.channelID {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	slog.Info("discord: bot left voice channel remotely",
		"guild_id", c.guildID,
		"channel_id", c.channelID,
		"new_channel_id", vsu.ChannelID,
	)
	c.markLost()
}

// memberName resolves a display name from the session state cache. It
// prefers the guild nickname, then the global display name, then the
// username. Returns "" when nothing is cached.
func (c *Connection) memberName(userID string) string {
	if c.session == nil || c.session.State == nil {
		return ""
	}
	m, err := c.session.State.Member(c.guildID, userID)
	if err != nil || m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

// selfID returns the bot's own user ID, or "" when the state is not ready.
func selfID(s *discordgo.Session) string {
	if s == nil || s.State == nil || s.State.User == nil {
		return ""
	}
	return s.State.User.ID
}
