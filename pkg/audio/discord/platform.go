// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library.
//
// Each call to [Platform.Connect] joins a voice channel in deaf=false mode and
// returns a [Connection] that decodes every sender's Opus stream into 48 kHz
// stereo PCM, resolves the sender's user ID from the voice gateway's speaking
// updates, and derives speaking-start and speaking-stop events from packet
// arrival and a silence timeout.
package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// DefaultSilenceTimeout is how long a sender must stay silent before a
// speaking-stop event is emitted for them.
const DefaultSilenceTimeout = 300 * time.Millisecond

// Option configures a [Platform].
type Option func(*Platform)

// WithSilenceTimeout overrides [DefaultSilenceTimeout]. Non-positive values
// are ignored.
func WithSilenceTimeout(d time.Duration) Option {
	return func(p *Platform) {
		if d > 0 {
			p.silenceTimeout = d
		}
	}
}

// Platform implements [audio.Platform] using a discordgo voice connection.
// It requires an active *discordgo.Session owned by the bot layer.
//
// Platform is safe for concurrent use.
type Platform struct {
	session        *discordgo.Session
	silenceTimeout time.Duration
}

// New creates a Discord Platform on top of session.
func New(session *discordgo.Session, opts ...Option) *Platform {
	p := &Platform{
		session:        session,
		silenceTimeout: DefaultSilenceTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect joins channelID in guildID and returns an active [audio.Connection].
// The bot joins unmuted and undeafened so that it receives audio. ctx is
// checked before the join; the join handshake itself is bounded by discordgo's
// own timeout.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.session, guildID, channelID, p.silenceTimeout), nil
}
