package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/parley/pkg/audio"
	"github.com/MrWong99/parley/pkg/types"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 3
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Platform is the audio platform used to establish connections.
	Platform audio.Platform

	// GuildID and ChannelID identify the voice channel to rejoin.
	GuildID   string
	ChannelID string

	// MaxRetries is the maximum number of attempts before giving up.
	// Defaults to 3 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration
}

// Reconnector rejoins a voice channel after the transport dropped it, with
// exponential backoff. A session whose Reconnector gives up is closed.
type Reconnector struct {
	platform   audio.Platform
	guildID    string
	channelID  string
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		platform:   cfg.Platform,
		guildID:    cfg.GuildID,
		channelID:  cfg.ChannelID,
		maxRetries: maxRetries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
	}
}

// Reconnect tries to rejoin the channel until it succeeds, the attempts are
// exhausted or ctx is done. The final failure is a [types.KindVoiceChannel]
// error.
func (r *Reconnector) Reconnect(ctx context.Context) (audio.Connection, error) {
	wait := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, types.NewError(types.KindVoiceChannel, "reconnect", err)
		}

		slog.Info("session: attempting reconnection",
			"guild_id", r.guildID,
			"channel_id", r.channelID,
			"attempt", attempt,
			"max_retries", r.maxRetries,
		)
		conn, err := r.platform.Connect(ctx, r.guildID, r.channelID)
		if err == nil {
			slog.Info("session: reconnection successful", "guild_id", r.guildID, "attempt", attempt)
			return conn, nil
		}
		lastErr = err
		slog.Warn("session: reconnection attempt failed",
			"guild_id", r.guildID,
			"attempt", attempt,
			"err", err,
		)

		if attempt == r.maxRetries {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, types.NewError(types.KindVoiceChannel, "reconnect", ctx.Err())
		case <-t.C:
		}
		wait = min(wait*2, r.maxBackoff)
	}

	return nil, types.NewError(types.KindVoiceChannel, "reconnect",
		fmt.Errorf("gave up after %d attempts: %w", r.maxRetries, lastErr))
}
