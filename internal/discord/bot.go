// Package discord provides the Discord bot layer for Parley. It owns the
// discordgo.Session lifecycle, routes slash command interactions to
// registered handlers, and checks the manager role.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/pkg/audio"
	discordaudio "github.com/MrWong99/parley/pkg/audio/discord"
)

// ErrNotInVoice is returned by [Bot.UserVoiceChannel] for a user outside
// every voice channel of the guild.
var ErrNotInVoice = errors.New("discord: user is not in a voice channel")

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// ApplicationID owns the slash commands.
	ApplicationID string

	// GuildID registers commands for one guild only. Empty registers them
	// globally.
	GuildID string

	// ManagerRoleID restricts session changes to holders of this role.
	ManagerRoleID string

	// SilenceTimeout ends a speaking burst. Zero uses the adapter default.
	SilenceTimeout time.Duration
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	perms     *PermissionChecker
	appID     string
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and registers the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	var platformOpts []discordaudio.Option
	if cfg.SilenceTimeout > 0 {
		platformOpts = append(platformOpts, discordaudio.WithSilenceTimeout(cfg.SilenceTimeout))
	}

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session, platformOpts...),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.ManagerRoleID),
		appID:    cfg.ApplicationID,
		guildID:  cfg.GuildID,
	}

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord: gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})

	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// Session returns the underlying discordgo session. The text sink posts
// translations through it.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// Connected reports whether the gateway session is ready.
func (b *Bot) Connected() bool {
	s := b.Session()
	return s != nil && s.DataReady
}

// UserVoiceChannel returns the voice channel userID is connected to in
// guildID, from the gateway state cache.
func (b *Bot) UserVoiceChannel(guildID, userID string) (string, error) {
	s := b.Session()
	if s == nil || s.State == nil {
		return "", ErrNotInVoice
	}
	vs, err := s.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", ErrNotInVoice
	}
	return vs.ChannelID, nil
}

// ChannelName returns the cached name of channelID, or a channel mention
// when the channel is unknown.
func (b *Bot) ChannelName(channelID string) string {
	s := b.Session()
	if s != nil && s.State != nil {
		if ch, err := s.State.Channel(channelID); err == nil && ch.Name != "" {
			return ch.Name
		}
	}
	return "<#" + channelID + ">"
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	appID := b.applicationID()

	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.Session().ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord: commands registered", "count", len(registered), "guild_id", b.guildID)
	}

	<-ctx.Done()
	return ctx.Err()
}

// applicationID prefers the configured ID and falls back to the bot user.
func (b *Bot) applicationID() string {
	if b.appID != "" {
		return b.appID
	}
	s := b.Session()
	if s != nil && s.State != nil && s.State.User != nil {
		return s.State.User.ID
	}
	return ""
}

// Close unregisters guild commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		appID := b.applicationID()

		b.mu.Lock()
		defer b.mu.Unlock()

		// Only guild-scoped registrations are removed.
		if b.session != nil && b.guildID != "" {
			for _, cmd := range b.commands {
				if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
					slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
				}
			}
		}

		if b.session != nil {
			if err := b.session.Close(); err != nil {
				closeErr = fmt.Errorf("discord: close session: %w", err)
			}
		}

		slog.Info("discord: bot closed")
	})
	return closeErr
}
