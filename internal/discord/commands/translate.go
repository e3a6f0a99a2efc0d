// Package commands implements the Parley slash command handlers.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/internal/app"
	"github.com/MrWong99/parley/internal/discord"
	"github.com/MrWong99/parley/internal/languages"
	"github.com/MrWong99/parley/internal/session"
)

// joinTimeout bounds the voice handshake of /translate-join.
const joinTimeout = 30 * time.Second

// Sessions is the session control surface used by the commands.
type Sessions interface {
	Join(ctx context.Context, guildID, voiceChannelID, textChannelID, targetLanguage string) (*session.Session, error)
	Leave(guildID string) error
	SetTargetLanguage(guildID, lang string) bool
	Status(guildID string) (session.Status, bool)
	Stats(guildID string) (app.StatsSnapshot, bool)
}

var _ Sessions = (*app.SessionManager)(nil)

// Guild resolves voice state and channel names from the gateway cache.
type Guild interface {
	UserVoiceChannel(guildID, userID string) (string, error)
	ChannelName(channelID string) string
}

var _ Guild = (*discord.Bot)(nil)

// TranslateCommands holds the dependencies of the /translate-* commands.
type TranslateCommands struct {
	sessions        Sessions
	guild           Guild
	perms           *discord.PermissionChecker
	defaultLanguage string
	now             func() time.Time
}

// NewTranslateCommands creates the command handlers. defaultLanguage is
// used by /translate-join without a language option.
func NewTranslateCommands(sessions Sessions, guild Guild, perms *discord.PermissionChecker, defaultLanguage string) *TranslateCommands {
	if perms == nil {
		perms = discord.NewPermissionChecker("")
	}
	return &TranslateCommands{
		sessions:        sessions,
		guild:           guild,
		perms:           perms,
		defaultLanguage: defaultLanguage,
		now:             time.Now,
	}
}

// Register adds the four commands to router.
func (tc *TranslateCommands) Register(router *discord.CommandRouter) {
	defs := tc.Definitions()
	router.RegisterCommand("translate-join", defs[0], tc.handleJoin)
	router.RegisterCommand("translate-leave", defs[1], tc.handleLeave)
	router.RegisterCommand("translate-language", defs[2], tc.handleLanguage)
	router.RegisterCommand("translate-status", defs[3], tc.handleStatus)
}

// Definitions returns the command definitions in registration order.
func (tc *TranslateCommands) Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "translate-join",
			Description: "Join voice channel and start real-time translation",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "language",
					Description: "Target language for translation",
					Choices:     languages.Choices(),
				},
			},
		},
		{
			Name:        "translate-leave",
			Description: "Leave voice channel and stop translation",
		},
		{
			Name:        "translate-language",
			Description: "Change translation target language",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "language",
					Description: "New target language",
					Required:    true,
					Choices:     languages.Choices(),
				},
			},
		},
		{
			Name:        "translate-status",
			Description: "Check translation status",
		},
	}
}

// guildOnly answers interactions outside a guild and reports whether the
// handler may continue.
func guildOnly(r discord.Responder, i *discordgo.InteractionCreate) bool {
	if i.GuildID == "" {
		discord.RespondEphemeral(r, i, "This command can only be used in a server")
		return false
	}
	return true
}

func (tc *TranslateCommands) managerOnly(r discord.Responder, i *discordgo.InteractionCreate) bool {
	if !tc.perms.IsManager(i) {
		discord.RespondEphemeral(r, i, "❌ You need the translation manager role to use this command")
		return false
	}
	return true
}

func (tc *TranslateCommands) handleJoin(r discord.Responder, i *discordgo.InteractionCreate) {
	if !guildOnly(r, i) || !tc.managerOnly(r, i) {
		return
	}

	voiceID, err := tc.guild.UserVoiceChannel(i.GuildID, discord.InteractionUserID(i))
	if err != nil {
		discord.RespondEphemeral(r, i, "❌ You need to be in a voice channel first!")
		return
	}

	lang := languageOption(i)
	if lang == "" || !languages.IsSupported(lang) {
		lang = tc.defaultLanguage
	}
	name := tc.guild.ChannelName(voiceID)

	discord.RespondEphemeral(r, i, fmt.Sprintf("🔄 Connecting to **%s**...", name))

	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	if _, err := tc.sessions.Join(ctx, i.GuildID, voiceID, i.ChannelID, lang); err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			discord.EditReply(r, i, "❌ Already translating in this server. Use `/translate-leave` first")
			return
		}
		discord.EditReply(r, i, fmt.Sprintf("❌ Failed to join voice channel: %v", err))
		return
	}
	discord.EditReply(r, i, fmt.Sprintf("✅ Now translating in **%s** to **%s**", name, languages.Name(lang)))
}

func (tc *TranslateCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	if !guildOnly(r, i) || !tc.managerOnly(r, i) {
		return
	}
	if _, ok := tc.sessions.Status(i.GuildID); !ok {
		discord.RespondEphemeral(r, i, "❌ Not currently in a voice channel")
		return
	}

	discord.RespondEphemeral(r, i, "👋 Leaving voice channel...")

	if err := tc.sessions.Leave(i.GuildID); err != nil && !errors.Is(err, app.ErrNotActive) {
		discord.EditReply(r, i, fmt.Sprintf("❌ Failed to leave: %v", err))
		return
	}
	discord.EditReply(r, i, "✅ Left the voice channel and stopped translation")
}

func (tc *TranslateCommands) handleLanguage(r discord.Responder, i *discordgo.InteractionCreate) {
	if !guildOnly(r, i) || !tc.managerOnly(r, i) {
		return
	}
	lang := languageOption(i)
	if !languages.IsSupported(lang) {
		discord.RespondEphemeral(r, i, fmt.Sprintf("❌ Unsupported language %q", lang))
		return
	}
	if !tc.sessions.SetTargetLanguage(i.GuildID, lang) {
		discord.RespondEphemeral(r, i, "❌ Not currently in a voice channel. Use `/translate-join` first")
		return
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("🔄 Target language changed to **%s**", languages.Name(lang)))
}

func (tc *TranslateCommands) handleStatus(r discord.Responder, i *discordgo.InteractionCreate) {
	if !guildOnly(r, i) {
		return
	}
	st, ok := tc.sessions.Status(i.GuildID)
	if !ok {
		discord.RespondEphemeral(r, i, "❌ Not currently active in this server")
		return
	}

	view := discord.StatusView{
		Active:         true,
		TargetLanguage: languages.Name(st.TargetLanguage),
		StartedAt:      st.CreatedAt,
		ActiveUsers:    len(st.ActiveSpeakers),
		VoiceChannelID: st.VoiceChannelID,
		TextChannelID:  st.SinkID,
	}
	if stats, ok := tc.sessions.Stats(i.GuildID); ok {
		view.Delivered = stats.Delivered
		view.Failed = stats.Failed
		view.LatencyP50 = stats.Latency.P50
		view.LatencyP95 = stats.Latency.P95
	}
	discord.RespondEmbed(r, i, discord.StatusEmbed(view, tc.now()))
}

// languageOption returns the "language" option of a command interaction.
func languageOption(i *discordgo.InteractionCreate) string {
	for _, o := range i.ApplicationCommandData().Options {
		if o.Name == "language" && o.Type == discordgo.ApplicationCommandOptionString {
			return o.StringValue()
		}
	}
	return ""
}
