package sink

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/parley/pkg/types"
)

// maxMessageLen is Discord's message content limit in characters.
const maxMessageLen = 2000

// MessageSender is the subset of *discordgo.Session used by [Discord].
type MessageSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ MessageSender = (*discordgo.Session)(nil)

// Discord posts results to a text channel as "**name**: translation".
type Discord struct {
	sender MessageSender
}

var _ Sink = (*Discord)(nil)

// NewDiscord returns a Discord sink.
func NewDiscord(sender MessageSender) *Discord {
	return &Discord{sender: sender}
}

// Name implements [Sink].
func (d *Discord) Name() string { return "discord" }

// Deliver implements [Sink]. Empty translations are skipped.
func (d *Discord) Deliver(ctx context.Context, channelID string, r types.TranslationResult) error {
	text := strings.TrimSpace(r.Translation)
	if text == "" {
		return nil
	}
	if _, err := d.sender.ChannelMessageSend(channelID, FormatMessage(r), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// FormatMessage renders r for a text channel. Speakers without a cached
// display name are mentioned by ID. The result is truncated to Discord's
// message limit.
func FormatMessage(r types.TranslationResult) string {
	name := r.DisplayName
	if name == "" {
		name = "<@" + r.SpeakerID + ">"
	}
	name = escapeMarkdown(name)
	msg := fmt.Sprintf("**%s**: %s", name, strings.TrimSpace(r.Translation))

	runes := []rune(msg)
	if len(runes) > maxMessageLen {
		msg = string(runes[:maxMessageLen-1]) + "…"
	}
	return msg
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`_`, `\_`,
	"`", "\\`",
	`~`, `\~`,
	`|`, `\|`,
)

func escapeMarkdown(s string) string {
	if strings.HasPrefix(s, "<@") {
		return s
	}
	return markdownEscaper.Replace(s)
}
