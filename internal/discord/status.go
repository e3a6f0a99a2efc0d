package discord

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
)

// statusColor is the embed sidebar color of the status view.
const statusColor = 0x0099ff

// StatusView is the data rendered by [StatusEmbed].
type StatusView struct {
	Active         bool
	TargetLanguage string // human-readable name
	StartedAt      time.Time
	ActiveUsers    int
	VoiceChannelID string
	TextChannelID  string

	// Delivered and Failed are optional pipeline counters; both zero hides
	// the fields.
	Delivered int64
	Failed    int64

	// LatencyP50 and LatencyP95 are flush-to-result latencies. Zero hides
	// the field.
	LatencyP50 time.Duration
	LatencyP95 time.Duration
}

// StatusEmbed renders the translation status of one guild at now.
func StatusEmbed(v StatusView, now time.Time) *discordgo.MessageEmbed {
	status := "❌ Inactive"
	if v.Active {
		status = "✅ Active"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Status", Value: status, Inline: true},
		{Name: "Target Language", Value: v.TargetLanguage, Inline: true},
		{Name: "Uptime", Value: FormatUptime(now.Sub(v.StartedAt)), Inline: true},
		{Name: "Active Users", Value: strconv.Itoa(v.ActiveUsers), Inline: true},
		{Name: "Voice Channel", Value: "<#" + v.VoiceChannelID + ">", Inline: true},
		{Name: "Text Channel", Value: "<#" + v.TextChannelID + ">", Inline: true},
	}
	if v.Delivered > 0 || v.Failed > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Translations",
			Value:  fmt.Sprintf("%d delivered, %d failed", v.Delivered, v.Failed),
			Inline: true,
		})
	}
	if v.LatencyP50 > 0 || v.LatencyP95 > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Latency",
			Value:  fmt.Sprintf("p50=%s p95=%s", formatMs(v.LatencyP50), formatMs(v.LatencyP95)),
			Inline: true,
		})
	}
	return &discordgo.MessageEmbed{
		Title:     "📊 Translation Status",
		Color:     statusColor,
		Fields:    fields,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// FormatUptime formats d as "Xh Ym" from one hour on and as "Xm Ys" below.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	mins := secs / 60
	hours := mins / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins%60)
	}
	return fmt.Sprintf("%dm %ds", mins, secs%60)
}

// formatMs formats a duration as milliseconds with one decimal place.
func formatMs(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
}
