// Package languages holds the translation targets offered to users.
package languages

import "github.com/bwmarrin/discordgo"

// Language is one selectable translation target.
type Language struct {
	// Code is the ISO-639-1 code sent to the translation backend.
	Code string

	// Name is the label shown to users.
	Name string
}

// Supported lists the selectable targets in display order.
var Supported = []Language{
	{Code: "ja", Name: "Japanese (日本語)"},
	{Code: "en", Name: "English"},
	{Code: "ko", Name: "Korean (한국어)"},
	{Code: "zh", Name: "Chinese (中文)"},
	{Code: "es", Name: "Spanish (Español)"},
	{Code: "fr", Name: "French (Français)"},
	{Code: "de", Name: "German (Deutsch)"},
	{Code: "it", Name: "Italian (Italiano)"},
	{Code: "pt", Name: "Portuguese (Português)"},
	{Code: "ru", Name: "Russian (Русский)"},
}

var byCode = func() map[string]string {
	m := make(map[string]string, len(Supported))
	for _, l := range Supported {
		m[l.Code] = l.Name
	}
	return m
}()

// Name returns the display name for code, or code itself when unknown.
func Name(code string) string {
	if n, ok := byCode[code]; ok {
		return n
	}
	return code
}

// IsSupported reports whether code is a selectable target.
func IsSupported(code string) bool {
	_, ok := byCode[code]
	return ok
}

// Choices renders [Supported] as slash-command option choices.
func Choices() []*discordgo.ApplicationCommandOptionChoice {
	out := make([]*discordgo.ApplicationCommandOptionChoice, len(Supported))
	for i, l := range Supported {
		out[i] = &discordgo.ApplicationCommandOptionChoice{Name: l.Name, Value: l.Code}
	}
	return out
}
