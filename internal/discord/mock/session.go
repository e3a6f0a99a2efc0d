// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
// It satisfies discord.Responder and is safe for concurrent use.
type InteractionResponder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Edits records the content of all InteractionResponseEdit calls.
	Edits []string

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Err is returned by every method when non-nil, allowing error
	// injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
}

// InteractionResponseEdit records the edited content.
func (m *InteractionResponder) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content := ""
	if edit != nil && edit.Content != nil {
		content = *edit.Content
	}
	m.Edits = append(m.Edits, content)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-original", Content: content}, nil
}

// FollowupMessageCreate records the follow-up and returns a stub message.
func (m *InteractionResponder) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FollowUps = append(m.FollowUps, params)
	if m.Err != nil {
		return nil, m.Err
	}
	return &discordgo.Message{ID: "mock-followup"}, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *InteractionResponder) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// LastContent returns the content of the most recent edit, or of the most
// recent response when nothing was edited.
func (m *InteractionResponder) LastContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Edits) > 0 {
		return m.Edits[len(m.Edits)-1]
	}
	if len(m.Responses) == 0 || m.Responses[len(m.Responses)-1].Data == nil {
		return ""
	}
	return m.Responses[len(m.Responses)-1].Data.Content
}

// Reset clears all recorded interactions and errors.
func (m *InteractionResponder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = nil
	m.Edits = nil
	m.FollowUps = nil
	m.Err = nil
}
