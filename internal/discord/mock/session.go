// Package mock provides test doubles for Discord interaction testing.
package mock

import (
	"sync"

	"github.com/bwmarrin/discordgo"
)

// InteractionResponder records interaction responses for test assertions.
type InteractionResponder struct {
	mu sync.Mutex

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// FollowUps records all FollowupMessageCreate calls.
	FollowUps []*discordgo.WebhookParams

	// Err is returned by InteractionRespond and FollowupMessageCreate
	// when non-nil, allowing error injection.
	Err error
}

// InteractionRespond records the response and returns the configured error.
func (m *InteractionResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.Err
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

// LastFollowUp returns the most recently recorded follow-up, or nil.
func (m *InteractionResponder) LastFollowUp() *discordgo.WebhookParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.FollowUps) == 0 {
		return nil
	}
	return m.FollowUps[len(m.FollowUps)-1]
}

// Content returns the text of the last response or follow-up, whichever
// was recorded last, or "" when nothing was sent.
func (m *InteractionResponder) Content() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n := len(m.FollowUps); n > 0 {
		return m.FollowUps[n-1].Content
	}
	if n := len(m.Responses); n > 0 && m.Responses[n-1].Data != nil {
		return m.Responses[n-1].Data.Content
	}
	return ""
}

// Messenger records channel messages.
type Messenger struct {
	mu sync.Mutex

	// Sent records every message as channelID → contents.
	Sent map[string][]string

	// Err, if non-nil, is returned by ChannelMessageSend.
	Err error
}

// ChannelMessageSend records content under channelID.
func (m *Messenger) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Sent == nil {
		m.Sent = make(map[string][]string)
	}
	m.Sent[channelID] = append(m.Sent[channelID], content)
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

// Messages returns a copy of the messages sent to channelID.
func (m *Messenger) Messages(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Sent[channelID]...)
}
