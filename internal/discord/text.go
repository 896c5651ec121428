package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sri/internal/session"
)

// maxMessageLen is Discord's per-message content limit in characters.
const maxMessageLen = 2000

// ErrNoTextChannel is returned by [TextSender.Send] when no channel was given
// and no writable text channel is known.
var ErrNoTextChannel = errors.New("discord: no text channel available")

// Messenger is the part of *discordgo.Session used to post messages.
type Messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var (
	_ Messenger            = (*discordgo.Session)(nil)
	_ session.TextDelivery = (*TextSender)(nil)
)

// TextSender posts replies to text channels. When no channel is given it
// falls back to the first text channel the bot may write to, in guild and
// channel position order.
type TextSender struct {
	msg     Messenger
	state   *discordgo.State
	guildID string
}

// NewTextSender returns a TextSender. state may be nil, which disables the
// fallback channel. A non-empty guildID limits the fallback to that guild.
func NewTextSender(msg Messenger, state *discordgo.State, guildID string) *TextSender {
	return &TextSender{msg: msg, state: state, guildID: guildID}
}

// Send posts text to channel. Texts longer than one Discord message are
// split on rune boundaries.
func (t *TextSender) Send(ctx context.Context, channel, text string) error {
	if channel == "" {
		channel = t.fallbackChannel()
	}
	if channel == "" {
		return ErrNoTextChannel
	}
	for _, part := range splitMessage(text, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("discord: send to %s: %w", channel, err)
		}
		if _, err := t.msg.ChannelMessageSend(channel, part); err != nil {
			return fmt.Errorf("discord: send to %s: %w", channel, err)
		}
	}
	return nil
}

func (t *TextSender) fallbackChannel() string {
	if t.state == nil {
		return ""
	}
	var botID string
	if t.state.User != nil {
		botID = t.state.User.ID
	}

	t.state.RLock()
	var candidates []*discordgo.Channel
	for _, g := range t.state.Guilds {
		if t.guildID != "" && g.ID != t.guildID {
			continue
		}
		chans := slices.Clone(g.Channels)
		slices.SortStableFunc(chans, func(a, b *discordgo.Channel) int { return a.Position - b.Position })
		for _, c := range chans {
			if c.Type == discordgo.ChannelTypeGuildText {
				candidates = append(candidates, c)
			}
		}
	}
	t.state.RUnlock()

	for _, c := range candidates {
		if botID == "" {
			return c.ID
		}
		perms, err := t.state.UserChannelPermissions(botID, c.ID)
		if err == nil && perms&discordgo.PermissionSendMessages != 0 {
			return c.ID
		}
	}
	return ""
}

// splitMessage cuts text into parts of at most limit runes.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}
