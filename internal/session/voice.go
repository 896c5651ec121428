package session

import (
	"context"

	"github.com/MrWong99/sri/pkg/audio"
)

// Target identifies a remote voice channel.
type Target struct {
	GuildID   string
	ChannelID string
}

// IsZero reports whether no channel is set.
func (t Target) IsZero() bool { return t.ChannelID == "" }

// VoiceSink is the remote voice connection. Play renders audio into the
// connected channel.
type VoiceSink interface {
	audio.Sink
	Connect(ctx context.Context, guildID, channelID string) error
	Disconnect() error
	IsConnected() bool
}

// TextDelivery sends text replies to the chat platform. An empty channel
// lets the implementation pick a fallback channel.
type TextDelivery interface {
	Send(ctx context.Context, channel, text string) error
}

// Outputs selects where speech is rendered: the remote voice channel while
// connected, else the local speaker.
type Outputs struct {
	Local  audio.Sink
	Remote VoiceSink
}

// Select returns the sink for the next utterance, or nil when there is none.
func (o Outputs) Select() audio.Sink {
	if o.Remote != nil && o.Remote.IsConnected() {
		return o.Remote
	}
	if o.Local == nil {
		return nil
	}
	return o.Local
}
