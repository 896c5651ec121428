// Package discord provides an [audio.Sink] that speaks into a Discord voice
// channel via the bwmarrin/discordgo library.
//
// A [Voice] requires an active *discordgo.Session owned by the bot layer. It
// holds at most one voice connection at a time; connecting to a new channel
// tears down the previous connection first. Outgoing PCM is converted to
// 48 kHz stereo, cut into 20 ms frames, Opus-encoded with layeh.com/gopus and
// sent by a single goroutine per connection.
package discord

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/sri/pkg/audio"
)

// ErrNotConnected is returned by [Voice.Play] when no voice channel is joined.
var ErrNotConnected = errors.New("discord: voice not connected")

var (
	_ audio.Sink     = (*Voice)(nil)
	_ audio.Detached = (*Voice)(nil)
)

// joinFunc joins a voice channel. It matches
// (*discordgo.Session).ChannelVoiceJoin with mute=false and deaf=true.
type joinFunc func(guildID, channelID string) (*discordgo.VoiceConnection, error)

// Voice is a reconnectable Discord voice output. It is safe for concurrent
// use; Play calls are serialised internally.
type Voice struct {
	join joinFunc

	mu   sync.Mutex
	conn *connection

	playMu sync.Mutex
	conv   audio.Converter
}

// New returns a Voice that joins channels through session.
func New(session *discordgo.Session) *Voice {
	return newVoice(func(guildID, channelID string) (*discordgo.VoiceConnection, error) {
		// Sri only speaks; it never listens on the voice channel.
		return session.ChannelVoiceJoin(guildID, channelID, false, true)
	})
}

func newVoice(join joinFunc) *Voice {
	return &Voice{
		join: join,
		conv: audio.Converter{Target: opusFormat},
	}
}

// Connect joins channelID in guildID, replacing any existing connection.
// The join is abandoned when ctx is done first.
func (v *Voice) Connect(ctx context.Context, guildID, channelID string) error {
	v.mu.Lock()
	old := v.conn
	v.conn = nil
	v.mu.Unlock()
	if old != nil {
		_ = old.close()
	}

	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := v.join(guildID, channelID)
		ch <- result{vc, err}
	}()

	select {
	case <-ctx.Done():
		// Tear down a join that completes after we gave up on it.
		go func() {
			if r := <-ch; r.err == nil && r.vc != nil {
				_ = r.vc.Disconnect()
			}
		}()
		return fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("discord: join voice channel %q: %w", channelID, r.err)
		}
		v.mu.Lock()
		v.conn = newConnection(r.vc, channelID)
		v.mu.Unlock()
		return nil
	}
}

// Disconnect leaves the current voice channel. It is a no-op when not
// connected.
func (v *Voice) Disconnect() error {
	v.mu.Lock()
	c := v.conn
	v.conn = nil
	v.mu.Unlock()
	if c == nil {
		return nil
	}
	if err := c.close(); err != nil {
		return fmt.Errorf("discord: disconnect: %w", err)
	}
	return nil
}

// IsConnected reports whether a voice channel is currently joined.
func (v *Voice) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn != nil
}

// ChannelID returns the joined voice channel, or "" when not connected.
func (v *Voice) ChannelID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return ""
	}
	return v.conn.channelID
}

// Play implements [audio.Sink]. It returns once every frame of clip has been
// queued for sending, which is up to one second before the channel hears
// the end of it.
func (v *Voice) Play(ctx context.Context, clip audio.Clip) error {
	v.mu.Lock()
	c := v.conn
	v.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}

	v.playMu.Lock()
	defer v.playMu.Unlock()

	clip = v.conv.Convert(clip)
	for _, frame := range append(splitFrames(clip.PCM), nil) {
		select {
		case c.frames <- frame:
		case <-c.done:
			return ErrNotConnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Detached implements [audio.Detached].
func (v *Voice) Detached() bool { return true }
