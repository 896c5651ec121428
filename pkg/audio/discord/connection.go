package discord

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

const frameQueueSize = 50 // one second of 20 ms frames

// connection owns one joined voice channel. Queued PCM frames are encoded to
// Opus and sent by a single goroutine so utterances never interleave.
type connection struct {
	vc        *discordgo.VoiceConnection
	channelID string

	// frames carries 20 ms PCM frames; a nil entry marks the end of an
	// utterance and clears the speaking indicator.
	frames chan []byte

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection. Defaults to
	// vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

func newConnection(vc *discordgo.VoiceConnection, channelID string) *connection {
	c := &connection{
		vc:           vc,
		channelID:    channelID,
		frames:       make(chan []byte, frameQueueSize),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}
	go c.sendLoop()
	return c
}

// close stops the send loop and disconnects. Safe to call more than once.
func (c *connection) close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.loopDone
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

func (c *connection) sendLoop() {
	defer close(c.loopDone)

	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: voice send loop disabled", "err", err)
		return
	}

	speaking := false
	for {
		select {
		case <-c.done:
			if speaking {
				c.setSpeaking(false)
			}
			return
		case frame := <-c.frames:
			if frame == nil {
				if speaking {
					c.setSpeaking(false)
					speaking = false
				}
				continue
			}
			if !speaking {
				c.setSpeaking(true)
				speaking = true
			}
			pkt, err := enc.encode(frame)
			if err != nil {
				slog.Warn("discord: dropping frame", "err", err)
				continue
			}
			select {
			case c.vc.OpusSend <- pkt:
			case <-c.done:
				return
			}
		}
	}
}

func (c *connection) setSpeaking(b bool) {
	if err := c.vc.Speaking(b); err != nil {
		slog.Debug("discord: speaking notification failed", "speaking", b, "err", err)
	}
}
