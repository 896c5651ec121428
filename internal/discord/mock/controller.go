package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/sri/internal/session"
)

// TextCall records a single HandleText invocation.
type TextCall struct {
	Channel string
	Speaker string
	Text    string
}

// Controller is a mock voice session that records every call.
type Controller struct {
	mu sync.Mutex

	// StartErr is returned by Start.
	StartErr error

	// ConnectResult is returned by Connect. A successful connect marks the
	// controller connected to the target.
	ConnectResult bool

	// Reply is returned by HandleText; an empty Reply means no answer.
	Reply string

	connected bool
	listening bool
	channel   string
	target    session.Target

	starts      []string
	connects    []session.Target
	disconnects int
	lost        int
	texts       []TextCall
}

// Start records the delivery channel and marks the controller listening.
func (c *Controller) Start(_ context.Context, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts = append(c.starts, channel)
	if c.StartErr != nil {
		return c.StartErr
	}
	c.listening = true
	c.channel = channel
	return nil
}

// StopListening marks the controller idle.
func (c *Controller) StopListening() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = false
}

// Listening reports the push-to-talk mode while listening.
func (c *Controller) Listening() (session.Mode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.listening {
		return "", false
	}
	return session.ModePushToTalk, true
}

// Channel returns the last channel passed to Start.
func (c *Controller) Channel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Connect records target and returns ConnectResult.
func (c *Controller) Connect(_ context.Context, target session.Target) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects = append(c.connects, target)
	if c.ConnectResult {
		c.connected = true
		c.target = target
	}
	return c.ConnectResult
}

// Disconnect forgets the target.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	c.connected = false
	c.target = session.Target{}
}

// IsConnected reports whether a Connect succeeded since the last Disconnect.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// VoiceTarget returns the connected target.
func (c *Controller) VoiceTarget() session.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// VoiceLost counts drop notifications.
func (c *Controller) VoiceLost() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lost++
}

// HandleText records the message and returns Reply.
func (c *Controller) HandleText(_ context.Context, channel, speaker, text string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, TextCall{Channel: channel, Speaker: speaker, Text: text})
	return c.Reply, c.Reply != ""
}

// SetConnected marks the controller connected to target without recording
// a Connect call.
func (c *Controller) SetConnected(target session.Target) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	c.target = target
}

// Starts returns the channels passed to Start.
func (c *Controller) Starts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.starts...)
}

// Connects returns the targets passed to Connect.
func (c *Controller) Connects() []session.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.Target(nil), c.connects...)
}

// Disconnects returns how often Disconnect was called.
func (c *Controller) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// Lost returns how often VoiceLost was called.
func (c *Controller) Lost() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// Texts returns the recorded HandleText calls.
func (c *Controller) Texts() []TextCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]TextCall(nil), c.texts...)
}
