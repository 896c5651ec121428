package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/sri/internal/resilience"
	"github.com/MrWong99/sri/internal/session"
)

// Speech fails while no speech path can produce audio.
func Speech(s interface{ IsAvailable() bool }) Checker {
	return Checker{Name: "speech", Check: func(context.Context) error {
		if !s.IsAvailable() {
			return errors.New("no speech provider available")
		}
		return nil
	}}
}

// Breaker fails while the named circuit breaker is open.
func Breaker(name string, b interface{ State() resilience.State }) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if st := b.State(); st == resilience.StateOpen {
			return fmt.Errorf("circuit %s", st)
		}
		return nil
	}}
}

// Voice fails while the session wants a voice channel but is not connected
// to it, e.g. during reconnection. Having no voice channel at all is healthy.
func Voice(v interface {
	IsConnected() bool
	VoiceTarget() session.Target
}) Checker {
	return Checker{Name: "voice", Check: func(context.Context) error {
		if t := v.VoiceTarget(); !t.IsZero() && !v.IsConnected() {
			return fmt.Errorf("disconnected from %s", t.ChannelID)
		}
		return nil
	}}
}
