package health

import (
	"context"
	"testing"

	"github.com/MrWong99/sri/internal/resilience"
	"github.com/MrWong99/sri/internal/session"
)

type availability bool

func (a availability) IsAvailable() bool { return bool(a) }

type breakerState resilience.State

func (b breakerState) State() resilience.State { return resilience.State(b) }

type voiceState struct {
	connected bool
	target    session.Target
}

func (v voiceState) IsConnected() bool            { return v.connected }
func (v voiceState) VoiceTarget() session.Target { return v.target }

func TestCheckers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		checker Checker
		wantErr bool
	}{
		{name: "speech available", checker: Speech(availability(true))},
		{name: "speech unavailable", checker: Speech(availability(false)), wantErr: true},
		{name: "breaker closed", checker: Breaker("tts", breakerState(resilience.StateClosed))},
		{name: "breaker half-open", checker: Breaker("tts", breakerState(resilience.StateHalfOpen))},
		{name: "breaker open", checker: Breaker("tts", breakerState(resilience.StateOpen)), wantErr: true},
		{name: "voice idle", checker: Voice(voiceState{})},
		{name: "voice connected", checker: Voice(voiceState{connected: true, target: session.Target{ChannelID: "v"}})},
		{name: "voice reconnecting", checker: Voice(voiceState{target: session.Target{ChannelID: "v"}}), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.checker.Check(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Check() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
