package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestReconnector_Connect(t *testing.T) {
	t.Run("successful initial connection", func(t *testing.T) {
		voice := newFakeVoice()
		r := NewReconnector(ReconnectorConfig{Sink: voice})

		target := Target{GuildID: "g", ChannelID: "channel-1"}
		if err := r.Connect(context.Background(), target); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if r.Target() != target {
			t.Errorf("Target() = %+v, want %+v", r.Target(), target)
		}
		if !r.Connected() {
			t.Error("expected connected sink")
		}
		if voice.connectCount() != 1 {
			t.Errorf("expected 1 connect call, got %d", voice.connectCount())
		}
	})

	t.Run("connection failure", func(t *testing.T) {
		voice := newFakeVoice()
		voice.setConnectErr(errors.New("auth failed"))
		r := NewReconnector(ReconnectorConfig{Sink: voice})

		if err := r.Connect(context.Background(), Target{ChannelID: "c"}); err == nil {
			t.Fatal("expected error, got nil")
		}
		if !r.Target().IsZero() {
			t.Error("expected no remembered target after failure")
		}
	})

	t.Run("no sink", func(t *testing.T) {
		r := NewReconnector(ReconnectorConfig{})
		if err := r.Connect(context.Background(), Target{ChannelID: "c"}); !errors.Is(err, errNoSink) {
			t.Errorf("err = %v, want errNoSink", err)
		}
		if err := r.Disconnect(); err != nil {
			t.Errorf("Disconnect() = %v", err)
		}
	})
}

func TestReconnector_Defaults(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Sink: newFakeVoice()})

	if r.maxRetries != 10 {
		t.Errorf("expected default maxRetries=10, got %d", r.maxRetries)
	}
	if r.backoff != 1*time.Second {
		t.Errorf("expected default backoff=1s, got %v", r.backoff)
	}
	if r.maxBackoff != 30*time.Second {
		t.Errorf("expected default maxBackoff=30s, got %v", r.maxBackoff)
	}
}

func TestReconnector_ReconnectsAfterDrop(t *testing.T) {
	voice := newFakeVoice()
	var reconnected atomic.Int32
	r := NewReconnector(ReconnectorConfig{
		Sink:        voice,
		Backoff:     5 * time.Millisecond,
		OnReconnect: func(Target) { reconnected.Add(1) },
	})
	t.Cleanup(r.Stop)

	target := Target{GuildID: "g", ChannelID: "c"}
	if err := r.Connect(context.Background(), target); err != nil {
		t.Fatal(err)
	}
	r.Monitor(context.Background())
	r.Monitor(context.Background()) // second call is a no-op

	voice.drop()
	voice.setConnectErr(errors.New("gateway busy"))
	r.NotifyDisconnect()
	time.Sleep(20 * time.Millisecond)
	voice.setConnectErr(nil)

	waitFor(t, "reconnection", func() bool { return reconnected.Load() == 1 })
	if !voice.IsConnected() {
		t.Error("sink not connected after reconnection")
	}
	if voice.connectCount() < 3 {
		t.Errorf("connect calls = %d, want initial + failed + successful", voice.connectCount())
	}
}

func TestReconnector_DisconnectPreventsReconnect(t *testing.T) {
	voice := newFakeVoice()
	r := NewReconnector(ReconnectorConfig{Sink: voice, Backoff: time.Millisecond})
	t.Cleanup(r.Stop)

	if err := r.Connect(context.Background(), Target{ChannelID: "c"}); err != nil {
		t.Fatal(err)
	}
	r.Monitor(context.Background())
	if err := r.Disconnect(); err != nil {
		t.Fatal(err)
	}
	r.NotifyDisconnect()
	time.Sleep(30 * time.Millisecond)

	if n := voice.connectCount(); n != 1 {
		t.Errorf("connect calls = %d, want 1 (no reconnect after deliberate leave)", n)
	}
}

func TestReconnector_GivesUpAfterMaxRetries(t *testing.T) {
	voice := newFakeVoice()
	r := NewReconnector(ReconnectorConfig{Sink: voice, MaxRetries: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	t.Cleanup(r.Stop)

	if err := r.Connect(context.Background(), Target{ChannelID: "c"}); err != nil {
		t.Fatal(err)
	}
	voice.setConnectErr(errors.New("down"))
	r.Monitor(context.Background())
	r.NotifyDisconnect()

	waitFor(t, "three attempts", func() bool { return voice.connectCount() == 4 })
	time.Sleep(20 * time.Millisecond)
	if n := voice.connectCount(); n != 4 {
		t.Errorf("connect calls = %d, want 4", n)
	}
}

func TestReconnector_StopIsIdempotent(t *testing.T) {
	r := NewReconnector(ReconnectorConfig{Sink: newFakeVoice()})
	r.Stop()
	r.Stop()
}
