package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sri/internal/capture"
	audiomock "github.com/MrWong99/sri/pkg/audio/mock"
	"github.com/MrWong99/sri/pkg/keyboard"
)

// fakeKeys is a push-to-talk key source driven by the test.
type fakeKeys chan keyboard.Event

func (k fakeKeys) Events() <-chan keyboard.Event { return k }

type fakePTT struct {
	mu        sync.Mutex
	available bool
	running   bool
	starts    int
	stops     int
	events    chan capture.Event
}

func newFakePTT() *fakePTT {
	return &fakePTT{available: true, events: make(chan capture.Event, 8)}
}

func (f *fakePTT) Available() bool { return f.available }

func (f *fakePTT) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.starts++
	return nil
}

func (f *fakePTT) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.stops++
	}
	f.running = false
}

func (f *fakePTT) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakePTT) Events() <-chan capture.Event { return f.events }

type fakeListener struct {
	mu        sync.Mutex
	available bool
	running   bool
	paused    bool
	phrases   chan capture.Phrase
}

func newFakeListener() *fakeListener {
	return &fakeListener{available: true, phrases: make(chan capture.Phrase, 8)}
}

func (f *fakeListener) Available() bool { return f.available }

func (f *fakeListener) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeListener) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

func (f *fakeListener) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeListener) Phrases() <-chan capture.Phrase { return f.phrases }

func (f *fakeListener) SetPaused(p bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = p
}

func (f *fakeListener) Paused() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused
}

type sentMessage struct {
	Channel string
	Text    string
}

type fakeText struct {
	sent chan sentMessage
	err  error
}

func newFakeText() *fakeText { return &fakeText{sent: make(chan sentMessage, 8)} }

func (f *fakeText) Send(_ context.Context, channel, text string) error {
	f.sent <- sentMessage{Channel: channel, Text: text}
	return f.err
}

func (f *fakeText) next(t *testing.T) sentMessage {
	t.Helper()
	select {
	case m := <-f.sent:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a text message")
		return sentMessage{}
	}
}

type fakeVoice struct {
	*audiomock.Sink

	mu         sync.Mutex
	connectErr error
	connected  bool
	connects   []Target
	disconnect int
}

func newFakeVoice() *fakeVoice {
	return &fakeVoice{Sink: &audiomock.Sink{}}
}

func (f *fakeVoice) Connect(_ context.Context, guildID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, Target{GuildID: guildID, ChannelID: channelID})
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeVoice) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.disconnect++
	}
	f.connected = false
	return nil
}

func (f *fakeVoice) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// drop simulates the platform closing the connection.
func (f *fakeVoice) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakeVoice) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeVoice) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var errBoom = errors.New("boom")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
