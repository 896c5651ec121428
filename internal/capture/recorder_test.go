package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/sri/pkg/audio"
	"github.com/MrWong99/sri/pkg/audio/mock"
)

func TestRecorder_Unavailable(t *testing.T) {
	t.Parallel()
	r := NewRecorder(nil)
	if r.Available() {
		t.Fatal("Available() = true for nil source")
	}
	if _, err := r.Record(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestRecorder_RecordUntilCancel(t *testing.T) {
	t.Parallel()
	src := &mock.Source{FrameDelay: 10 * time.Millisecond}
	r := NewRecorder(src)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	rec, err := r.Record(ctx)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", rec.Chunks)
	}
	if len(rec.Clip.PCM) < MinPayloadBytes {
		t.Errorf("payload %d bytes, want >= %d", len(rec.Clip.PCM), MinPayloadBytes)
	}
	if rec.Clip.Format != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("format = %v", rec.Clip.Format)
	}
	back, err := audio.DecodeWAV(rec.WAV)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(back.PCM) != len(rec.Clip.PCM) {
		t.Errorf("wav pcm = %d bytes, want %d", len(back.PCM), len(rec.Clip.PCM))
	}
	if src.CallCountStart != 1 || src.CallCountStop != 1 {
		t.Errorf("start/stop = %d/%d, want 1/1", src.CallCountStart, src.CallCountStop)
	}
}

func TestRecorder_SplitsIntoChunks(t *testing.T) {
	t.Parallel()
	// 3200-byte frames, 100 ms chunks of 3200 bytes: one chunk per frame.
	src := &mock.Source{FrameDelay: 5 * time.Millisecond}
	r := NewRecorder(src, WithChunkDuration(100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	rec, err := r.Record(ctx)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.Chunks < 2 {
		t.Errorf("Chunks = %d, want several", rec.Chunks)
	}
	if len(rec.Clip.PCM) != 3200 {
		t.Errorf("payload = %d bytes, want a single 3200-byte chunk", len(rec.Clip.PCM))
	}
}

func TestRecorder_StartFailure(t *testing.T) {
	t.Parallel()
	src := &mock.Source{StartErr: audio.ErrDeviceUnavailable}
	r := NewRecorder(src)

	_, err := r.Record(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("err = %v, want wrapped ErrDeviceUnavailable", err)
	}
}

func TestRecorder_ReadErrorWithoutAudio(t *testing.T) {
	t.Parallel()
	src := &mock.Source{ReadErr: errors.New("overflow")}
	r := NewRecorder(src)

	if _, err := r.Record(context.Background()); !errors.Is(err, ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
}

func TestRecorder_Busy(t *testing.T) {
	t.Parallel()
	src := &mock.Source{FrameDelay: 10 * time.Millisecond}
	r := NewRecorder(src)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Record(ctx)
	}()

	// Wait for the first recording to be running.
	deadline := time.Now().Add(time.Second)
	for src.Reads() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := r.Record(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Record err = %v, want ErrBusy", err)
	}
	cancel()
	wg.Wait()
}

func TestBuildRecording(t *testing.T) {
	t.Parallel()
	format := audio.Format{SampleRate: 16000, Channels: 1}

	if _, err := buildRecording(nil, format, 0); !errors.Is(err, ErrNoAudio) {
		t.Errorf("no chunks: err = %v, want ErrNoAudio", err)
	}
	if _, err := buildRecording([][]byte{make([]byte, 999)}, format, 0); !errors.Is(err, ErrTooSmall) {
		t.Errorf("999 bytes: err = %v, want ErrTooSmall", err)
	}

	chunks := [][]byte{make([]byte, 2000), make([]byte, 6000), make([]byte, 4000)}
	rec, err := buildRecording(chunks, format, time.Second)
	if err != nil {
		t.Fatalf("buildRecording: %v", err)
	}
	if len(rec.Clip.PCM) != 6000 {
		t.Errorf("payload = %d bytes, want largest chunk of 6000", len(rec.Clip.PCM))
	}
	if rec.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", rec.Chunks)
	}
}

func TestLargest_TieKeepsFirst(t *testing.T) {
	t.Parallel()
	a, b := []byte{1, 1}, []byte{2, 2}
	if got := largest([][]byte{a, b}); got[0] != 1 {
		t.Error("tie should keep the earliest chunk")
	}
}
