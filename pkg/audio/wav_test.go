package audio_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/sri/pkg/audio"
)

func TestWAV_RoundTrip(t *testing.T) {
	in := audio.Clip{
		PCM:    audio.Bytes([]int16{0, 1000, -1000, 32767, -32768, 42}),
		Format: audio.Format{SampleRate: 16000, Channels: 1},
	}
	data, err := audio.EncodeWAV(in)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}

	out, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.Format != in.Format {
		t.Fatalf("format = %v, want %v", out.Format, in.Format)
	}
	equalSamples(t, audio.Int16s(out.PCM), audio.Int16s(in.PCM))
}

func TestEncodeWAV_InvalidFormat(t *testing.T) {
	if _, err := audio.EncodeWAV(audio.Clip{PCM: []byte{0, 0}}); err == nil {
		t.Fatal("expected error for zero format")
	}
}

func TestDecodeWAV_Garbage(t *testing.T) {
	_, err := audio.DecodeWAV([]byte("definitely not a wav file"))
	if !errors.Is(err, audio.ErrInvalidWAV) {
		t.Fatalf("err = %v, want ErrInvalidWAV", err)
	}
}
