package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrInvalidWAV is returned by [DecodeWAV] for data that is not a RIFF/WAVE
// PCM file.
var ErrInvalidWAV = errors.New("audio: invalid wav data")

// EncodeWAV wraps clip in a 16-bit PCM WAV container.
func EncodeWAV(clip Clip) ([]byte, error) {
	if clip.Format.SampleRate <= 0 || clip.Format.Channels <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid format %s", clip.Format)
	}
	samples := Int16s(clip.PCM)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: clip.Format.Channels,
			SampleRate:  clip.Format.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, clip.Format.SampleRate, 16, clip.Format.Channels, 1)
	if err := enc.Write(buf); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	return ws.buf, nil
}

// DecodeWAV parses a PCM WAV file and returns its samples as 16-bit PCM.
// 8, 24 and 32-bit integer sources are rescaled to 16 bits.
func DecodeWAV(data []byte) (Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Clip{}, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode wav: %w", err)
	}

	shift := 0
	switch dec.BitDepth {
	case 8, 16:
	case 24:
		shift = 8
	case 32:
		shift = 16
	default:
		return Clip{}, fmt.Errorf("audio: decode wav: unsupported bit depth %d", dec.BitDepth)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		if dec.BitDepth == 8 {
			samples[i] = int16((v - 128) << 8)
			continue
		}
		samples[i] = int16(v >> shift)
	}
	return Clip{
		PCM: Bytes(samples),
		Format: Format{
			SampleRate: int(dec.SampleRate),
			Channels:   int(dec.NumChans),
		},
	}, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes when it is closed.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	if need := w.pos + len(p); need > len(w.buf) {
		w.buf = append(w.buf, make([]byte, need-len(w.buf))...)
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.pos) + offset
	case io.SeekEnd:
		abs = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	w.pos = int(abs)
	return abs, nil
}
