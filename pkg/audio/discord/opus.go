package discord

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/MrWong99/sri/pkg/audio"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusFrameBytes is the PCM size of one frame: 960 × 2 channels × 2 bytes.
	opusFrameBytes = opusFrameSize * opusChannels * 2
)

var opusFormat = audio.Format{SampleRate: opusSampleRate, Channels: opusChannels}

// opusEncoder wraps a gopus encoder for the outgoing voice stream.
type opusEncoder struct {
	enc *gopus.Encoder
}

func newOpusEncoder() (*opusEncoder, error) {
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &opusEncoder{enc: enc}, nil
}

// encode encodes exactly one frame of 48 kHz stereo PCM into an Opus packet.
func (e *opusEncoder) encode(frame []byte) ([]byte, error) {
	pkt, err := e.enc.Encode(audio.Int16s(frame), opusFrameSize, len(frame))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return pkt, nil
}

// splitFrames cuts pcm into Opus-sized frames, zero-padding the last one.
func splitFrames(pcm []byte) [][]byte {
	var frames [][]byte
	for off := 0; off < len(pcm); off += opusFrameBytes {
		end := off + opusFrameBytes
		if end <= len(pcm) {
			frames = append(frames, pcm[off:end])
			continue
		}
		last := make([]byte, opusFrameBytes)
		copy(last, pcm[off:])
		frames = append(frames, last)
	}
	return frames
}
