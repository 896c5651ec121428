package audio

import (
	"fmt"
	"io"

	"github.com/faiface/beep/mp3"
)

// DecodeMP3 fully decodes an MP3 stream into 16-bit PCM. Mono sources stay
// mono; everything else is decoded as stereo.
func DecodeMP3(r io.Reader) (Clip, error) {
	streamer, format, err := mp3.Decode(io.NopCloser(r))
	if err != nil {
		return Clip{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	defer streamer.Close()

	channels := 2
	if format.NumChannels == 1 {
		channels = 1
	}
	var samples []int16
	buf := make([][2]float64, 1024)
	for {
		n, ok := streamer.Stream(buf)
		for _, frame := range buf[:n] {
			samples = append(samples, floatTo16(frame[0]))
			if channels == 2 {
				samples = append(samples, floatTo16(frame[1]))
			}
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return Clip{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	return Clip{
		PCM:    Bytes(samples),
		Format: Format{SampleRate: int(format.SampleRate), Channels: channels},
	}, nil
}

func floatTo16(v float64) int16 {
	return clamp16(int32(v * 32767))
}
