package audio

import (
	"log/slog"
	"sync"
)

// Converter converts clips to a fixed target format. It logs once on the
// first format mismatch and once on the first misaligned buffer.
// Create one per sink; not designed for shared use across goroutines.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns clip in the target format. A clip already in the target
// format is returned unchanged. Misaligned PCM (a byte count that is not a
// whole number of frames) yields an empty clip.
func (c *Converter) Convert(clip Clip) Clip {
	src := clip.Format
	if src.Channels <= 0 || len(clip.PCM)%(2*src.Channels) != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio: converter dropping misaligned clip",
				"bytes", len(clip.PCM),
				"format", src.String(),
			)
		})
		return Clip{Format: c.Target}
	}
	if src == c.Target {
		return clip
	}
	c.warnedMismatch.Do(func() {
		slog.Debug("audio: converting clip", "from", src.String(), "to", c.Target.String())
	})
	return ConvertClip(clip, c.Target)
}

// ConvertClip resamples and remixes clip to target. Resampling happens
// before channel conversion so mono sources are never resampled as stereo.
func ConvertClip(clip Clip, target Format) Clip {
	pcm := clip.PCM
	ch := clip.Format.Channels
	if clip.Format.SampleRate != target.SampleRate {
		pcm = Resample16(pcm, ch, clip.Format.SampleRate, target.SampleRate)
	}
	switch {
	case ch == 1 && target.Channels == 2:
		pcm = MonoToStereo(pcm)
	case ch == 2 && target.Channels == 1:
		pcm = StereoToMono(pcm)
	}
	return Clip{PCM: pcm, Format: target}
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, 0, len(pcm)*2)
	for i := 0; i+1 < len(pcm); i += 2 {
		out = append(out, pcm[i], pcm[i+1], pcm[i], pcm[i+1])
	}
	return out
}

// StereoToMono averages each L+R pair into one sample.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / 4
	out := make([]byte, n*2)
	for i := range n {
		avg := (int32(sample(pcm, i*2)) + int32(sample(pcm, i*2+1))) / 2
		putSample(out, i, clamp16(avg))
	}
	return out
}

// Resample16 resamples interleaved 16-bit PCM with the given channel count
// from srcRate to dstRate by linear interpolation. Invalid rates or an input
// shorter than one frame return pcm unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if channels <= 0 || srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return pcm
	}
	srcFrames := len(pcm) / (2 * channels)
	if srcFrames == 0 {
		return pcm
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstFrames*2*channels)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		next := idx + 1
		if next >= srcFrames {
			next = srcFrames - 1
		}
		for c := range channels {
			s0 := float64(sample(pcm, idx*channels+c))
			s1 := float64(sample(pcm, next*channels+c))
			putSample(out, i*channels+c, int16(s0*(1-frac)+s1*frac))
		}
	}
	return out
}

// Int16s decodes little-endian PCM into samples.
func Int16s(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = sample(pcm, i)
	}
	return out
}

// Bytes encodes samples as little-endian PCM.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

func sample(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}

func putSample(pcm []byte, i int, s int16) {
	pcm[i*2] = byte(s)
	pcm[i*2+1] = byte(s >> 8)
}

func clamp16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
