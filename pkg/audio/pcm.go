// Package audio holds PCM16LE helpers shared by the server pipeline and the
// edge device: energy measurement, frame chunking, fade shaping and a WAV
// container writer.
package audio

import (
	"math"
)

// RMS returns the root-mean-square energy of a 16-bit little-endian PCM
// chunk, normalised to [0, 1].
func RMS(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int16(chunk[i]) | (int16(chunk[i+1]) << 8)
		f := float64(sample) / 32768.0
		sum += f * f
	}

	return math.Sqrt(sum / float64(len(chunk)/2))
}

// ChunkSize returns the byte size of one frame of the given duration for
// 16-bit mono PCM.
func ChunkSize(sampleRate, chunkMs int) int {
	return sampleRate * chunkMs / 1000 * 2
}

// Chunk splits PCM bytes into frames of chunkMs duration. The last frame may
// be shorter; every frame stays aligned to whole int16 samples.
func Chunk(pcm []byte, sampleRate, chunkMs int) [][]byte {
	if len(pcm) == 0 {
		return nil
	}

	size := ChunkSize(sampleRate, chunkMs)
	if size < 2 {
		size = 2
	}

	var out [][]byte
	for off := 0; off < len(pcm); off += size {
		end := off + size
		if end > len(pcm) {
			end = len(pcm)
		}
		if end-off < 2 {
			break
		}
		// keep int16 alignment on the tail
		if (end-off)%2 != 0 {
			end--
		}
		out = append(out, pcm[off:end])
	}
	return out
}

// FadeIn applies an in-place linear ramp from 0 to unity over the first
// fadeSamples samples of the chunk.
func FadeIn(chunk []byte, fadeSamples int) {
	applyFade(chunk, fadeSamples, true)
}

// FadeOut applies an in-place linear ramp from unity to 0 over the last
// fadeSamples samples of the chunk.
func FadeOut(chunk []byte, fadeSamples int) {
	applyFade(chunk, fadeSamples, false)
}

func applyFade(chunk []byte, fadeSamples int, in bool) {
	n := len(chunk) / 2
	if n == 0 || fadeSamples <= 0 {
		return
	}
	if fadeSamples > n {
		fadeSamples = n
	}

	for i := 0; i < fadeSamples; i++ {
		var idx int
		var gain float64
		if in {
			idx = i
			gain = float64(i) / float64(fadeSamples)
		} else {
			idx = n - fadeSamples + i
			gain = float64(fadeSamples-1-i) / float64(fadeSamples)
		}

		off := idx * 2
		sample := int16(chunk[off]) | (int16(chunk[off+1]) << 8)
		scaled := int16(float64(sample) * gain)
		chunk[off] = byte(scaled)
		chunk[off+1] = byte(scaled >> 8)
	}
}

// Ramp builds a fadeSamples-long PCM ramp from the given sample value down
// to zero. Used to flush the speaker tail without a click on interrupt.
func Ramp(from int16, fadeSamples int) []byte {
	if fadeSamples <= 0 {
		return nil
	}
	out := make([]byte, fadeSamples*2)
	for i := 0; i < fadeSamples; i++ {
		gain := float64(fadeSamples-1-i) / float64(fadeSamples)
		s := int16(float64(from) * gain)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// Silence returns n bytes of PCM silence (n is rounded down to sample
// alignment).
func Silence(n int) []byte {
	if n < 2 {
		return nil
	}
	return make([]byte, n-n%2)
}

// Tone generates a sine wave, handy for tests and device smoke checks.
func Tone(freqHz int, durationMs int, sampleRate int) []byte {
	samples := sampleRate * durationMs / 1000
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*float64(freqHz)*float64(i)/float64(sampleRate)))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// LastSample returns the final int16 sample of a chunk (0 for empty input).
func LastSample(chunk []byte) int16 {
	if len(chunk) < 2 {
		return 0
	}
	off := len(chunk) - 2
	if len(chunk)%2 != 0 {
		off = len(chunk) - 3
	}
	if off < 0 {
		return 0
	}
	return int16(chunk[off]) | (int16(chunk[off+1]) << 8)
}
