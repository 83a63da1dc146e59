// Package edge implements the device side of the pipeline: microphone
// capture gated by wake word or push-to-talk, adaptive silence detection,
// and jitter-buffered click-free playback.
package edge

import (
	"github.com/gautambitious/jin-ai/pkg/audio"
)

// SpeechEvent marks a speech-state change in the capture stream.
type SpeechEvent int

const (
	SpeechNone SpeechEvent = iota
	SpeechStarted
	SpeechEnded
)

// defaultSilenceThreshold is the absolute normalised-RMS floor used until a
// baseline is established.
const defaultSilenceThreshold = 0.015

// SilenceDetector declares end-of-speech after sustained low energy. The
// threshold adapts to the room: it is the mean RMS of the pre-trigger
// window scaled by a ratio, not a fixed absolute value.
type SilenceDetector struct {
	chunkMs             int
	silenceChunksNeeded int
	ratio               float64

	threshold    float64
	baselineSet  bool
	isSpeaking   bool
	silenceCount int
}

func NewSilenceDetector(chunkMs, silenceDurationMs int, ratio float64) *SilenceDetector {
	needed := silenceDurationMs / chunkMs
	if needed < 1 {
		needed = 1
	}
	return &SilenceDetector{
		chunkMs:             chunkMs,
		silenceChunksNeeded: needed,
		ratio:               ratio,
		threshold:           defaultSilenceThreshold,
	}
}

// SetBaseline derives the silence threshold from the pre-trigger energy
// level.
func (d *SilenceDetector) SetBaseline(rms float64) {
	if rms <= 0 {
		return
	}
	d.threshold = rms * d.ratio
	d.baselineSet = true
}

// ClearBaseline reverts to the absolute default threshold.
func (d *SilenceDetector) ClearBaseline() {
	d.threshold = defaultSilenceThreshold
	d.baselineSet = false
}

// Threshold reports the active silence threshold.
func (d *SilenceDetector) Threshold() float64 {
	return d.threshold
}

// IsSpeaking reports whether speech is currently detected.
func (d *SilenceDetector) IsSpeaking() bool {
	return d.isSpeaking
}

// Process classifies one capture chunk. SpeechEnded fires only after the
// energy stays below threshold for the full sustained window.
func (d *SilenceDetector) Process(chunk []byte) SpeechEvent {
	if len(chunk) < 2 {
		return SpeechNone
	}

	rms := audio.RMS(chunk)

	if rms < d.threshold {
		d.silenceCount++
		if d.isSpeaking && d.silenceCount >= d.silenceChunksNeeded {
			d.isSpeaking = false
			d.silenceCount = 0
			return SpeechEnded
		}
		return SpeechNone
	}

	d.silenceCount = 0
	if !d.isSpeaking {
		d.isSpeaking = true
		return SpeechStarted
	}
	return SpeechNone
}

// Reset clears the speech state but keeps the baseline; baselines persist
// until explicitly cleared.
func (d *SilenceDetector) Reset() {
	d.isSpeaking = false
	d.silenceCount = 0
}
