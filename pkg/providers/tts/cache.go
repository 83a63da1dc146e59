package tts

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gautambitious/jin-ai/pkg/audio"
)

// WelcomeCache stores a pre-generated welcome-audio blob on disk, keyed by
// the TTS model id. Blobs are stored as WAV so they stay playable with
// ordinary tools; purely an optimisation, misses are normal. Sessions do not
// read the cache, so its audio is not sent to devices.
type WelcomeCache struct {
	dir string
}

func NewWelcomeCache(dir string) *WelcomeCache {
	return &WelcomeCache{dir: dir}
}

// Load returns the cached PCM and its sample rate for the model, or false
// on any miss.
func (c *WelcomeCache) Load(model string) ([]byte, int, bool) {
	if c == nil || c.dir == "" {
		return nil, 0, false
	}
	data, err := os.ReadFile(c.path(model))
	if err != nil {
		return nil, 0, false
	}
	pcm, rate, err := audio.PCMFromWav(data)
	if err != nil || len(pcm) == 0 {
		return nil, 0, false
	}
	return pcm, rate, true
}

// Store writes the PCM for the model. Failures are returned but callers may
// ignore them; the cache is not part of correctness.
func (c *WelcomeCache) Store(model string, pcm []byte, sampleRate int) error {
	if c == nil || c.dir == "" {
		return nil
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("welcome cache dir: %w", err)
	}
	return os.WriteFile(c.path(model), audio.NewWavBuffer(pcm, sampleRate), 0o644)
}

func (c *WelcomeCache) path(model string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, model)
	return filepath.Join(c.dir, "welcome-"+safe+".wav")
}
