package edge

import (
	"sync"
	"time"

	"github.com/gautambitious/jin-ai/pkg/audio"
	"github.com/gautambitious/jin-ai/pkg/logging"
)

// PlaybackState is the playback engine position.
type PlaybackState string

const (
	PlaybackIdle      PlaybackState = "idle"
	PlaybackBuffering PlaybackState = "buffering"
	PlaybackPlaying   PlaybackState = "playing"
)

// OutputDevice is the speaker. The engine opens it lazily once buffering
// completes and closes it when the session ends; pull is invoked on the
// device thread to fetch the next PCM bytes.
type OutputDevice interface {
	Open(sampleRate int, pull func(out []byte)) error
	Close() error
}

// PlayerConfig tunes the playback engine.
type PlayerConfig struct {
	BufferingChunks int
	FadeSamples     int
	MaxBufferBytes  int
}

// Player is a session-oriented PCM player. It absorbs network jitter in a
// bounded FIFO, starts the device only after a minimum fill, shapes the
// first and last chunks of every session with linear fades, and injects
// silence on momentary underruns instead of closing the device.
type Player struct {
	dev OutputDevice
	cfg PlayerConfig
	log logging.Logger

	mu sync.Mutex

	state         PlaybackState
	sessionActive bool
	streamID      string
	sampleRate    int

	queue       [][]byte
	queuedBytes int
	partial     []byte

	firstChunkPending bool
	ending            bool
	lastSample        int16
	overflowDrops     int

	deviceOpen  bool
	monitorStop chan struct{}
}

func NewPlayer(dev OutputDevice, cfg PlayerConfig, log logging.Logger) *Player {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	if cfg.BufferingChunks <= 0 {
		cfg.BufferingChunks = 2
	}
	if cfg.FadeSamples <= 0 {
		cfg.FadeSamples = 100
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = 1 << 20
	}
	return &Player{
		dev:   dev,
		cfg:   cfg,
		log:   log,
		state: PlaybackIdle,
	}
}

// State reports the engine state.
func (p *Player) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// OverflowDrops reports how many chunks were discarded to bound the buffer.
func (p *Player) OverflowDrops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overflowDrops
}

// BeginSession prepares playback for one response stream. An unfinished
// previous session is torn down first.
func (p *Player) BeginSession(streamID string, sampleRate int) {
	p.Interrupt()

	// a previous session may still be draining its fade tail; reclaim the
	// device synchronously so this session opens it fresh
	p.mu.Lock()
	if p.monitorStop != nil {
		close(p.monitorStop)
		p.monitorStop = nil
	}
	wasOpen := p.deviceOpen
	p.deviceOpen = false
	p.mu.Unlock()
	if wasOpen {
		p.dev.Close()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.state = PlaybackBuffering
	p.sessionActive = true
	p.streamID = streamID
	p.sampleRate = sampleRate
	p.queue = nil
	p.queuedBytes = 0
	p.partial = nil
	p.firstChunkPending = true
	p.ending = false
	p.lastSample = 0

	p.log.Info("playback session started", "stream_id", streamID, "sample_rate", sampleRate)
}

// Feed appends one chunk to the jitter buffer. Reports false when the
// bounded buffer was full and the oldest chunk had to go.
func (p *Player) Feed(chunk []byte) bool {
	if len(chunk) < 2 {
		return true
	}

	p.mu.Lock()
	if !p.sessionActive || p.ending {
		p.mu.Unlock()
		return true
	}

	dropped := false
	for p.queuedBytes+len(chunk) > p.cfg.MaxBufferBytes && len(p.queue) > 0 {
		p.queuedBytes -= len(p.queue[0])
		p.queue = p.queue[1:]
		p.overflowDrops++
		dropped = true
	}
	if dropped {
		p.log.Warn("jitter buffer overflow, dropped oldest", "stream_id", p.streamID, "total_drops", p.overflowDrops)
	}

	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	p.queue = append(p.queue, cp)
	p.queuedBytes += len(cp)

	shouldOpen := p.state == PlaybackBuffering && len(p.queue) >= p.cfg.BufferingChunks
	if shouldOpen {
		p.state = PlaybackPlaying
	}
	rate := p.sampleRate
	p.mu.Unlock()

	if shouldOpen {
		p.openDevice(rate)
	}
	return !dropped
}

// EndSession marks the stream complete: the tail drains, the final chunk
// fades out, and the device closes back to idle.
func (p *Player) EndSession() {
	p.mu.Lock()
	if !p.sessionActive {
		p.mu.Unlock()
		return
	}
	p.ending = true

	if p.state == PlaybackBuffering {
		// short response: never reached the fill threshold, play what we have
		if len(p.queue) > 0 {
			p.state = PlaybackPlaying
			rate := p.sampleRate
			p.applyTailFadeLocked()
			p.mu.Unlock()
			p.openDevice(rate)
			return
		}
		p.resetLocked()
		p.mu.Unlock()
		return
	}

	p.applyTailFadeLocked()
	p.mu.Unlock()
}

// applyTailFadeLocked fades the final queued chunk; with nothing queued the
// device tail gets a synthetic ramp. Caller holds p.mu.
func (p *Player) applyTailFadeLocked() {
	if len(p.queue) > 0 {
		audio.FadeOut(p.queue[len(p.queue)-1], p.cfg.FadeSamples)
		return
	}
	if ramp := audio.Ramp(p.lastSample, p.cfg.FadeSamples); ramp != nil {
		p.queue = append(p.queue, ramp)
		p.queuedBytes += len(ramp)
	}
}

// Interrupt stops playback immediately: the buffer clears and the device
// tail fades so the cut is click-free. Idempotent; a no-op outside a
// session.
func (p *Player) Interrupt() {
	p.mu.Lock()
	if !p.sessionActive {
		p.mu.Unlock()
		return
	}

	p.queue = nil
	p.queuedBytes = 0
	p.partial = nil

	if p.state == PlaybackPlaying {
		// drain a short ramp, then let the monitor close the device
		if ramp := audio.Ramp(p.lastSample, p.cfg.FadeSamples); ramp != nil {
			p.queue = append(p.queue, ramp)
			p.queuedBytes += len(ramp)
		}
		p.ending = true
		p.mu.Unlock()
		p.log.Info("playback interrupted", "stream_id", p.streamID)
		return
	}

	// buffering: the device never opened
	p.resetLocked()
	p.mu.Unlock()
	p.log.Info("playback interrupted before start", "stream_id", p.streamID)
}

// resetLocked returns to idle. Caller holds p.mu.
func (p *Player) resetLocked() {
	p.state = PlaybackIdle
	p.sessionActive = false
	p.ending = false
	p.queue = nil
	p.queuedBytes = 0
	p.partial = nil
	p.firstChunkPending = false
}

// openDevice opens the speaker and starts the drain monitor. The device is
// opened once per session and never reopened mid-session.
func (p *Player) openDevice(sampleRate int) {
	if err := p.dev.Open(sampleRate, p.pull); err != nil {
		p.log.Error("failed to open output device", "error", err)
		p.mu.Lock()
		p.resetLocked()
		p.mu.Unlock()
		return
	}

	stop := make(chan struct{})
	p.mu.Lock()
	p.deviceOpen = true
	p.monitorStop = stop
	p.mu.Unlock()

	go p.monitor(stop)
}

// monitor waits for an ending session to drain, then closes the device and
// transitions to idle.
func (p *Player) monitor(stop chan struct{}) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			done := p.ending && len(p.queue) == 0 && len(p.partial) == 0
			if !done {
				p.mu.Unlock()
				continue
			}
			streamID := p.streamID
			p.resetLocked()
			p.monitorStop = nil
			p.deviceOpen = false
			p.mu.Unlock()

			p.dev.Close()
			p.log.Info("playback session ended", "stream_id", streamID)
			return
		}
	}
}

// pull runs on the device thread. It fills out from the jitter buffer,
// applies the one fade-in per session to the first chunk delivered, and
// substitutes silence on underrun while the session is still live.
func (p *Player) pull(out []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	filled := 0
	for filled < len(out) {
		if len(p.partial) == 0 {
			if len(p.queue) == 0 {
				break
			}
			next := p.queue[0]
			p.queue = p.queue[1:]
			p.queuedBytes -= len(next)

			if p.firstChunkPending {
				audio.FadeIn(next, p.cfg.FadeSamples)
				p.firstChunkPending = false
			}
			p.partial = next
		}

		n := copy(out[filled:], p.partial)
		p.partial = p.partial[n:]
		filled += n
	}

	if filled > 0 {
		p.lastSample = audio.LastSample(out[:filled])
	}

	// underrun: keep the device fed with silence rather than closing it
	for i := filled; i < len(out); i++ {
		out[i] = 0
	}
}
