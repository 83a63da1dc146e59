package edge

import (
	"sync"
	"time"

	"github.com/gautambitious/jin-ai/pkg/audio"
	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/protocol"
)

// FrameSender is the non-blocking outbound half the capture loop talks to.
// A false return means the frame was dropped on backpressure.
type FrameSender interface {
	TrySendControl(msg interface{}) bool
	TrySendBinary(chunk []byte) bool
}

// playbackControl is the slice of the Player the capture side needs for
// barge-in.
type playbackControl interface {
	Interrupt()
	State() PlaybackState
}

// CaptureConfig tunes one capture controller.
type CaptureConfig struct {
	SampleRate int
	Channels   int
	ChunkMs    int
	Language   string

	SilenceDurationMs    int
	ListeningTimeout     time.Duration
	RelativeSilenceRatio float64
}

// baselineWindowMs is how much pre-trigger energy history feeds the
// adaptive silence baseline.
const baselineWindowMs = 2000

// CaptureController decides when mic audio flows to the server. In
// wake-word mode the detector gates a capture session; push-to-talk toggles
// one directly. During a session it streams PCM frames, stops on adaptive
// silence, hard timeout or user command, and owns the barge-in trigger: a
// wake event during playback interrupts the player and tells the server.
//
// ProcessChunk runs on the mic device callback and must never block; all
// sends go through the non-blocking FrameSender.
type CaptureController struct {
	sender   FrameSender
	detector WakeWordDetector
	silence  *SilenceDetector
	playback playbackControl
	cfg      CaptureConfig
	log      logging.Logger

	mu           sync.Mutex
	capturing    bool
	captureStart time.Time

	energyWindow []float64
	windowMax    int

	droppedFrames int

	// now is swappable for tests
	now func() time.Time
}

func NewCaptureController(sender FrameSender, detector WakeWordDetector, playback playbackControl, cfg CaptureConfig, log logging.Logger) *CaptureController {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	if cfg.ChunkMs <= 0 {
		cfg.ChunkMs = 30
	}
	windowMax := baselineWindowMs / cfg.ChunkMs
	if windowMax < 1 {
		windowMax = 1
	}
	return &CaptureController{
		sender:    sender,
		detector:  detector,
		silence:   NewSilenceDetector(cfg.ChunkMs, cfg.SilenceDurationMs, cfg.RelativeSilenceRatio),
		playback:  playback,
		cfg:       cfg,
		log:       log,
		windowMax: windowMax,
		now:       time.Now,
	}
}

// Capturing reports whether a capture session is active.
func (c *CaptureController) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capturing
}

// DroppedFrames reports frames lost to transport backpressure.
func (c *CaptureController) DroppedFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.droppedFrames
}

// ProcessChunk consumes one mic chunk. Called from the audio device
// callback; everything here is non-blocking.
func (c *CaptureController) ProcessChunk(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		c.handleCaptureChunk(chunk)
		return
	}
	c.handleListeningChunk(chunk)
}

func (c *CaptureController) handleListeningChunk(chunk []byte) {
	// track pre-trigger energy for the adaptive baseline
	c.energyWindow = append(c.energyWindow, audio.RMS(chunk))
	if len(c.energyWindow) > c.windowMax {
		c.energyWindow = c.energyWindow[1:]
	}

	if !c.detector.ProcessChunk(chunk) {
		return
	}

	c.log.Info("wake word detected")

	// barge-in: a wake event during playback cancels the response first
	if c.playback != nil && c.playback.State() != PlaybackIdle {
		c.log.Info("barge-in: interrupting playback")
		if !c.sender.TrySendControl(protocol.Interrupt()) {
			c.log.Warn("interrupt frame dropped on backpressure")
		}
		c.playback.Interrupt()
	}

	c.startCapture()
}

// TogglePTT flips push-to-talk: starts a session when idle, stops it when
// live.
func (c *CaptureController) TogglePTT() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		c.stopCapture("push_to_talk")
		return
	}
	if c.playback != nil && c.playback.State() != PlaybackIdle {
		if !c.sender.TrySendControl(protocol.Interrupt()) {
			c.log.Warn("interrupt frame dropped on backpressure")
		}
		c.playback.Interrupt()
	}
	c.startCapture()
}

// Stop ends an active capture on user command.
func (c *CaptureController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		c.stopCapture("user")
	}
}

func (c *CaptureController) startCapture() {
	if c.capturing {
		return
	}

	if baseline := c.baseline(); baseline > 0 {
		c.silence.SetBaseline(baseline)
		c.log.Info("adaptive silence baseline set",
			"baseline", baseline, "threshold", c.silence.Threshold())
	}
	c.silence.Reset()
	c.detector.StopListening()

	ok := c.sender.TrySendControl(protocol.StartAudioInput(protocol.AudioConfig{
		SampleRate: c.cfg.SampleRate,
		Channels:   c.cfg.Channels,
		Encoding:   "linear16",
		Language:   c.cfg.Language,
	}))
	if !ok {
		c.log.Warn("start_audio_input dropped, abandoning capture")
		c.detector.StartListening()
		return
	}

	c.capturing = true
	c.captureStart = c.now()
	c.log.Info("capture started", "timeout", c.cfg.ListeningTimeout.String())
}

func (c *CaptureController) handleCaptureChunk(chunk []byte) {
	if !c.sender.TrySendBinary(chunk) {
		c.droppedFrames++
		c.log.Warn("capture frame dropped on backpressure", "total_dropped", c.droppedFrames)
	}

	if c.now().Sub(c.captureStart) >= c.cfg.ListeningTimeout {
		c.stopCapture("timeout")
		return
	}

	if c.silence.Process(chunk) == SpeechEnded {
		c.stopCapture("silence")
	}
}

func (c *CaptureController) stopCapture(reason string) {
	if !c.sender.TrySendControl(protocol.StopAudioInput()) {
		c.log.Warn("stop_audio_input dropped on backpressure")
	}

	c.capturing = false
	c.silence.Reset()
	c.silence.ClearBaseline()
	c.energyWindow = nil
	c.detector.StartListening()

	c.log.Info("capture stopped", "reason", reason)
}

func (c *CaptureController) baseline() float64 {
	if len(c.energyWindow) == 0 {
		return 0
	}
	var sum float64
	for _, v := range c.energyWindow {
		sum += v
	}
	return sum / float64(len(c.energyWindow))
}
