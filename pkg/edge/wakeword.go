package edge

import (
	"sync"

	"github.com/gautambitious/jin-ai/pkg/audio"
)

// WakeWordDetector gates when capture begins. StartListening/StopListening
// keep the detector from firing while the mic is busy with a capture
// session.
type WakeWordDetector interface {
	// ProcessChunk inspects one mic chunk and reports a detection.
	ProcessChunk(chunk []byte) bool
	StartListening()
	StopListening()
	Name() string
}

// EnergyDetector is a development stand-in for a real wake-word model: it
// fires when energy rises well above the rolling noise floor and stays
// there for a confirmation run. Useful on machines without the wake-word
// model installed.
type EnergyDetector struct {
	mu sync.Mutex

	spikeFactor  float64
	minConfirmed int
	refractory   int

	listening   bool
	noiseFloor  float64
	consecutive int
	cooldown    int
}

func NewEnergyDetector() *EnergyDetector {
	return &EnergyDetector{
		spikeFactor:  4.0,
		minConfirmed: 5,
		refractory:   60, // chunks to ignore after a detection
		listening:    true,
		noiseFloor:   defaultSilenceThreshold,
	}
}

func (d *EnergyDetector) Name() string {
	return "energy-detector"
}

func (d *EnergyDetector) StartListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listening = true
	d.consecutive = 0
}

func (d *EnergyDetector) StopListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listening = false
	d.consecutive = 0
}

func (d *EnergyDetector) ProcessChunk(chunk []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.listening {
		return false
	}
	if d.cooldown > 0 {
		d.cooldown--
		return false
	}

	rms := audio.RMS(chunk)

	if rms > d.noiseFloor*d.spikeFactor {
		d.consecutive++
		if d.consecutive >= d.minConfirmed {
			d.consecutive = 0
			d.cooldown = d.refractory
			return true
		}
		return false
	}

	d.consecutive = 0
	// slow exponential tracking of the ambient floor
	d.noiseFloor = d.noiseFloor*0.95 + rms*0.05
	if d.noiseFloor < 1e-4 {
		d.noiseFloor = 1e-4
	}
	return false
}
