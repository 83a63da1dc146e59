package edge

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoOutputDevice drives the speaker through miniaudio.
type MalgoOutputDevice struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
}

func NewMalgoOutputDevice(ctx *malgo.AllocatedContext) *MalgoOutputDevice {
	return &MalgoOutputDevice{ctx: ctx}
}

func (d *MalgoOutputDevice) Open(sampleRate int, pull func(out []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return fmt.Errorf("output device already open")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(d.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pOutput != nil {
				pull(pOutput)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}

	d.device = device
	return nil
}

func (d *MalgoOutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}
	d.device.Uninit()
	d.device = nil
	return nil
}

// MalgoInputDevice streams mic chunks through miniaudio.
type MalgoInputDevice struct {
	ctx *malgo.AllocatedContext

	mu     sync.Mutex
	device *malgo.Device
}

func NewMalgoInputDevice(ctx *malgo.AllocatedContext) *MalgoInputDevice {
	return &MalgoInputDevice{ctx: ctx}
}

// Start opens the mic and invokes onChunk for every captured buffer until
// Stop. onChunk runs on the device thread and must not block.
func (d *MalgoInputDevice) Start(sampleRate, chunkMs int, onChunk func(chunk []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device != nil {
		return fmt.Errorf("input device already open")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.PeriodSizeInMilliseconds = uint32(chunkMs)

	device, err := malgo.InitDevice(d.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			if pInput != nil {
				onChunk(pInput)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("start capture device: %w", err)
	}

	d.device = device
	return nil
}

func (d *MalgoInputDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.device == nil {
		return nil
	}
	d.device.Uninit()
	d.device = nil
	return nil
}
