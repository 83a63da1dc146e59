package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// NewWavBuffer wraps raw 16-bit mono PCM in a RIFF/WAVE container. Used for
// the welcome-audio disk cache.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// PCMFromWav extracts the raw PCM payload and sample rate from a RIFF/WAVE
// buffer produced by NewWavBuffer (PCM16 mono, no extension chunks).
func PCMFromWav(wav []byte) ([]byte, int, error) {
	if len(wav) < 44 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, 0, errors.New("not a RIFF/WAVE buffer")
	}

	sampleRate := 0
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if body+size > len(wav) {
			return nil, 0, errors.New("truncated WAVE chunk")
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, errors.New("short fmt chunk")
			}
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
		case "data":
			if sampleRate == 0 {
				return nil, 0, errors.New("data chunk before fmt")
			}
			return wav[body : body+size], sampleRate, nil
		}
		off = body + size
	}
	return nil, 0, errors.New("no data chunk")
}
