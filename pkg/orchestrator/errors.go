package orchestrator

import (
	"errors"
	"fmt"
)

// Error kinds. STT and LLM failures are tagged with their kind via wrapKind;
// an STT failure, or an LLM failure before any audio has streamed, surfaces
// to the client as an error frame. A failed TTS sentence is skipped without
// one. The other kinds are declared here but not produced inside this
// package.
var (
	ErrTransportClosed = errors.New("transport closed")

	ErrSTTProvider = errors.New("speech-to-text provider failed")

	ErrLLMProvider = errors.New("language model provider failed")

	ErrTTSProvider = errors.New("text-to-speech provider failed")

	ErrBufferOverflow = errors.New("audio buffer overflow")

	ErrInvalidMessage = errors.New("invalid control message")

	ErrEmptyTranscript = errors.New("transcript empty after trim")
)

// wrapKind tags a provider-specific failure with its error kind.
func wrapKind(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}
