// Package protocol defines the control-frame vocabulary exchanged between
// the edge device and the server. Control frames are UTF-8 JSON text frames;
// audio travels as raw binary frames outside this package.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types, client to server.
const (
	TypeStartAudioInput = "start_audio_input"
	TypeStopAudioInput  = "stop_audio_input"
	TypeInterrupt       = "interrupt"
)

// Message types, server to client.
const (
	TypeConnected        = "connected"
	TypeTranscript       = "transcript"
	TypeIntentDetected   = "intent_detected"
	TypeRouteDecision    = "route_decision"
	TypeResponseComplete = "response_complete"
	TypeStreamStart      = "stream_start"
	TypeStreamEnd        = "stream_end"
	TypeStopPlayback     = "stop_playback"
	TypeError            = "error"
)

// AudioConfig declares the format of an inbound audio stream.
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// Defaults applied to zero-valued fields of a received AudioConfig.
func (c *AudioConfig) ApplyDefaults() {
	if c.SampleRate == 0 {
		c.SampleRate = 16000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.Encoding == "" {
		c.Encoding = "linear16"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
}

// Message is the union of all control frames. Type discriminates; only the
// fields relevant to that type are populated.
type Message struct {
	Type string `json:"type"`

	// start_audio_input
	Config *AudioConfig `json:"config,omitempty"`

	// connected (session_id, message); error (message);
	// transcript / response_complete (text)
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	ErrMsg    string `json:"message,omitempty"`

	// transcript
	IsFinal     bool    `json:"is_final,omitempty"`
	SpeechFinal bool    `json:"speech_final,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`

	// intent_detected / route_decision
	Route string `json:"route,omitempty"`

	// stream_start / stream_end
	StreamID   string `json:"stream_id,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Partial    bool   `json:"partial,omitempty"`
}

// Parse decodes a control frame. A frame without a type field is invalid.
func Parse(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("invalid control frame: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("control frame missing type")
	}
	return m, nil
}

// Marshal encodes a control frame for the wire.
func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func Connected(sessionID, greeting string) Message {
	return Message{Type: TypeConnected, SessionID: sessionID, ErrMsg: greeting}
}

func Transcript(text string, isFinal, speechFinal bool, confidence float64) Message {
	return Message{
		Type:        TypeTranscript,
		Text:        text,
		IsFinal:     isFinal,
		SpeechFinal: speechFinal,
		Confidence:  confidence,
	}
}

func IntentDetected(route string) Message {
	return Message{Type: TypeIntentDetected, Route: route}
}

func RouteDecision(route string) Message {
	return Message{Type: TypeRouteDecision, Route: route}
}

func ResponseComplete(text string) Message {
	return Message{Type: TypeResponseComplete, Text: text}
}

func StreamStart(streamID string, sampleRate int) Message {
	return Message{Type: TypeStreamStart, StreamID: streamID, SampleRate: sampleRate}
}

func StreamEnd(streamID string, partial bool) Message {
	return Message{Type: TypeStreamEnd, StreamID: streamID, Partial: partial}
}

func StopPlayback() Message {
	return Message{Type: TypeStopPlayback}
}

func Error(msg string) Message {
	return Message{Type: TypeError, ErrMsg: msg}
}

func StartAudioInput(cfg AudioConfig) Message {
	return Message{Type: TypeStartAudioInput, Config: &cfg}
}

func StopAudioInput() Message {
	return Message{Type: TypeStopAudioInput}
}

func Interrupt() Message {
	return Message{Type: TypeInterrupt}
}
