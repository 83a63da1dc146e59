// Package stt implements streaming speech-to-text providers.
package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/orchestrator"
)

const keepAliveInterval = 5 * time.Second

// DeepgramSTT speaks the Deepgram live-listen websocket protocol.
type DeepgramSTT struct {
	apiKey string
	scheme string
	host   string
	path   string
	model  string
	log    logging.Logger
}

func NewDeepgramSTT(apiKey, model string, log logging.Logger) *DeepgramSTT {
	if model == "" {
		model = "nova-2"
	}
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &DeepgramSTT{
		apiKey: apiKey,
		scheme: "wss",
		host:   "api.deepgram.com",
		path:   "/v1/listen",
		model:  model,
		log:    log,
	}
}

func (d *DeepgramSTT) Name() string {
	return "deepgram-stt"
}

// StartStream opens a live transcription session. Transcript events arrive
// on a dedicated reader goroutine until the stream closes.
func (d *DeepgramSTT) StartStream(ctx context.Context, cfg orchestrator.STTConfig, onEvent func(orchestrator.TranscriptEvent), onErr func(error)) (orchestrator.STTStream, error) {
	model := cfg.Model
	if model == "" {
		model = d.model
	}

	params := url.Values{}
	params.Set("model", model)
	params.Set("encoding", cfg.Encoding)
	params.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	params.Set("channels", strconv.Itoa(cfg.Channels))
	params.Set("language", cfg.Language)
	params.Set("interim_results", strconv.FormatBool(cfg.InterimResults))
	params.Set("smart_format", "true")
	params.Set("punctuate", "true")
	params.Set("vad_events", "true")
	if cfg.EndpointingMs > 0 {
		params.Set("endpointing", strconv.Itoa(cfg.EndpointingMs))
	}

	u := url.URL{Scheme: d.scheme, Host: d.host, Path: d.path, RawQuery: params.Encode()}

	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Authorization": {"Token " + d.apiKey},
		},
	}
	conn, _, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to deepgram: %w", err)
	}
	// audio sessions can outlive the default read limit
	conn.SetReadLimit(1 << 22)

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &deepgramStream{
		conn:   conn,
		ctx:    sctx,
		cancel: cancel,
		log:    d.log,
	}

	go s.readLoop(onEvent, onErr)
	go s.keepAliveLoop()

	d.log.Debug("deepgram live session opened", "model", model, "sample_rate", cfg.SampleRate)
	return s, nil
}

type deepgramStream struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    logging.Logger

	writeMu   sync.Mutex
	lastAudio time.Time
	closeOnce sync.Once
}

func (s *deepgramStream) Send(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	s.lastAudio = time.Now()
	if err := s.conn.Write(s.ctx, websocket.MessageBinary, chunk); err != nil {
		return fmt.Errorf("deepgram send failed: %w", err)
	}
	return nil
}

// Finalize flushes pending transcripts and announces the end of the audio.
// Events keep arriving on the session callback until Close.
func (s *deepgramStream) Finalize(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.ctx.Err() != nil {
		return nil
	}
	if err := wsjson.Write(ctx, s.conn, map[string]string{"type": "Finalize"}); err != nil {
		return fmt.Errorf("deepgram finalize failed: %w", err)
	}
	if err := wsjson.Write(ctx, s.conn, map[string]string{"type": "CloseStream"}); err != nil {
		return fmt.Errorf("deepgram close-stream failed: %w", err)
	}
	return nil
}

func (s *deepgramStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return nil
}

// deepgramResult is the subset of the live-listen response we consume.
type deepgramResult struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (s *deepgramStream) readLoop(onEvent func(orchestrator.TranscriptEvent), onErr func(error)) {
	for {
		msgType, payload, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				onErr(fmt.Errorf("deepgram read failed: %w", err))
			}
			s.Close()
			return
		}
		if msgType != websocket.MessageText {
			continue
		}

		var result deepgramResult
		if err := json.Unmarshal(payload, &result); err != nil {
			s.log.Warn("unparseable deepgram message", "error", err)
			continue
		}

		switch result.Type {
		case "Results":
			if len(result.Channel.Alternatives) == 0 {
				continue
			}
			alt := result.Channel.Alternatives[0]
			onEvent(orchestrator.TranscriptEvent{
				Text:        alt.Transcript,
				IsFinal:     result.IsFinal,
				SpeechFinal: result.SpeechFinal,
				Confidence:  alt.Confidence,
				Start:       result.Start,
			})
		case "Metadata", "UtteranceEnd", "SpeechStarted":
			// informational
		case "Error":
			onErr(fmt.Errorf("deepgram reported an error: %s", string(payload)))
		}
	}
}

// keepAliveLoop keeps the provider from timing the session out while the
// edge is between chunks.
func (s *deepgramStream) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			idle := time.Since(s.lastAudio) >= keepAliveInterval
			if idle && s.ctx.Err() == nil {
				if err := wsjson.Write(s.ctx, s.conn, map[string]string{"type": "KeepAlive"}); err != nil {
					s.writeMu.Unlock()
					return
				}
			}
			s.writeMu.Unlock()
		}
	}
}
