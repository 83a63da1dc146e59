package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/protocol"
)

// utteranceCtx is one in-flight user turn. Created on start_audio_input,
// destroyed when generation completes, is cancelled, or errors.
type utteranceCtx struct {
	id        string
	startTime time.Time

	ctx    context.Context
	cancel context.CancelFunc

	bridge   *STTBridge
	audioCfg protocol.AudioConfig

	lastInterim     string
	lastInterimConf float64
	lastFinal       string

	hint     string
	hintSent bool

	stopRequested  bool
	finalDelivered bool
	firstTranscript time.Time
}

// audioOutCtx is one in-flight TTS/playback stream.
type audioOutCtx struct {
	streamID string
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
}

// Session owns one connected edge device's state machine. Inbound frames
// arrive on the transport read goroutine via HandleControl/HandleAudio;
// transcript events arrive on the STT provider goroutine; generation runs on
// its own goroutine. All shared state sits behind mu.
type Session struct {
	ID string

	eng *Engine
	w   Writer
	log logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	utt        *utteranceCtx
	out        *audioOutCtx
	generation int
	lastFinalText string
}

func newSession(ctx context.Context, eng *Engine, w Writer) *Session {
	sctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()
	return &Session{
		ID:     id,
		eng:    eng,
		w:      w,
		log:    eng.log,
		ctx:    sctx,
		cancel: cancel,
		state:  StateIdle,
	}
}

// Start announces the session to the edge.
func (s *Session) Start() error {
	return s.w.WriteControl(protocol.Connected(s.ID, "Streaming pipeline ready"))
}

// State returns the current state machine position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleControl dispatches one inbound control frame. Unknown types and
// state violations are swallowed idempotently.
func (s *Session) HandleControl(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeStartAudioInput:
		cfg := protocol.AudioConfig{}
		if msg.Config != nil {
			cfg = *msg.Config
		}
		cfg.ApplyDefaults()
		s.startAudioInput(cfg)
	case protocol.TypeStopAudioInput:
		s.stopAudioInput()
	case protocol.TypeInterrupt:
		s.Interrupt()
	default:
		s.log.Warn("unknown control message", "session_id", s.ID, "type", msg.Type)
	}
}

// startAudioInput opens a new turn. Arriving mid-response it interrupts
// first, then begins the new turn.
func (s *Session) startAudioInput(cfg protocol.AudioConfig) {
	s.mu.Lock()
	busy := s.state != StateIdle
	s.mu.Unlock()

	if busy {
		s.log.Info("start_audio_input while busy, interrupting first", "session_id", s.ID)
		s.Interrupt()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.generation
	uctx, ucancel := context.WithCancel(s.ctx)

	sttCfg := s.eng.sttConfig
	sttCfg.Encoding = cfg.Encoding
	sttCfg.SampleRate = cfg.SampleRate
	sttCfg.Channels = cfg.Channels
	sttCfg.Language = cfg.Language

	utt := &utteranceCtx{
		id:        uuid.NewString(),
		startTime: time.Now(),
		ctx:       uctx,
		cancel:    ucancel,
		audioCfg:  cfg,
	}
	utt.bridge = NewSTTBridge(s.eng.stt, sttCfg,
		func(ev TranscriptEvent) { s.onTranscript(gen, ev) },
		func(err error) { s.onSTTError(gen, err) },
		s.log)

	s.utt = utt
	s.state = StateListening
	s.log.Info("listening", "session_id", s.ID, "utterance_id", utt.id, "sample_rate", cfg.SampleRate)
}

// HandleAudio forwards one inbound PCM chunk. The STT provider session is
// opened by the bridge on the first chunk.
func (s *Session) HandleAudio(chunk []byte) {
	s.mu.Lock()
	utt := s.utt
	if utt == nil || (s.state != StateListening && s.state != StateTranscribing) {
		s.mu.Unlock()
		return
	}
	if s.state == StateListening {
		s.state = StateTranscribing
	}
	ctx := utt.ctx
	s.mu.Unlock()

	if err := utt.bridge.Send(ctx, chunk); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.failUtterance(err)
	}
}

// stopAudioInput closes the STT send side and waits a bounded grace for the
// provider's final emission, then forces the transition with the last
// interim. A stop while idle or routing is swallowed.
func (s *Session) stopAudioInput() {
	s.mu.Lock()
	utt := s.utt
	state := s.state

	switch state {
	case StateTranscribing:
		utt.stopRequested = true
		s.mu.Unlock()
	case StateListening:
		// never got audio: nothing to transcribe
		s.teardownUtteranceLocked()
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Info("stop_audio_input before any audio, back to idle", "session_id", s.ID)
		return
	default:
		s.mu.Unlock()
		s.log.Debug("stop_audio_input ignored", "session_id", s.ID, "state", string(state))
		return
	}

	go func() {
		fctx, cancel := context.WithTimeout(utt.ctx, s.eng.cfg.STTCloseGrace)
		defer cancel()

		if err := utt.bridge.Finalize(fctx); err != nil {
			s.log.Warn("stt finalize failed", "session_id", s.ID, "error", err)
		}

		<-fctx.Done()
		if utt.ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		if s.utt != utt || utt.finalDelivered {
			s.mu.Unlock()
			return
		}
		// force the transition with the last interim
		text := strings.TrimSpace(utt.lastInterim)
		s.mu.Unlock()

		if text == "" {
			s.finishEmptyUtterance(utt)
			return
		}
		s.log.Info("promoting interim after close grace", "session_id", s.ID,
			"confidence", utt.lastInterimConf, "length", len(text))
		s.triggerGeneration(utt, text)
	}()
}

// onTranscript receives uniform transcript events from the STT bridge.
func (s *Session) onTranscript(gen int, ev TranscriptEvent) {
	s.mu.Lock()
	if gen != s.generation || s.utt == nil {
		s.mu.Unlock()
		return
	}
	utt := s.utt

	if utt.firstTranscript.IsZero() && strings.TrimSpace(ev.Text) != "" {
		utt.firstTranscript = time.Now()
		s.log.Info("first transcript", "session_id", s.ID,
			"latency_ms", time.Since(utt.startTime).Milliseconds())
	}
	s.mu.Unlock()

	if strings.TrimSpace(ev.Text) != "" {
		if err := s.w.WriteControl(protocol.Transcript(ev.Text, ev.IsFinal, ev.SpeechFinal, ev.Confidence)); err != nil {
			s.transportFailed(err)
			return
		}
	}

	if !ev.IsFinal {
		s.handleInterim(utt, ev)
		return
	}
	s.handleFinal(utt, ev)
}

func (s *Session) handleInterim(utt *utteranceCtx, ev TranscriptEvent) {
	s.mu.Lock()
	utt.lastInterim = ev.Text
	utt.lastInterimConf = ev.Confidence
	stopRequested := utt.stopRequested
	finalDone := utt.finalDelivered
	hintSent := utt.hintSent
	s.mu.Unlock()

	// a very confident interim after the edge stopped sending audio may
	// stand in for the final
	if stopRequested && !finalDone && ev.Confidence >= s.eng.cfg.PromoteConfidence {
		if text := strings.TrimSpace(ev.Text); text != "" {
			s.triggerGeneration(utt, text)
			return
		}
	}

	if hintSent {
		return
	}
	if hint, ok := s.eng.router.EarlyIntent(ev.Text); ok {
		s.mu.Lock()
		utt.hint = hint
		utt.hintSent = true
		s.mu.Unlock()

		s.log.Info("early intent detected", "session_id", s.ID, "route", hint)
		if err := s.w.WriteControl(protocol.IntentDetected(hint)); err != nil {
			s.transportFailed(err)
		}
	}
}

func (s *Session) handleFinal(utt *utteranceCtx, ev TranscriptEvent) {
	s.mu.Lock()
	utt.lastFinal = ev.Text
	duplicate := utt.finalDelivered
	s.mu.Unlock()

	if duplicate {
		return
	}

	if !ev.SpeechFinal && ev.Confidence < s.eng.cfg.FinalConfidence {
		s.log.Debug("low-confidence final held", "session_id", s.ID, "confidence", ev.Confidence)
		return
	}

	text := strings.TrimSpace(ev.Text)
	if text == "" {
		s.finishEmptyUtterance(utt)
		return
	}

	s.triggerGeneration(utt, text)
}

// finishEmptyUtterance returns to idle without generating.
func (s *Session) finishEmptyUtterance(utt *utteranceCtx) {
	s.mu.Lock()
	if s.utt != utt {
		s.mu.Unlock()
		return
	}
	s.teardownUtteranceLocked()
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Info("empty final transcript, back to idle", "session_id", s.ID)
}

// triggerGeneration moves the session to routing and launches the response
// pipeline. Exactly one trigger per utterance.
func (s *Session) triggerGeneration(utt *utteranceCtx, text string) {
	s.mu.Lock()
	if s.utt != utt || utt.finalDelivered {
		s.mu.Unlock()
		return
	}
	utt.finalDelivered = true

	// consecutive identical finals must not produce a second response
	if text == s.lastFinalText {
		s.teardownUtteranceLocked()
		s.state = StateIdle
		s.mu.Unlock()
		s.log.Info("duplicate final suppressed", "session_id", s.ID)
		return
	}
	s.lastFinalText = text

	s.state = StateRouting
	hint := utt.hint

	octx, ocancel := context.WithCancel(s.ctx)
	out := &audioOutCtx{
		streamID: uuid.NewString(),
		ctx:      octx,
		cancel:   ocancel,
	}
	s.out = out
	s.mu.Unlock()

	// the STT send side is done for this turn
	utt.bridge.Close()

	go s.generate(utt, out, text, hint)
}

// generate runs route → completion → TTS → outbound frames for one turn.
func (s *Session) generate(utt *utteranceCtx, out *audioOutCtx, text, hint string) {
	decision := s.eng.router.Route(out.ctx, text, hint)
	if out.ctx.Err() != nil {
		return
	}

	if err := s.w.WriteControl(protocol.RouteDecision(decision.Label())); err != nil {
		s.transportFailed(err)
		return
	}

	s.mu.Lock()
	if s.out != out {
		s.mu.Unlock()
		return
	}
	s.state = StateGenerating
	s.mu.Unlock()

	streamer := NewResponseStreamer(out.ctx, s.w, s.eng.ttsBridge, s.eng.cfg, out.streamID, s.log)
	streamer.OnStart = func() {
		s.mu.Lock()
		if s.out == out {
			s.state = StateSpeaking
			out.started = true
		}
		s.mu.Unlock()
	}

	fullText, err := s.produce(out, streamer, decision, text)

	if out.ctx.Err() != nil {
		// interrupted: stop_playback already went out, nothing more to send
		s.log.Info("generation cancelled", "session_id", s.ID, "stream_id", out.streamID)
		return
	}

	if err != nil {
		if !streamer.Started() {
			// no audio flowed yet: surface the error and go idle
			s.emitError(err)
			s.finishTurn(utt, out, "", false)
			return
		}
		// audio already streamed: truncate cleanly
		s.log.Warn("generation failed mid-stream, truncating", "session_id", s.ID, "error", err)
		if ferr := streamer.Finish(true); ferr != nil && out.ctx.Err() == nil {
			s.transportFailed(ferr)
			return
		}
		s.finishTurn(utt, out, fullText, true)
		return
	}

	if ferr := streamer.Finish(false); ferr != nil && out.ctx.Err() == nil {
		s.transportFailed(ferr)
		return
	}
	s.finishTurn(utt, out, fullText, true)
}

// produce feeds the streamer from the chosen source and returns the full
// response text.
func (s *Session) produce(out *audioOutCtx, streamer *ResponseStreamer, decision Decision, text string) (string, error) {
	if decision.Mode == RouteAgent {
		agent := s.eng.registry.Get(decision.Agent)
		if agent != nil {
			reply, err := agent.Execute(out.ctx, text)
			if err == nil {
				shaped := VoiceFriendly(reply, s.eng.cfg.MaxSentences, s.eng.cfg.MaxWords)
				return shaped, streamer.StreamText(reply)
			}
			s.log.Warn("agent execution failed, falling back to direct",
				"session_id", s.ID, "agent", decision.Agent, "error", err)
		}
	}

	messages := []Message{
		{Role: "system", Content: s.eng.cfg.SystemPrompt},
		{Role: "user", Content: text},
	}
	full, err := s.eng.llm.StreamComplete(out.ctx, messages, streamer.FeedToken)
	if err != nil && out.ctx.Err() == nil {
		return full, wrapKind(ErrLLMProvider, err)
	}
	return full, nil
}

// finishTurn sends response_complete (after stream_end, per protocol order),
// records the final text for duplicate suppression and returns to idle.
func (s *Session) finishTurn(utt *utteranceCtx, out *audioOutCtx, fullText string, complete bool) {
	if complete && fullText != "" {
		if err := s.w.WriteControl(protocol.ResponseComplete(fullText)); err != nil {
			s.transportFailed(err)
			return
		}
	}

	s.mu.Lock()
	if s.utt == utt {
		s.teardownUtteranceLocked()
	}
	if s.out == out {
		out.cancel()
		s.out = nil
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.log.Info("turn complete", "session_id", s.ID, "stream_id", out.streamID, "response_len", len(fullText))
}

// Interrupt cancels the in-flight turn, signals stop_playback when a
// response stream is active, and returns to idle. Idempotent; a no-op while
// idle.
func (s *Session) Interrupt() {
	s.mu.Lock()
	if s.state == StateIdle && s.utt == nil && s.out == nil {
		s.mu.Unlock()
		return
	}

	s.state = StateInterrupting
	utt := s.utt
	out := s.out
	s.utt = nil
	s.out = nil
	s.generation++
	s.mu.Unlock()

	if utt != nil {
		utt.cancel()
		utt.bridge.Close()
	}

	stopSent := false
	if out != nil {
		out.cancel()
		if err := s.w.WriteControl(protocol.StopPlayback()); err != nil {
			s.transportFailed(err)
			return
		}
		stopSent = true
	}

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Info("interrupted", "session_id", s.ID, "stop_playback_sent", stopSent)
}

// onSTTError handles a provider failure mid-stream: error frame, idle, no
// response.
func (s *Session) onSTTError(gen int, err error) {
	s.mu.Lock()
	if gen != s.generation || s.utt == nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.failUtterance(wrapKind(ErrSTTProvider, err))
}

func (s *Session) failUtterance(err error) {
	s.log.Error("utterance failed", "session_id", s.ID, "error", err)

	s.mu.Lock()
	s.teardownUtteranceLocked()
	if s.out != nil {
		s.out.cancel()
		s.out = nil
	}
	s.state = StateIdle
	s.mu.Unlock()

	s.emitError(err)
}

func (s *Session) emitError(err error) {
	if werr := s.w.WriteControl(protocol.Error(err.Error())); werr != nil {
		s.transportFailed(werr)
	}
}

// teardownUtteranceLocked destroys the current utterance context. Caller
// holds s.mu.
func (s *Session) teardownUtteranceLocked() {
	if s.utt == nil {
		return
	}
	s.utt.cancel()
	s.utt.bridge.Close()
	s.utt = nil
	s.generation++
}

func (s *Session) transportFailed(err error) {
	s.log.Warn("transport write failed, closing session", "session_id", s.ID, "error", err)
	s.Close()
}

// Close tears the whole session down. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.teardownUtteranceLocked()
	if s.out != nil {
		s.out.cancel()
		s.out = nil
	}
	s.state = StateIdle
	s.mu.Unlock()
	s.cancel()
}
