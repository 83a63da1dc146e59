package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gautambitious/jin-ai/pkg/protocol"
)

// mockWriter records every outbound frame in order.
type mockWriter struct {
	mu    sync.Mutex
	seq   []string // "control:<type>" or "audio"
	ctrl  []protocol.Message
	audio [][]byte
}

func (w *mockWriter) WriteControl(msg interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	m := msg.(protocol.Message)
	w.seq = append(w.seq, "control:"+m.Type)
	w.ctrl = append(w.ctrl, m)
	return nil
}

func (w *mockWriter) WriteAudio(chunk []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq = append(w.seq, "audio")
	w.audio = append(w.audio, chunk)
	return nil
}

func (w *mockWriter) sequence() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.seq))
	copy(out, w.seq)
	return out
}

func (w *mockWriter) controls() []protocol.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]protocol.Message, len(w.ctrl))
	copy(out, w.ctrl)
	return out
}

func (w *mockWriter) audioCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.audio)
}

func (w *mockWriter) lastOfType(typ string) (protocol.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.ctrl) - 1; i >= 0; i-- {
		if w.ctrl[i].Type == typ {
			return w.ctrl[i], true
		}
	}
	return protocol.Message{}, false
}

func (w *mockWriter) countOfType(typ string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, m := range w.ctrl {
		if m.Type == typ {
			n++
		}
	}
	return n
}

// mockSTTStream records what the bridge sends.
type mockSTTStream struct {
	mu        sync.Mutex
	sent      [][]byte
	finalized bool
	closed    bool
	sendErr   error
}

func (s *mockSTTStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

func (s *mockSTTStream) Finalize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	return nil
}

func (s *mockSTTStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *mockSTTStream) sentChunks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

// mockSTTProvider exposes the event callbacks so tests can drive transcripts.
type mockSTTProvider struct {
	mu       sync.Mutex
	stream   *mockSTTStream
	onEvent  func(TranscriptEvent)
	onErr    func(error)
	startErr error
	started  int
}

func (p *mockSTTProvider) StartStream(ctx context.Context, cfg STTConfig, onEvent func(TranscriptEvent), onErr func(error)) (STTStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}
	p.started++
	p.stream = &mockSTTStream{}
	p.onEvent = onEvent
	p.onErr = onErr
	return p.stream, nil
}

func (p *mockSTTProvider) Name() string { return "mock-stt" }

func (p *mockSTTProvider) emit(ev TranscriptEvent) {
	p.mu.Lock()
	cb := p.onEvent
	p.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

func (p *mockSTTProvider) emitErr(err error) {
	p.mu.Lock()
	cb := p.onErr
	p.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

// mockLLMProvider streams canned tokens; blockUntilCancel simulates a slow
// generation for interrupt tests.
type mockLLMProvider struct {
	completeResult   string
	tokens           []string
	completeErr      error
	streamErr        error
	blockUntilCancel bool
}

func (p *mockLLMProvider) Complete(ctx context.Context, messages []Message) (string, error) {
	if p.completeErr != nil {
		return "", p.completeErr
	}
	return p.completeResult, nil
}

func (p *mockLLMProvider) StreamComplete(ctx context.Context, messages []Message, onToken func(string) error) (string, error) {
	full := ""
	for _, tok := range p.tokens {
		if ctx.Err() != nil {
			return full, ctx.Err()
		}
		if err := onToken(tok); err != nil {
			return full, err
		}
		full += tok
	}
	if p.blockUntilCancel {
		<-ctx.Done()
		return full, ctx.Err()
	}
	if p.streamErr != nil {
		return full, p.streamErr
	}
	return full, nil
}

func (p *mockLLMProvider) Name() string { return "mock-llm" }

// mockTTSProvider yields fixed-size PCM per sentence; failOn makes the nth
// call fail and emptyOn makes the nth call yield no chunks (both 1-based).
type mockTTSProvider struct {
	mu       sync.Mutex
	calls    []string
	bytesPer int
	failOn   int
	emptyOn  int
}

func (p *mockTTSProvider) StreamSynthesize(ctx context.Context, text string, cfg TTSConfig, onChunk func([]byte) error) error {
	p.mu.Lock()
	p.calls = append(p.calls, text)
	n := len(p.calls)
	size := p.bytesPer
	p.mu.Unlock()

	if p.failOn > 0 && n == p.failOn {
		return fmt.Errorf("synthesis blew up")
	}
	if p.emptyOn > 0 && n == p.emptyOn {
		return nil
	}

	if size == 0 {
		size = 1920
	}
	return onChunk(make([]byte, size))
}

func (p *mockTTSProvider) Name() string { return "mock-tts" }

func (p *mockTTSProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
