package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/gautambitious/jin-ai/pkg/logging"
)

// sttPendingMax bounds audio buffered before the provider session opens
// (2 s at 16 kHz mono PCM16).
const sttPendingMax = 64 * 1024

// STTBridge adapts a streaming STT provider to the session. The provider
// session is opened only when the first audio chunk arrives (deferred
// start): opening earlier and staying silent risks a provider-side
// inactivity timeout. Chunks delivered before the session opens are held in
// a small bounded buffer and flushed as the first send.
type STTBridge struct {
	provider STTProvider
	cfg      STTConfig
	onEvent  func(TranscriptEvent)
	onErr    func(error)
	log      logging.Logger

	mu           sync.Mutex
	stream       STTStream
	pending      [][]byte
	pendingBytes int
	closed       bool
}

func NewSTTBridge(provider STTProvider, cfg STTConfig, onEvent func(TranscriptEvent), onErr func(error), log logging.Logger) *STTBridge {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	return &STTBridge{
		provider: provider,
		cfg:      cfg,
		onEvent:  onEvent,
		onErr:    onErr,
		log:      log,
	}
}

// Send forwards PCM to the provider, opening the session on the first
// chunk.
func (b *STTBridge) Send(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	if b.stream == nil {
		b.buffer(chunk)
		b.mu.Unlock()
		return b.open(ctx)
	}

	stream := b.stream
	b.mu.Unlock()

	if err := stream.Send(chunk); err != nil {
		return fmt.Errorf("%w: %v", ErrSTTProvider, err)
	}
	return nil
}

// open starts the provider session and flushes everything buffered so far.
func (b *STTBridge) open(ctx context.Context) error {
	stream, err := b.provider.StartStream(ctx, b.cfg, b.onEvent, b.onErr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSTTProvider, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		stream.Close()
		return nil
	}
	b.stream = stream
	buffered := b.pending
	b.pending = nil
	b.pendingBytes = 0
	b.mu.Unlock()

	b.log.Debug("stt session opened", "provider", b.provider.Name(), "buffered_chunks", len(buffered))

	for _, c := range buffered {
		if err := stream.Send(c); err != nil {
			return fmt.Errorf("%w: %v", ErrSTTProvider, err)
		}
	}
	return nil
}

// buffer holds a pre-open chunk, dropping the oldest on overflow. Caller
// holds b.mu.
func (b *STTBridge) buffer(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	b.pending = append(b.pending, cp)
	b.pendingBytes += len(cp)

	for b.pendingBytes > sttPendingMax && len(b.pending) > 1 {
		b.pendingBytes -= len(b.pending[0])
		b.pending = b.pending[1:]
		b.log.Warn("stt pre-open buffer overflow, dropped oldest chunk")
	}
}

// Finalize asks the provider to flush its pending transcript. A session
// that never opened has nothing to flush.
func (b *STTBridge) Finalize(ctx context.Context) error {
	b.mu.Lock()
	stream := b.stream
	b.mu.Unlock()

	if stream == nil {
		return nil
	}
	if err := stream.Finalize(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSTTProvider, err)
	}
	return nil
}

// Opened reports whether the provider session is live.
func (b *STTBridge) Opened() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream != nil
}

// Close tears the provider session down. Idempotent.
func (b *STTBridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	stream := b.stream
	b.stream = nil
	b.pending = nil
	b.pendingBytes = 0
	b.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}
