package orchestrator

import (
	"context"

	"github.com/gautambitious/jin-ai/pkg/agents"
	"github.com/gautambitious/jin-ai/pkg/logging"
)

// Engine bundles the providers and configuration shared by every session.
// One engine per process; one session per connected edge device.
type Engine struct {
	stt      STTProvider
	llm      LLMProvider
	registry *agents.Registry
	cfg      Config
	log      logging.Logger

	sttConfig STTConfig
	router    *Router
	ttsBridge *TTSBridge
}

func NewEngine(stt STTProvider, llm LLMProvider, tts TTSProvider, registry *agents.Registry, cfg Config, log logging.Logger) *Engine {
	if log == nil {
		log = &logging.NoOpLogger{}
	}
	if registry == nil {
		registry = agents.NewRegistry()
	}
	return &Engine{
		stt:       stt,
		llm:       llm,
		registry:  registry,
		cfg:       cfg,
		log:       log,
		sttConfig: DefaultSTTConfig(),
		router:    NewRouter(llm, registry, log),
		ttsBridge: NewTTSBridge(tts, cfg.TTS, log),
	}
}

// SetSTTDefaults overrides the STT options applied to every new utterance
// (model, endpointing window). Per-utterance audio format still comes from
// the edge's start_audio_input config.
func (e *Engine) SetSTTDefaults(cfg STTConfig) {
	e.sttConfig = cfg
}

// NewSession creates the state machine for one connected edge device.
func (e *Engine) NewSession(ctx context.Context, w Writer) *Session {
	return newSession(ctx, e, w)
}

// Registry exposes the agent registry for startup wiring.
func (e *Engine) Registry() *agents.Registry {
	return e.registry
}
