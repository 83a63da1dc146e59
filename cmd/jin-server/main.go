package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gautambitious/jin-ai/pkg/agents"
	"github.com/gautambitious/jin-ai/pkg/config"
	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/orchestrator"
	"github.com/gautambitious/jin-ai/pkg/protocol"
	llmProvider "github.com/gautambitious/jin-ai/pkg/providers/llm"
	sttProvider "github.com/gautambitious/jin-ai/pkg/providers/stt"
	ttsProvider "github.com/gautambitious/jin-ai/pkg/providers/tts"
	"github.com/gautambitious/jin-ai/pkg/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := config.LoadServer()
	logger := logging.NewProduction(cfg.LogFile, cfg.Debug)

	if cfg.DeepgramAPIKey == "" {
		log.Fatal("Error: DEEPGRAM_API_KEY must be set.")
	}

	stt := sttProvider.NewDeepgramSTT(cfg.DeepgramAPIKey, cfg.STTModel, logger)
	tts := ttsProvider.NewDeepgramTTS(cfg.DeepgramAPIKey, cfg.TTSModel)

	var llm orchestrator.LLMProvider
	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatal("Error: ANTHROPIC_API_KEY must be set for anthropic LLM")
		}
		llm = llmProvider.NewAnthropicLLM(cfg.AnthropicAPIKey, cfg.LLMModel)
	case "openai":
		fallthrough
	default:
		if cfg.OpenAIAPIKey == "" {
			log.Fatal("Error: OPENAI_API_KEY must be set for openai LLM")
		}
		llm = llmProvider.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.LLMModel)
	}

	registry := agents.NewRegistry()
	registry.Register(&agents.Func{
		AgentName: "time_agent",
		Desc:      "tells the current date and time",
		Fn: func(ctx context.Context, input string) (string, error) {
			return fmt.Sprintf("It is %s right now.", time.Now().Format("3:04 PM on Monday, January 2")), nil
		},
	})

	engCfg := orchestrator.DefaultConfig()
	engCfg.MaxBufferedWords = cfg.MaxBufferedWords
	engCfg.ChunkMs = cfg.ChunkMs
	engCfg.TTS.SampleRate = cfg.TTSSampleRate
	engCfg.TTS.Model = cfg.TTSModel

	engine := orchestrator.NewEngine(stt, llm, tts, registry, engCfg, logger)

	sttDefaults := orchestrator.DefaultSTTConfig()
	sttDefaults.Model = cfg.STTModel
	engine.SetSTTDefaults(sttDefaults)

	warmWelcomeCache(cfg, tts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn("websocket accept failed", "error", err)
			return
		}
		ws.SetReadLimit(1 << 22)

		conn := transport.NewConn(ws, logger)
		session := engine.NewSession(r.Context(), conn)
		defer session.Close()

		if err := session.Start(); err != nil {
			logger.Warn("session greeting failed", "error", err)
			return
		}
		logger.Info("edge connected", "session_id", session.ID, "remote", r.RemoteAddr)

		if err := conn.Run(r.Context(), &sessionHandler{session: session, log: logger}); err != nil {
			logger.Info("edge disconnected", "session_id", session.ID, "error", err)
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", cfg.ListenAddr,
			"stt", stt.Name(), "llm", llm.Name(), "tts", tts.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// sessionHandler adapts transport frames to the session state machine.
type sessionHandler struct {
	session *orchestrator.Session
	log     logging.Logger
}

func (h *sessionHandler) HandleControl(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		h.log.Warn("ignoring invalid control frame", "session_id", h.session.ID, "error", err)
		return
	}
	h.session.HandleControl(msg)
}

func (h *sessionHandler) HandleBinary(data []byte) {
	h.session.HandleAudio(data)
}

// warmWelcomeCache pre-generates the greeting audio keyed by the TTS model
// and stores it in the welcome cache. Sessions do not read the cache; a
// connecting device receives only the connected frame.
func warmWelcomeCache(cfg config.ServerConfig, tts *ttsProvider.DeepgramTTS, logger logging.Logger) {
	if cfg.WelcomeCacheDir == "" {
		return
	}

	cache := ttsProvider.NewWelcomeCache(cfg.WelcomeCacheDir)
	if _, _, ok := cache.Load(tts.Model()); ok {
		logger.Info("welcome audio cache warm", "model", tts.Model())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var pcm []byte
	err := tts.StreamSynthesize(ctx, "Hello! I'm listening.",
		orchestrator.TTSConfig{Encoding: "linear16", SampleRate: cfg.TTSSampleRate},
		func(chunk []byte) error {
			pcm = append(pcm, chunk...)
			return nil
		})
	if err != nil {
		logger.Warn("welcome audio generation failed", "error", err)
		return
	}
	if err := cache.Store(tts.Model(), pcm, cfg.TTSSampleRate); err != nil {
		logger.Warn("welcome audio cache write failed", "error", err)
		return
	}
	logger.Info("welcome audio cached", "model", tts.Model(), "bytes", len(pcm))
}
