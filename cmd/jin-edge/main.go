package main

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gen2brain/malgo"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gautambitious/jin-ai/pkg/config"
	"github.com/gautambitious/jin-ai/pkg/edge"
	"github.com/gautambitious/jin-ai/pkg/logging"
	"github.com/gautambitious/jin-ai/pkg/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := config.LoadEdge()

	var logger logging.Logger = logging.NewProduction("", cfg.Debug)
	if cfg.Debug {
		logger = logging.NewDevelopment()
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer mctx.Uninit()

	player := edge.NewPlayer(edge.NewMalgoOutputDevice(mctx), edge.PlayerConfig{
		BufferingChunks: cfg.JitterBufferingChunks,
		FadeSamples:     cfg.FadeSamples,
		MaxBufferBytes:  cfg.BufferMaxBytes,
	}, logger)

	handler := edge.NewStreamHandler(player, logger)

	client := transport.NewClient(transport.ClientConfig{
		URL:          cfg.ServerURL,
		MaxRetries:   cfg.ReconnectMaxRetries,
		InitialDelay: cfg.ReconnectInitialDelay,
		MaxDelay:     cfg.ReconnectMaxDelay,
	}, handler, logger)

	detector := edge.NewEnergyDetector()
	logger.Info("wake word gate ready", "detector", detector.Name(), "phrase", cfg.WakeWord)

	capture := edge.NewCaptureController(client, detector, player, edge.CaptureConfig{
		SampleRate:           cfg.SampleRate,
		Channels:             cfg.Channels,
		ChunkMs:              cfg.ChunkMs,
		Language:             "en-US",
		SilenceDurationMs:    cfg.SilenceDurationMs,
		ListeningTimeout:     cfg.ListeningTimeout,
		RelativeSilenceRatio: cfg.RelativeSilenceRatio,
	}, logger)

	mic := edge.NewMalgoInputDevice(mctx)
	if err := mic.Start(cfg.SampleRate, cfg.ChunkMs, capture.ProcessChunk); err != nil {
		log.Fatal(err)
	}
	defer mic.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return client.Run(gctx)
	})

	if cfg.PushToTalk {
		logger.Info("push-to-talk enabled; press Enter to toggle capture")
		g.Go(func() error {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				capture.TogglePTT()
			}
			return scanner.Err()
		})
	}

	logger.Info("edge running", "server", cfg.ServerURL,
		"sample_rate", cfg.SampleRate, "chunk_ms", cfg.ChunkMs)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("edge exited", "error", err)
		os.Exit(1)
	}
}
