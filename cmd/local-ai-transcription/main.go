package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/longj724/local-ai-transcription/internal/api"
	"github.com/longj724/local-ai-transcription/internal/config"
	"github.com/longj724/local-ai-transcription/internal/engine"
	"github.com/longj724/local-ai-transcription/internal/events"
	"github.com/longj724/local-ai-transcription/internal/media"
	"github.com/longj724/local-ai-transcription/internal/metrics"
	"github.com/longj724/local-ai-transcription/internal/transcribe"
	"github.com/longj724/local-ai-transcription/internal/watch"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env", "", "path to .env file")
	flag.StringVar(&overrides.HTTPAddr, "addr", "", "http listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flag.StringVar(&overrides.EngineDir, "engine-dir", "", "engine install directory")
	flag.StringVar(&overrides.ScratchDir, "scratch-dir", "", "temporary file directory")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "drop-folder to transcribe automatically")
	flag.Parse()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("local-ai-transcription starting")

	if !media.CheckFFmpeg() {
		log.Warn().Msg("ffmpeg not found in PATH; non-wav uploads will fail conversion")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus(256)

	eng := engine.New(engine.Options{
		Dir:              cfg.EngineDir,
		BinaryName:       cfg.BinaryName,
		BinaryURL:        cfg.BinaryURL,
		ModelName:        cfg.ModelName,
		ModelURL:         cfg.ModelURL,
		Language:         cfg.Language,
		Threads:          cfg.Threads,
		InferenceTimeout: cfg.InferenceTimeout,
		Log:              log,
	})

	// Install the engine and model in the background: the server comes up
	// immediately and rejects transcriptions with a not-ready error until the
	// install finishes. An install failure leaves readiness false for the
	// rest of the process; only a restart retries.
	go func() {
		installCtx, cancel := context.WithTimeout(ctx, cfg.InstallTimeout)
		defer cancel()
		err := eng.Install(installCtx, func(frac float64) {
			bus.Publish(events.TypeProgress, events.ProgressPayload{Stage: "installing", Fraction: frac})
		})
		if err != nil {
			log.Error().Err(err).Msg("engine installation failed; transcription will stay unavailable")
			return
		}
		metrics.EngineReady.Set(1)
		bus.Publish(events.TypeReady, events.ResultPayload{})
	}()

	orch := transcribe.NewOrchestrator(transcribe.OrchestratorOptions{
		Engine:      eng,
		Normalizer:  media.New(log),
		Bus:         bus,
		ScratchRoot: cfg.ScratchDir,
		Log:         log,
	})

	var watcher *watch.Watcher
	if cfg.WatchDir != "" {
		watcher = watch.New(orch, cfg.WatchDir, 0, log)
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start drop-folder watcher")
		}
		defer watcher.Stop()
	}

	srvOpts := api.ServerOptions{
		Config:    cfg,
		Engine:    eng,
		Pipeline:  orch,
		Stats:     orch,
		Bus:       bus,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if watcher != nil {
		srvOpts.Watcher = watcher
	}
	srv := api.NewServer(srvOpts)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("local-ai-transcription stopped")
}
