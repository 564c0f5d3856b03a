package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/skypro1111/voice-session-service/internal/audio"
	"github.com/skypro1111/voice-session-service/internal/config"
	"github.com/skypro1111/voice-session-service/internal/generation"
	"github.com/skypro1111/voice-session-service/internal/leads"
	"github.com/skypro1111/voice-session-service/internal/metrics"
	"github.com/skypro1111/voice-session-service/internal/recognition"
	"github.com/skypro1111/voice-session-service/internal/server"
	"github.com/skypro1111/voice-session-service/internal/session"
	"github.com/skypro1111/voice-session-service/internal/synthesis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// Secrets may come from a local .env during development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Starting voice session service",
		slog.String("config", *configPath),
		slog.Int("media_port", cfg.Server.Port),
	)

	m := metrics.NewMetrics()

	generator, err := generation.NewClient(generation.Config{
		Endpoint:      cfg.Generation.Endpoint,
		APIKey:        cfg.Generation.APIKey,
		Model:         cfg.Generation.Model,
		Temperature:   cfg.Generation.Temperature,
		MaxTokens:     cfg.Generation.MaxTokens,
		Timeout:       cfg.Generation.GetTimeoutDuration(),
		MaxRetries:    cfg.Generation.MaxRetries,
		MaxConcurrent: cfg.Generation.MaxConcurrent,
	}, logger)
	if err != nil {
		logger.Error("Failed to create generation client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	synthesizer, err := synthesis.NewClient(synthesis.Config{
		Endpoint:      cfg.Synthesis.Endpoint,
		APIKey:        cfg.Synthesis.APIKey,
		VoiceID:       cfg.Synthesis.VoiceID,
		OutputFormat:  cfg.Synthesis.OutputFormat,
		Timeout:       cfg.Synthesis.GetTimeoutDuration(),
		MaxRetries:    cfg.Synthesis.MaxRetries,
		MaxConcurrent: cfg.Synthesis.MaxConcurrent,
	}, logger)
	if err != nil {
		logger.Error("Failed to create synthesis client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	leadStore, err := leads.NewStore(leads.Config{
		Enabled:   cfg.Leads.Enabled,
		Addr:      cfg.Leads.Addr,
		Password:  cfg.Leads.Password,
		DB:        cfg.Leads.DB,
		KeyPrefix: cfg.Leads.KeyPrefix,
	}, logger)
	if err != nil {
		logger.Error("Failed to create lead store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	deps := session.Deps{
		NewRecognizer: func(sessionID string) (session.Recognizer, error) {
			sup, err := recognition.NewSupervisor(recognition.Config{
				URL:            cfg.Recognition.URL,
				APIKey:         cfg.Recognition.APIKey,
				Model:          cfg.Recognition.Model,
				Language:       cfg.Recognition.Language,
				Encoding:       cfg.Media.Encoding,
				SampleRate:     cfg.Media.SampleRate,
				UtteranceEndMs: cfg.Recognition.UtteranceEndMs,
				OpenTimeout:    cfg.Recognition.GetOpenTimeout(),
				MaxReconnects:  cfg.Recognition.MaxReconnects,
			}, sessionID, logger)
			if err != nil {
				return nil, err
			}
			return sup, nil
		},
		NewTransmitter: func(ch session.MediaChannel, live func() uint64) session.Transmitter {
			return audio.NewScheduler(ch, cfg.Media.GetFrameSize(), cfg.Media.GetFrameDuration(), live, m, logger)
		},
		Generator:   generator,
		Synthesizer: synthesizer,
		Leads:       leadStore,
		Metrics:     m,
		Logger:      logger,
	}

	manager := session.NewManager(cfg, deps, logger)

	wsServer := server.NewWSServer(cfg, manager, m, logger)

	errCh := make(chan error, 2)

	go func() {
		if err := wsServer.Start(); err != nil {
			errCh <- fmt.Errorf("media server: %w", err)
		}
	}()

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, manager, wsServer, m, logger)
		httpServer.RegisterStats("generation", func() interface{} { return generator.GetStats() })
		httpServer.RegisterStats("synthesis", func() interface{} { return synthesizer.GetStats() })
		httpServer.RegisterStats("leads", func() interface{} { return leadStore.GetStats() })
		go func() {
			if err := httpServer.Start(); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Server failed", slog.String("error", err.Error()))
	}

	shutdown(logger, httpServer, wsServer, manager, leadStore)
}

// shutdown stops the service in order: listening surfaces first, then live
// sessions, then shared resources.
func shutdown(logger *slog.Logger, httpServer *server.HTTPServer, wsServer *server.WSServer, manager *session.Manager, leadStore *leads.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Stop(ctx); err != nil {
			logger.Warn("HTTP server shutdown failed", slog.String("error", err.Error()))
		}
	}

	if err := wsServer.Stop(ctx); err != nil {
		logger.Warn("Media server shutdown failed", slog.String("error", err.Error()))
	}

	manager.Stop()

	if err := leadStore.Close(); err != nil {
		logger.Warn("Lead store close failed", slog.String("error", err.Error()))
	}

	logger.Info("Shutdown complete")
}

// initLogger builds the process logger from configuration
func initLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", cfg.Level)
	}

	var output *os.File
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
	}

	opts := &slog.HandlerOptions{Level: level}
	if level == slog.LevelDebug {
		opts.AddSource = true
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), nil
}
