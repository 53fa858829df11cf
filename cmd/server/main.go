package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlog/capture-gateway/internal/api"
	"github.com/voxlog/capture-gateway/internal/capture"
	"github.com/voxlog/capture-gateway/internal/config"
	"github.com/voxlog/capture-gateway/internal/engine"
	"github.com/voxlog/capture-gateway/internal/observability"
	"github.com/voxlog/capture-gateway/internal/pipeline"
	"github.com/voxlog/capture-gateway/internal/qa"
	"github.com/voxlog/capture-gateway/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("transcription_engine", cfg.TranscriptionEngine).
		Bool("translation_enabled", cfg.EnableTranslation).
		Str("qa_engine", cfg.QAEngine).
		Str("log_level", cfg.LogLevel).
		Msg("Capture Gateway Service starting")

	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.ArtifactDir).Msg("Failed to create artifact directory")
	}

	// Wire the processing stack
	messageStore := store.NewStore()
	registry := engine.NewRegistry(cfg)
	orchestrator := pipeline.NewOrchestrator(cfg, messageStore, registry)
	reprocessor := qa.NewReprocessor(cfg, messageStore, registry)

	runCtx, cancelRun := context.WithCancel(context.Background())
	orchestrator.Start(runCtx)
	go reprocessor.Run(runCtx)

	// Create HTTP server
	mux := http.NewServeMux()

	// Capture WebSocket endpoint
	mux.HandleFunc("/capture", capture.HandleCaptureWS(cfg, orchestrator))

	// Message history and QA settings
	api.NewHandler(messageStore, reprocessor).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness: verify the configured engines resolve and the artifact
	// directory is writable
	checks := map[string]observability.HealthCheckFunc{
		"transcription_engine": func(ctx context.Context) (bool, error) {
			if _, err := registry.Transcriber(cfg.TranscriptionEngine); err != nil {
				return false, err
			}
			return true, nil
		},
		"qa_engine": func(ctx context.Context) (bool, error) {
			if _, err := registry.QAExtractor(cfg.QAEngine); err != nil {
				return false, err
			}
			return true, nil
		},
		"artifact_dir": func(ctx context.Context) (bool, error) {
			f, err := os.CreateTemp(cfg.ArtifactDir, ".readycheck-*")
			if err != nil {
				return false, err
			}
			f.Close()
			os.Remove(f.Name())
			return true, nil
		},
	}
	if cfg.EnableTranslation {
		checks["translation_engine"] = func(ctx context.Context) (bool, error) {
			if _, err := registry.Translator(cfg.TranslationEngine); err != nil {
				return false, err
			}
			return true, nil
		}
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/capture", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Drain in-flight pipeline work before exiting
	cancelRun()
	orchestrator.Stop()
	reprocessor.Wait()

	logger.Info().Msg("Capture Gateway Service stopped")
}
