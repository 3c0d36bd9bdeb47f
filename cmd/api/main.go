package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/receipt-assistant/internal/api/handlers"
	"github.com/dvloznov/receipt-assistant/internal/api/middleware"
	"github.com/dvloznov/receipt-assistant/internal/assistant"
	"github.com/dvloznov/receipt-assistant/internal/config"
	"github.com/dvloznov/receipt-assistant/internal/jobs/inmemory"
	"github.com/dvloznov/receipt-assistant/internal/logger"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	cfg.RegisterFlags(flag.CommandLine)
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port (or set PORT env)")
	flag.IntVar(&cfg.Workers, "workers", cfg.Workers, "Background ingest workers, 0 disables async ingest (or set WORKERS env)")
	flag.Parse()

	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.GeminiAPIKey == "" {
		log.Warn().Msg("No Gemini API key configured - ingestion, reports and questions will return 503")
	}

	ctx := logger.WithContext(context.Background(), log)

	services := assistant.NewServices(cfg)
	defer services.Close()

	// Open the store up front so a bad DB path fails at startup, not on first request.
	st, err := services.Store(ctx)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("Failed to open purchase store")
	}

	router := services.Router()

	deps := handlers.Deps{
		Router: router,
		Store:  st,
		Log:    log,
	}

	var jobQueue *inmemory.Queue
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if cfg.Workers > 0 {
		jobStore := inmemory.NewStore()
		jobQueue = inmemory.NewQueue(cfg.QueueSize, cfg.Workers, jobStore)
		deps.Publisher = jobQueue
		deps.Jobs = jobStore

		log.Info().Int("workers", cfg.Workers).Msg("Starting job workers")
		if err := jobQueue.Start(workerCtx, router.IngestJobHandler()); err != nil {
			log.Fatal().Err(err).Msg("Failed to start job workers")
		}
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           middleware.Chain(log, handlers.NewMux(deps)),
		ReadHeaderTimeout: 15 * time.Second,
		// Synchronous ingestion waits on the model, so leave room beyond the external timeout.
		WriteTimeout: cfg.ExternalTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreBackend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if jobQueue != nil {
		// Let in-flight jobs finish before the store is closed.
		if err := jobQueue.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping job queue")
		}
		cancelWorker()
		if err := jobQueue.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close job queue")
		}
	}

	log.Info().Msg("Server exited")
}
