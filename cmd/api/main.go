package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/gm-engine/internal/config"
	"github.com/jwebster45206/gm-engine/internal/engine"
	"github.com/jwebster45206/gm-engine/internal/handlers"
	"github.com/jwebster45206/gm-engine/internal/logger"
	"github.com/jwebster45206/gm-engine/internal/middleware"
	"github.com/jwebster45206/gm-engine/internal/services"
	"github.com/jwebster45206/gm-engine/internal/services/events"
	"github.com/jwebster45206/gm-engine/internal/services/queue"
	"github.com/jwebster45206/gm-engine/internal/storage"
	"github.com/jwebster45206/gm-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting GM Engine API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"store", cfg.StoreDriver,
		"narrative_mode", cfg.NarrativeMode,
		"llm_provider", cfg.LLMProvider)

	store, err := storage.New(cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	storageCtx, storageCancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer storageCancel()
	if err := store.Ping(storageCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage connection established successfully")

	presets, err := storage.LoadPresets(cfg.DataDir, log)
	if err != nil {
		log.Error("Failed to load presets", "error", err, "data_dir", cfg.DataDir)
		os.Exit(1)
	}

	// Initialize the models on startup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	svcs, err := services.NewRegistry(cfg, log).Init(ctx)
	if err != nil {
		log.Error("Failed to initialize LLM services", "error", err)
		os.Exit(1)
	}

	manager := engine.NewManager(store, svcs, presets, engine.OptionsFromConfig(cfg), log)
	processor := worker.NewTurnProcessor(manager, log)

	health := map[string]handlers.Pinger{"store": store}
	var (
		async       *handlers.Async
		queueClient *queue.Client
	)
	if cfg.QueueEnabled {
		queueClient, err = queue.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			log.Error("Failed to create queue client", "error", err)
			os.Exit(1)
		}
		async = &handlers.Async{
			Queue:       queue.NewTurnQueue(queueClient),
			Results:     queue.NewResults(queueClient),
			Broadcaster: events.NewBroadcaster(queueClient.GetRedisClient(), log),
		}
		health["queue"] = queueClient
		// sync turns share the workers' session lock
		processor.WithSessionLocks(queue.NewSessionLocks(queueClient, queue.DefaultLockTTL))
		log.Info("Async turns enabled", "redis_url", cfg.RedisURL)
	}

	mux := http.NewServeMux()
	mux.Handle("/health", handlers.NewHealthHandler(health, log))

	turnHandler := handlers.NewTurnHandler(processor, store, async, log)
	sessionHandler := handlers.NewSessionHandler(manager, store, turnHandler, log)
	mux.Handle("/v1/sessions", sessionHandler)
	mux.Handle("/v1/sessions/", sessionHandler)

	presetHandler := handlers.NewPresetHandler(log, presets)
	mux.Handle("/v1/presets", presetHandler)
	mux.Handle("/v1/presets/", presetHandler)

	if async != nil {
		mux.Handle("/v1/requests/", handlers.NewRequestHandler(async.Results, log))
		mux.Handle("/v1/events/sessions/", handlers.NewEventsHandler(async.Broadcaster, log))
	}

	handler := middleware.Chain(mux,
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recover(log),
	)
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: turns wait on model calls and the event stream stays open
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if queueClient != nil {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing storage connection", "error", err)
	}

	log.Info("Server exited")
}
