package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jwebster45206/gm-engine/internal/config"
	"github.com/jwebster45206/gm-engine/internal/engine"
	"github.com/jwebster45206/gm-engine/internal/logger"
	"github.com/jwebster45206/gm-engine/internal/services"
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

	log.Info("Starting GM Engine Worker",
		"environment", cfg.Environment,
		"redis_url", cfg.RedisURL,
		"store", cfg.StoreDriver)

	if cfg.StoreDriver == config.StoreMemory {
		log.Error("The worker needs a shared store; STORE_DRIVER=memory is not supported")
		os.Exit(1)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer initCancel()

	queueClient, err := queue.NewClient(initCtx, cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	log.Info("Queue service initialized successfully")

	store, err := storage.New(cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing storage connection", "error", err)
		}
	}()
	if err := store.Ping(initCtx); err != nil {
		log.Error("Failed to connect to storage", "error", err)
		os.Exit(1)
	}
	log.Info("Storage service initialized successfully")

	svcs, err := services.NewRegistry(cfg, log).Init(initCtx)
	if err != nil {
		log.Error("Failed to initialize LLM services", "error", err)
		os.Exit(1)
	}

	manager := engine.NewManager(store, svcs, nil, engine.OptionsFromConfig(cfg), log)
	w := worker.New(queueClient, worker.NewTurnProcessor(manager, log), log, cfg.WorkerID)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := w.Start(); err != nil {
			log.Error("Worker error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("Worker started, waiting for requests...", "worker_id", w.ID())

	<-quit
	log.Info("Worker shutdown signal received")
	w.Stop()

	// Give worker time to finish current request
	time.Sleep(2 * time.Second)

	log.Info("Worker exited")
}
