package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/panjf2000/ants/v2"

	"github.com/docuflow/doc-chat-api/internal/chunker"
	"github.com/docuflow/doc-chat-api/internal/config"
	"github.com/docuflow/doc-chat-api/internal/db"
	"github.com/docuflow/doc-chat-api/internal/embedding"
	"github.com/docuflow/doc-chat-api/internal/queue"
	"github.com/docuflow/doc-chat-api/internal/repository"
	"github.com/docuflow/doc-chat-api/internal/storage"
	"github.com/docuflow/doc-chat-api/internal/utils"
	"github.com/docuflow/doc-chat-api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Initialize database
	database, err := db.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	// Run migrations so the worker can start before the server on a fresh
	// deployment.
	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize object storage
	store, err := storage.NewS3Storage(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to object storage", "error", err)
	}

	// Connect to the job queue. Prefetch matches pool size so the broker
	// never hands this worker more jobs than it can run.
	jobQueue, err := queue.Connect(cfg.AMQPURL, cfg.QueueName, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("Failed to connect to job queue", "error", err)
	}
	defer jobQueue.Close()

	// Processing pipeline
	docRepo := repository.NewDocumentRepository(database)
	jobRepo := repository.NewJobRepository(database)
	chunkRepo := repository.NewChunkRepository(database)
	embedder := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingDim, cfg.EmbeddingTimeout, logger)
	splitter := chunker.New(chunker.Config{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
	})
	processor := worker.NewProcessor(docRepo, jobRepo, chunkRepo, store, embedder, splitter, logger)

	// Worker pool
	pool, err := ants.NewPool(cfg.WorkerConcurrency)
	if err != nil {
		logger.Fatal("Failed to create worker pool", "error", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info("Shutting down worker...")
		cancel()
	}()

	logger.Info("Starting worker",
		"queue", cfg.QueueName,
		"concurrency", cfg.WorkerConcurrency)

	if err := jobQueue.Consume(ctx, pool, processor.Handle); err != nil && ctx.Err() == nil {
		logger.Fatal("Consumer stopped", "error", err)
	}

	logger.Info("Worker exited")
}
