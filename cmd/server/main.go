package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docuflow/doc-chat-api/internal/chat"
	"github.com/docuflow/doc-chat-api/internal/config"
	"github.com/docuflow/doc-chat-api/internal/db"
	"github.com/docuflow/doc-chat-api/internal/embedding"
	"github.com/docuflow/doc-chat-api/internal/handlers"
	"github.com/docuflow/doc-chat-api/internal/llm"
	"github.com/docuflow/doc-chat-api/internal/queue"
	"github.com/docuflow/doc-chat-api/internal/repository"
	"github.com/docuflow/doc-chat-api/internal/router"
	"github.com/docuflow/doc-chat-api/internal/services"
	"github.com/docuflow/doc-chat-api/internal/storage"
	"github.com/docuflow/doc-chat-api/internal/utils"
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

	// Run migrations
	if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize object storage
	store, err := storage.NewS3Storage(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to object storage", "error", err)
	}

	// Connect to the job queue
	jobQueue, err := queue.Connect(cfg.AMQPURL, cfg.QueueName, 1, logger)
	if err != nil {
		logger.Fatal("Failed to connect to job queue", "error", err)
	}
	defer jobQueue.Close()

	// Repositories and services
	docRepo := repository.NewDocumentRepository(database)
	jobRepo := repository.NewJobRepository(database)
	chunkRepo := repository.NewChunkRepository(database)
	docService := services.NewDocumentService(docRepo, jobRepo, store, jobQueue, logger)

	// Chat pipeline
	embedder := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingDim, cfg.EmbeddingTimeout, logger)
	backend, err := llm.NewOllamaBackend(cfg.OllamaHost, cfg.OllamaModel, cfg.LLMTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to initialize LLM backend", "error", err)
	}
	orchestrator := chat.NewOrchestrator(embedder, chunkRepo, backend, chat.Config{
		TopK:             cfg.TopK,
		MinSimilarity:    cfg.MinSimilarity,
		MaxContextLength: cfg.MaxContextLength,
	}, logger)

	// Setup HTTP router
	docHandler := handlers.NewDocumentHandler(docService, cfg.MaxFileSize, logger)
	chatHandler := handlers.NewChatHandler(docService, orchestrator, logger)
	handler := router.NewRouter(docHandler, chatHandler, logger)

	// Create HTTP server. WriteTimeout stays unset because chat responses
	// are long-lived event streams.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
