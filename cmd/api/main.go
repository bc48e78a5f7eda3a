package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docrag/internal/blob"
	"docrag/internal/chunker"
	"docrag/internal/config"
	"docrag/internal/http"
	"docrag/internal/importer"
	"docrag/internal/indexer"
	"docrag/internal/llm"
	"docrag/internal/rag"
	"docrag/internal/service"
	"docrag/internal/storage"
	"docrag/internal/vectorindex"
	"docrag/internal/vectorstore"
	"docrag/internal/worker"
)

//go:generate swagger generate spec -o swagger.json

// General API information
//
// This API ingests documents into a vector index and answers questions from them.
//
// swagger:meta
//
// ---
// swagger: '2.0'
// info:
//   title: docrag API
//   description: |
//     Document ingestion and retrieval-augmented answering. Uploads are
//     extracted, chunked and embedded; questions are answered from the
//     caller's documents.
//   version: 1.0.0
// schemes:
//   - http
//   - https
// consumes:
//   - application/json
//   - multipart/form-data
// produces:
//   - application/json

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration first (needed for log level)
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Configure structured logging with configurable level and format
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("Logging configured", "level", cfg.LogLevel.String(), "format", cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := storage.Migrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	slog.Info("Database initialized", "path", cfg.DBPath)

	// Create repository instances
	documentRepo := storage.NewDocumentRepo(db)
	chunkRepo := storage.NewChunkRepo(db)

	// Initialize vector store
	var vectorStore interface {
		vectorstore.VectorStore
		CollectionExists(ctx context.Context, collection string) (bool, error)
	}
	switch cfg.VectorBackend {
	case config.VectorBackendMemory:
		vectorStore = vectorstore.NewMemoryStore()
		slog.Warn("Using in-memory vector store; the index is lost on restart")
	default:
		qdrantStore, err := vectorstore.NewQdrantStore(cfg.QdrantURL)
		if err != nil {
			log.Fatalf("Failed to create Qdrant client: %v", err)
		}
		defer func() {
			_ = qdrantStore.Close()
		}()

		// Ensure collection exists with correct vector size
		if err := qdrantStore.EnsureCollection(ctx, cfg.QdrantCollection, cfg.QdrantVectorSize); err != nil {
			log.Fatalf("Failed to ensure Qdrant collection: %v", err)
		}
		slog.Info("Qdrant collection ready", "collection", cfg.QdrantCollection, "vector_size", cfg.QdrantVectorSize)
		vectorStore = qdrantStore
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}

	// Validate embedding client vector size (fail-fast)
	testEmbeddings, err := embedder.EmbedTexts(ctx, []string{"test"})
	if err != nil {
		log.Fatalf("Failed to validate embedding client: %v", err)
	}
	if len(testEmbeddings) == 0 || len(testEmbeddings[0]) != cfg.QdrantVectorSize {
		log.Fatalf("Embedding vector size mismatch: expected %d, got %v", cfg.QdrantVectorSize, testEmbeddings)
	}
	slog.Info("Embedding client validated", "provider", cfg.EmbeddingProvider, "vector_size", cfg.QdrantVectorSize)

	generator, err := newGenerator(cfg)
	if err != nil {
		log.Fatalf("Failed to create LLM client: %v", err)
	}

	index := vectorindex.New(vectorStore, embedder, cfg.QdrantCollection,
		vectorindex.WithTimeout(cfg.ExternalTimeout),
		vectorindex.WithBatchSize(cfg.Tuning.EmbedBatchSize),
	)

	blobs, err := blob.NewFileStore(cfg.BlobDir)
	if err != nil {
		log.Fatalf("Failed to open blob store: %v", err)
	}

	textChunker, err := chunker.New(cfg.Tuning.Chunking.PlainText, cfg.Tuning.Chunking.Other)
	if err != nil {
		log.Fatalf("Invalid chunking configuration: %v", err)
	}

	// Create indexing pipeline
	pipeline := indexer.NewPipeline(documentRepo, chunkRepo, index, blobs,
		indexer.WithChunker(textChunker),
		indexer.WithThresholds(cfg.Tuning.Thresholds),
	)

	// Background ingestion
	queue, err := worker.OpenQueue(cfg.QueueDir, false)
	if err != nil {
		log.Fatalf("Failed to open job queue: %v", err)
	}
	defer func() {
		_ = queue.Close()
	}()

	runner, err := worker.NewRunner(queue, pipeline.HandleJob,
		worker.WithPoolSize(cfg.WorkerPoolSize),
		worker.WithMaxAttempts(cfg.WorkerMaxAttempts),
		worker.WithFailureHandler(pipeline.FailJob),
		worker.WithLogger(logger.With("component", "worker")),
	)
	if err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	defer runner.Release()

	recovered, err := runner.Recover(ctx)
	if err != nil {
		slog.Error("Failed to recover pending jobs", "error", err)
	} else if recovered > 0 {
		slog.Info("Recovered pending ingestion jobs", "count", recovered)
	}

	// Create RAG engine
	ragEngine := rag.NewEngine(index, generator,
		rag.WithMaxTokens(cfg.LLMMaxTokens),
		rag.WithLiveGenerations(pipeline),
	)
	slog.Info("RAG engine initialized", "provider", cfg.LLMProvider, "model", cfg.LLMModelName)

	documentService := service.NewDocumentService(service.Config{
		Ingestor:       pipeline,
		Scheduler:      runner,
		Blobs:          blobs,
		Engine:         ragEngine,
		EmbeddingModel: cfg.EmbeddingModelName,
	})

	// Create router with dependencies
	router := http.NewRouter(&http.Deps{
		DocumentService: documentService,
		VectorStore:     vectorStore,
		Database:        db,
		CollectionName:  cfg.QdrantCollection,
		MaxUploadBytes:  cfg.MaxUploadBytes,
	})

	// Start API server
	addr := ":" + cfg.APIPort
	server := &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Starting API server", "addr", addr)
		slog.Debug("LLM configuration", "base_url", cfg.LLMBaseURL, "model", cfg.LLMModelName)
		serverErr <- server.ListenAndServe()
	}()

	// Start importing in background after router is ready
	importDone := make(chan struct{})
	if cfg.ImportDir == "" {
		close(importDone)
	} else {
		go func() {
			defer close(importDone)
			slog.Info("Starting background import", "dir", cfg.ImportDir, "owner_id", cfg.ImportOwner)
			summary, err := importer.New(documentService, cfg.ImportOwner).Import(ctx, cfg.ImportDir)
			if err != nil {
				slog.Error("Import completed with errors", "error", err, "imported", summary.Imported)
				return
			}
			slog.Info("Import completed",
				"scanned", summary.Scanned,
				"imported", summary.Imported,
				"skipped", summary.Skipped,
				"failed", summary.Failed,
			)
		}()
	}

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			slog.Error("API server failed", "error", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}

	// No more Schedule calls may start once the runner is released.
	stop()
	<-importDone
	runner.Release()
	// In-flight jobs finish; anything left stays queued for the next Recover.
	runner.Wait()
	slog.Info("Shutdown complete")
}

func newEmbedder(cfg *config.Config) (llm.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderHash:
		return llm.NewHashEmbedder(cfg.QdrantVectorSize)
	case config.ProviderLangchain:
		return llm.NewLangchainEmbedder(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModelName, cfg.QdrantVectorSize, cfg.ExternalTimeout)
	default:
		return llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.LLMAPIKey, cfg.EmbeddingModelName, cfg.QdrantVectorSize).
			WithTimeout(cfg.ExternalTimeout), nil
	}
}

func newGenerator(cfg *config.Config) (llm.Generator, error) {
	if cfg.LLMProvider == config.ProviderLangchain {
		return llm.NewLangchainGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName, cfg.ExternalTimeout)
	}
	return llm.NewClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModelName).WithTimeout(cfg.ExternalTimeout), nil
}
