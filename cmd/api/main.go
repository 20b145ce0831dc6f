// Package main provides the HTTP API entry point: document uploads,
// conversations, and grounded question answering.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/bull/docchat/internal/api"
	"github.com/bull/docchat/internal/blob"
	"github.com/bull/docchat/internal/chat"
	"github.com/bull/docchat/internal/config"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/llm"
	"github.com/bull/docchat/internal/pdf"
	"github.com/bull/docchat/internal/queue"
	"github.com/bull/docchat/internal/service"
	"github.com/bull/docchat/internal/speech"
	"github.com/bull/docchat/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using environment variables")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Configuration error", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		logger.Error("Failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	pollyClient := polly.NewFromConfig(awsCfg)

	documentStore := storage.NewDocumentStore(dynamoClient, cfg.DocumentTable)
	memoryStore := storage.NewMemoryStore(dynamoClient, cfg.MemoryTable)
	blobStore := blob.NewStore(s3Client, cfg.Bucket)
	jobQueue := queue.New(sqsClient, cfg.QueueURL)
	indexStore := index.NewStore(blobStore)

	embeddingClient, err := embedding.NewClient()
	if err != nil {
		logger.Error("Failed to create embedding client", "error", err)
		os.Exit(1)
	}
	embedder := embedding.NewEmbedder(embeddingClient, 0) // default batch size
	generator := llm.NewGenerator(embeddingClient.Client(), os.Getenv("CHAT_MODEL"))

	engine := chat.NewEngine(memoryStore, indexStore, embedder, generator,
		chat.PromptConfig{Persona: cfg.Persona, GroundingInstruction: cfg.GroundingInstruction},
		cfg.RetrievalK, logger)

	// Async synthesis tasks may write to a different bucket than uploads.
	speechBlobs := blob.NewStore(s3Client, cfg.SpeechBucket)
	renderer := speech.NewRenderer(pollyClient, speechBlobs, cfg.SpeechBucket, cfg.VoiceID, logger)

	documents := service.NewDocuments(documentStore, memoryStore, blobStore, jobQueue, pdf.NewExtractor(), logger)
	responder := service.NewResponder(engine, renderer, logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(documents, responder, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
		}
	}()

	logger.Info("Starting HTTP server", "addr", cfg.ListenAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped")
}
