// Package main provides the ingestion worker CLI: it drains the upload
// queue and turns each uploaded PDF into a searchable vector index.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docchat/internal/blob"
	"github.com/bull/docchat/internal/config"
	"github.com/bull/docchat/internal/embedding"
	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/ingest"
	"github.com/bull/docchat/internal/pdf"
	"github.com/bull/docchat/internal/queue"
	"github.com/bull/docchat/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "docchat-worker",
	Short: "Document ingestion worker",
	Long:  "Consumes upload jobs and builds the vector index each conversation searches",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume ingestion jobs until interrupted",
	Long: `Long-polls the ingestion queue and processes each job:

1. Marks the document PROCESSING
2. Fetches the uploaded PDF from the object store
3. Extracts and chunks the text
4. Embeds every chunk and builds the index
5. Stores the index artifact and marks the document READY

A failed job is marked FAILED and left on the queue for redelivery.

Environment variables:
  DOCUMENT_TABLE  DynamoDB document table (required)
  MEMORY_TABLE    DynamoDB conversation table (required)
  BUCKET          S3 bucket holding uploads and indexes (required)
  QUEUE_URL       SQS ingestion queue URL (required)
  OPENAI_API_KEY  OpenAI API key for embeddings (required)`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("load AWS configuration: %w", err)
	}

	documentStore := storage.NewDocumentStore(dynamodb.NewFromConfig(awsCfg), cfg.DocumentTable)
	blobStore := blob.NewStore(s3.NewFromConfig(awsCfg), cfg.Bucket)
	jobQueue := queue.New(sqs.NewFromConfig(awsCfg), cfg.QueueURL)
	indexStore := index.NewStore(blobStore)

	embeddingClient, err := embedding.NewClient()
	if err != nil {
		return fmt.Errorf("create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(embeddingClient, 0) // default batch size

	pipeline := ingest.NewPipeline(documentStore, blobStore, pdf.NewExtractor(), embedder, indexStore, logger)
	worker := ingest.NewWorker(jobQueue, pipeline, logger)

	logger.Info("Worker started", "queue", cfg.QueueURL)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("worker stopped: %w", err)
	}
	logger.Info("Worker stopped")
	return nil
}
