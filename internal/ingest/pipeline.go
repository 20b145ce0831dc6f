// Package ingest drives a document from raw upload to a queryable index.
// Jobs arrive from the queue at least once, so every step tolerates being
// re-run: rebuilding an index overwrites the previous artifact and the
// status guard keeps READY terminal.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bull/docchat/internal/index"
	"github.com/bull/docchat/internal/pdf"
	"github.com/bull/docchat/internal/queue"
	"github.com/bull/docchat/internal/storage"
)

// StatusStore records lifecycle transitions on the document table.
type StatusStore interface {
	UpdateStatus(ctx context.Context, owner, documentID string, status storage.Status) error
}

// Blobs fetches the raw uploaded object.
type Blobs interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Extractor pulls page text from PDF bytes.
type Extractor interface {
	Pages(data []byte) ([]string, error)
}

// IndexSaver persists a built index artifact.
type IndexSaver interface {
	Save(ctx context.Context, owner, documentID string, x *index.Index) error
}

// Pipeline executes one ingestion job end to end.
type Pipeline struct {
	docs      StatusStore
	blobs     Blobs
	extractor Extractor
	embedder  index.Embedder
	indexes   IndexSaver
	logger    *slog.Logger
}

// NewPipeline creates an ingestion pipeline with the given components.
func NewPipeline(docs StatusStore, blobs Blobs, extractor Extractor, embedder index.Embedder, indexes IndexSaver, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:      docs,
		blobs:     blobs,
		extractor: extractor,
		embedder:  embedder,
		indexes:   indexes,
		logger:    logger,
	}
}

// Process runs one job: mark PROCESSING, download, extract, embed, build,
// persist the index, mark READY. A failure marks the document FAILED (the
// guard keeps READY untouched) and returns the error so the queue's
// redelivery policy governs the retry.
func (p *Pipeline) Process(ctx context.Context, job queue.IngestJob) error {
	start := time.Now()
	p.logger.Info("Processing ingestion job",
		"document", job.DocumentID, "owner", job.OwnerID, "key", job.ObjectKey)

	if err := p.process(ctx, job); err != nil {
		// Best effort: a visible FAILED status beats a document silently
		// stuck in PROCESSING. Redelivery moves it forward again.
		if statusErr := p.docs.UpdateStatus(ctx, job.OwnerID, job.DocumentID, storage.StatusFailed); statusErr != nil {
			p.logger.Error("Failed to record FAILED status",
				"document", job.DocumentID, "error", statusErr)
		}
		return err
	}

	p.logger.Info("Ingestion complete",
		"document", job.DocumentID, "duration", time.Since(start))
	return nil
}

func (p *Pipeline) process(ctx context.Context, job queue.IngestJob) error {
	if err := p.docs.UpdateStatus(ctx, job.OwnerID, job.DocumentID, storage.StatusProcessing); err != nil {
		return fmt.Errorf("set processing: %w", err)
	}

	data, err := p.blobs.Get(ctx, job.ObjectKey)
	if err != nil {
		return fmt.Errorf("fetch upload: %w", err)
	}

	pages, err := p.extractor.Pages(data)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	chunks := pdf.Chunks(pages)
	p.logger.Debug("Extracted document", "document", job.DocumentID,
		"pages", len(pages), "chunks", len(chunks))

	x, err := index.Build(ctx, chunks, p.embedder)
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}

	if err := p.indexes.Save(ctx, job.OwnerID, job.DocumentID, x); err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	if err := p.docs.UpdateStatus(ctx, job.OwnerID, job.DocumentID, storage.StatusReady); err != nil {
		return fmt.Errorf("set ready: %w", err)
	}
	return nil
}
