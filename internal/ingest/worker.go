package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/bull/docchat/internal/queue"
)

// Jobs is the receiving side of the ingestion queue.
type Jobs interface {
	Receive(ctx context.Context) (*queue.Delivery, error)
	Ack(ctx context.Context, receipt string) error
}

// Processor handles one job.
type Processor interface {
	Process(ctx context.Context, job queue.IngestJob) error
}

// Worker consumes the ingestion queue until its context is cancelled.
// Failed jobs are not acknowledged; the queue redelivers them after the
// visibility timeout, and the pipeline is idempotent under that.
type Worker struct {
	jobs     Jobs
	pipeline Processor
	logger   *slog.Logger

	// receiveBackoff delays the next poll after a receive error.
	receiveBackoff time.Duration
}

// NewWorker creates a queue worker.
func NewWorker(jobs Jobs, pipeline Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		jobs:           jobs,
		pipeline:       pipeline,
		logger:         logger,
		receiveBackoff: 3 * time.Second,
	}
}

// Run blocks, processing jobs one at a time, until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delivery, err := w.jobs.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("Receive failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.receiveBackoff):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		if err := w.pipeline.Process(ctx, delivery.Job); err != nil {
			// Leave the message unacknowledged so the queue redelivers it.
			w.logger.Error("Job failed, leaving for redelivery",
				"document", delivery.Job.DocumentID, "error", err)
			continue
		}

		if err := w.jobs.Ack(ctx, delivery.Receipt); err != nil {
			// The job succeeded but will come back; Process is idempotent.
			w.logger.Warn("Ack failed, job will be redelivered",
				"document", delivery.Job.DocumentID, "error", err)
		}
	}
}
