package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docchat/internal/queue"
)

// scriptedJobs hands out a fixed sequence of deliveries, then cancels.
type scriptedJobs struct {
	deliveries []*queue.Delivery
	acked      []string
	cancel     context.CancelFunc
}

func (s *scriptedJobs) Receive(ctx context.Context) (*queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		s.cancel()
		return nil, ctx.Err()
	}
	d := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return d, nil
}

func (s *scriptedJobs) Ack(_ context.Context, receipt string) error {
	s.acked = append(s.acked, receipt)
	return nil
}

type scriptedProcessor struct {
	failFor map[string]error
	seen    []string
}

func (p *scriptedProcessor) Process(_ context.Context, job queue.IngestJob) error {
	p.seen = append(p.seen, job.DocumentID)
	return p.failFor[job.DocumentID]
}

func TestWorkerAcksOnlySuccessfulJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	jobs := &scriptedJobs{
		deliveries: []*queue.Delivery{
			{Job: queue.IngestJob{DocumentID: "good"}, Receipt: "r-good"},
			{Job: queue.IngestJob{DocumentID: "bad"}, Receipt: "r-bad"},
			{Job: queue.IngestJob{DocumentID: "good-2"}, Receipt: "r-good-2"},
		},
		cancel: cancel,
	}
	processor := &scriptedProcessor{failFor: map[string]error{
		"bad": errors.New("embedding quota exhausted"),
	}}

	worker := NewWorker(jobs, processor, nil)
	err := worker.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"good", "bad", "good-2"}, processor.seen)
	// The failed job is left unacknowledged for redelivery.
	assert.Equal(t, []string{"r-good", "r-good-2"}, jobs.acked)
}
