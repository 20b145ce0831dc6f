// Package queue wraps SQS as the ingestion work queue. Delivery is
// at-least-once: consumers must tolerate seeing the same job twice.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// IngestJob asks the worker to build a vector index for one document.
type IngestJob struct {
	DocumentID string `json:"documentid"`
	OwnerID    string `json:"user"`
	ObjectKey  string `json:"key"`
}

// Delivery is one received job plus the receipt handle needed to
// acknowledge it. An unacknowledged delivery comes back after the
// visibility timeout.
type Delivery struct {
	Job     IngestJob
	Receipt string
}

// Queue sends and receives ingestion jobs on a single SQS queue.
type Queue struct {
	client *sqs.Client
	url    string
}

// New creates a queue client for the given queue URL.
func New(client *sqs.Client, url string) *Queue {
	return &Queue{client: client, url: url}
}

// Enqueue publishes a job. This must be the last step of the upload
// trigger: a crash after the document write but before Enqueue leaves a
// stuck UPLOADED document, which the external trigger retry covers.
func (q *Queue) Enqueue(ctx context.Context, job IngestJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to one job. Returns nil when the wait expires
// with nothing to do.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		return nil, fmt.Errorf("receive message: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}

	msg := out.Messages[0]
	var job IngestJob
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &Delivery{Job: job, Receipt: aws.ToString(msg.ReceiptHandle)}, nil
}

// Ack deletes a processed job so it is not redelivered.
func (q *Queue) Ack(ctx context.Context, receipt string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}
