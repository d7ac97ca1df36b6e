package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docuflow/doc-chat-api/internal/utils"
)

// Payload validation errors. A payload failing validation is rejected
// without requeue; redelivering it could never succeed.
var (
	ErrMissingJobID      = errors.New("job payload missing jobId")
	ErrMissingDocumentID = errors.New("job payload missing documentId")
	ErrMissingFileID     = errors.New("job payload missing fileId")
	ErrMissingStorageKey = errors.New("job payload missing storageKey")
)

type JobMetadata struct {
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
}

// JobPayload is the durable work descriptor carried on the queue. JobID is
// caller-assigned and globally unique.
type JobPayload struct {
	JobID      string      `json:"jobId"`
	DocumentID string      `json:"documentId"`
	FileID     string      `json:"fileId"`
	StorageKey string      `json:"storageKey"`
	Metadata   JobMetadata `json:"metadata"`
}

func (p *JobPayload) Validate() error {
	switch {
	case p.JobID == "":
		return ErrMissingJobID
	case p.DocumentID == "":
		return ErrMissingDocumentID
	case p.FileID == "":
		return ErrMissingFileID
	case p.StorageKey == "":
		return ErrMissingStorageKey
	}
	return nil
}

// Verdict is the handler's decision about a delivery.
type Verdict int

const (
	// Done means the job reached a terminal outcome, success or failure.
	// The delivery is acknowledged and never redelivered.
	Done Verdict = iota
	// Retry means the job hit a transient fault before any terminal state
	// was recorded. The delivery is returned to the broker for redelivery.
	Retry
)

// Handler processes one job. redelivered reports whether the broker has
// already redelivered this job once; handlers must treat that attempt as
// final and return Done rather than Retry, so a persistently failing job
// cannot loop forever.
type Handler func(ctx context.Context, job JobPayload, redelivered bool) Verdict

// Dispatcher runs job handlers concurrently. *ants.Pool satisfies it.
type Dispatcher interface {
	Submit(task func()) error
}

// Queue is an AMQP-backed durable job channel with at-least-once delivery
// and competing consumers.
type Queue struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	name   string
	logger *utils.Logger
}

// Connect dials the broker and declares the durable queue. Prefetch bounds
// the number of unacknowledged deliveries held by one consumer.
func Connect(url, name string, prefetch int, logger *utils.Logger) (*Queue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", name, err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	return &Queue{
		conn:   conn,
		ch:     ch,
		name:   name,
		logger: logger.Component("queue"),
	}, nil
}

// Publish durably enqueues a job. The message is persistent; once the
// broker confirms, a broker restart does not lose it.
func (q *Queue) Publish(ctx context.Context, job JobPayload) error {
	if err := job.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	err = q.ch.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.JobID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.JobID, err)
	}

	q.logger.Info("job published", "job_id", job.JobID, "document_id", job.DocumentID)
	return nil
}

// Consume delivers jobs to the handler until the context is cancelled or
// the broker connection drops. Each job goes to exactly one consumer; a
// crash before acknowledgment redelivers it. Handlers run on the
// dispatcher's pool, one goroutine per in-flight delivery.
func (q *Queue) Consume(ctx context.Context, dispatcher Dispatcher, handler Handler) error {
	deliveries, err := q.ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	q.logger.Info("consuming jobs", "queue", q.name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			delivery := d
			err := dispatcher.Submit(func() {
				q.handleDelivery(ctx, delivery, handler)
			})
			if err != nil {
				q.logger.Error("failed to dispatch job", "err", err)
				_ = delivery.Nack(false, true)
			}
		}
	}
}

func (q *Queue) handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var job JobPayload
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.logger.Error("malformed job payload, rejecting", "err", err)
		_ = d.Nack(false, false)
		return
	}
	if err := job.Validate(); err != nil {
		q.logger.Error("invalid job payload, rejecting", "job_id", job.JobID, "err", err)
		_ = d.Nack(false, false)
		return
	}

	switch handler(ctx, job, d.Redelivered) {
	case Retry:
		q.logger.Warn("job returned for redelivery", "job_id", job.JobID)
		_ = d.Nack(false, true)
	default:
		_ = d.Ack(false)
	}
}

func (q *Queue) Close() error {
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
