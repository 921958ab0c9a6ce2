// Package notify queues assignment emails onto Redis for the mail worker.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/course-voucher-engine/internal/domain/assignment"
)

const (
	// QueueAssignments is the Redis list the mail worker consumes.
	QueueAssignments = "worker:assignment_emails"
	// QueueDLQ receives jobs the worker gave up on after retries.
	QueueDLQ = "worker:dlq"
	// MaxAttempts bounds worker retries before a job lands in the DLQ.
	MaxAttempts = 3
)

// Kind identifies the email to render.
type Kind string

const (
	KindAssigned Kind = "assigned"
	KindReminder Kind = "reminder"
	KindRevoked  Kind = "revoked"
)

// Job is the envelope pushed onto the assignment email queue.
type Job struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	VoucherCode  string    `json:"voucher_code"`
	Recipient    string    `json:"recipient"`
	AssignmentID string    `json:"assignment_id"`
	Attempt      int       `json:"attempt"`
	CreatedAt    time.Time `json:"created_at"`
}

// Queue is the Redis-list producer side of the assignment mail pipeline.
// It implements assignment.Notifier.
type Queue struct {
	client *redis.Client
}

// NewQueue creates the producer over an established Redis client.
func NewQueue(client *redis.Client) *Queue {
	return &Queue{client: client}
}

func (q *Queue) AssignmentCreated(ctx context.Context, a *assignment.Assignment) error {
	return q.push(ctx, KindAssigned, a)
}

func (q *Queue) AssignmentReminder(ctx context.Context, a *assignment.Assignment) error {
	return q.push(ctx, KindReminder, a)
}

func (q *Queue) AssignmentRevoked(ctx context.Context, a *assignment.Assignment) error {
	return q.push(ctx, KindRevoked, a)
}

func (q *Queue) push(ctx context.Context, kind Kind, a *assignment.Assignment) error {
	raw, err := json.Marshal(Job{
		ID:           uuid.NewString(),
		Kind:         kind,
		VoucherCode:  a.VoucherCode,
		Recipient:    a.Email,
		AssignmentID: a.ID,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	if err := q.client.RPush(ctx, QueueAssignments, raw).Err(); err != nil {
		return errors.Wrap(err, "rpush")
	}
	return nil
}

// Retry re-enqueues a failed job with an incremented attempt counter, or
// moves it to the DLQ once MaxAttempts is reached.
func (q *Queue) Retry(ctx context.Context, job *Job) error {
	job.Attempt++
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	if err := q.client.RPush(ctx, nextQueue(job.Attempt), raw).Err(); err != nil {
		return errors.Wrap(err, "rpush")
	}
	return nil
}

// nextQueue routes a job by how often it has failed.
func nextQueue(attempt int) string {
	if attempt >= MaxAttempts {
		return QueueDLQ
	}
	return QueueAssignments
}
