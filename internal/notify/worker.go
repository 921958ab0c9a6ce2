package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// popTimeout bounds a single blocking pop so the worker notices context
// cancellation promptly.
const popTimeout = 5 * time.Second

// Sender hands one decided notification to the mail service. Rendering and
// delivery live on the mail service side; the worker only moves payloads.
type Sender interface {
	Send(ctx context.Context, job *Job) error
}

// requeuer re-enqueues failed jobs, routing them to the DLQ after MaxAttempts.
type requeuer interface {
	Retry(ctx context.Context, job *Job) error
}

// Worker drains the assignment email queue and hands each job to the Sender.
// Failed sends go back through the queue with a bounded retry count.
type Worker struct {
	client *redis.Client
	jobs   requeuer
	sender Sender
}

// NewWorker creates the queue consumer over an established Redis client.
func NewWorker(client *redis.Client, sender Sender) *Worker {
	return &Worker{
		client: client,
		jobs:   NewQueue(client),
		sender: sender,
	}
}

// Run consumes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	for {
		res, err := w.client.BLPop(ctx, popTimeout, QueueAssignments).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			lg.Warn("Queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// BLPop returns [key, value].
		w.handle(ctx, res[1])
	}
}

func (w *Worker) handle(ctx context.Context, raw string) {
	lg := zctx.From(ctx)

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		lg.Error("Dropping malformed job", zap.Error(err))
		return
	}

	if err := w.sender.Send(ctx, &job); err != nil {
		lg.Warn("Send failed, re-enqueueing",
			zap.String("job_id", job.ID),
			zap.String("kind", string(job.Kind)),
			zap.Int("attempt", job.Attempt),
			zap.Error(err),
		)
		if err := w.jobs.Retry(ctx, &job); err != nil {
			lg.Error("Retry enqueue failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
		return
	}

	lg.Debug("Job delivered",
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
	)
}
