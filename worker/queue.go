package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/auditcore/queue"
)

// QueueWorker dispatches invocations to remote processes through a work
// queue. Each invocation is one WorkItem on audit:<name>:queue; the result
// arrives on results:<jobID>.
type QueueWorker struct {
	name   string
	client queue.Client
}

// NewQueueWorker returns a worker backed by the named remote queue.
func NewQueueWorker(name string, client queue.Client) *QueueWorker {
	return &QueueWorker{name: name, client: client}
}

func (w *QueueWorker) Name() string { return w.name }

// Invoke submits the request and waits for its result or ctx.
func (w *QueueWorker) Invoke(ctx context.Context, req Request) (PassOutput, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return PassOutput{}, NewWorkerError(w.name, ErrorClassPermanent, fmt.Errorf("marshal request: %w", err))
	}

	jobID := uuid.New().String()
	item := queue.WorkItem{
		JobID:       jobID,
		Worker:      w.name,
		Pass:        req.Pass,
		WorkerIndex: req.WorkerIndex,
		Attempt:     req.Attempt,
		RequestJSON: string(payload),
		SubmittedAt: time.Now().UnixMilli(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		item.TraceID = sc.TraceID().String()
		item.SpanID = sc.SpanID().String()
	}

	// Subscribe before pushing so a fast worker cannot publish first.
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	results, err := w.client.Subscribe(subCtx, queue.ResultChannel(jobID))
	if err != nil {
		return PassOutput{}, NewWorkerError(w.name, ErrorClassTransient, err)
	}
	if err := w.client.Push(ctx, queue.QueueName(w.name), item); err != nil {
		return PassOutput{}, NewWorkerError(w.name, ErrorClassTransient, err)
	}

	select {
	case <-ctx.Done():
		return PassOutput{}, NewWorkerError(w.name, "", ctx.Err())
	case res, ok := <-results:
		if !ok {
			if ctx.Err() != nil {
				return PassOutput{}, NewWorkerError(w.name, "", ctx.Err())
			}
			return PassOutput{}, NewWorkerError(w.name, ErrorClassTransient, errors.New("result subscription closed"))
		}
		if res.HasError() {
			return PassOutput{}, NewWorkerError(w.name, ParseErrorClass(res.ErrorClass), errors.New(res.Error))
		}
		return DecodeOutput(w.name, []byte(res.OutputJSON))
	}
}
