package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zero-day-ai/auditcore/queue"
)

// ServeOptions configures the remote side of a QueueWorker.
type ServeOptions struct {
	// Client is the queue connection. Required.
	Client queue.Client

	// Protocol and Passes are advertised in the worker's registration.
	Protocol string
	Passes   []int

	// Concurrency is the number of worker goroutines. Defaults to 4.
	Concurrency int

	// ShutdownTimeout bounds the wait for in-flight items once ctx is
	// cancelled. Defaults to 30s.
	ShutdownTimeout time.Duration

	// Logger is the structured logger. If nil, a JSON logger on stdout is used.
	Logger *slog.Logger
}

// Serve pops work items for w from its queue, invokes w and publishes the
// results until ctx is cancelled. It registers the worker, maintains a
// heartbeat and keeps the active worker counter current. On cancellation
// it waits up to ShutdownTimeout for in-flight items.
func Serve(ctx context.Context, w Worker, opts ServeOptions) error {
	if opts.Client == nil {
		return fmt.Errorf("serve %s: queue client is required", w.Name())
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	workerID := generateWorkerID()
	logger := opts.Logger.With("worker", w.Name(), "worker_id", workerID)
	client := opts.Client

	if err := client.RegisterWorker(ctx, queue.WorkerMeta{
		Name:     w.Name(),
		Protocol: opts.Protocol,
		Passes:   opts.Passes,
	}); err != nil {
		return fmt.Errorf("register worker %s: %w", w.Name(), err)
	}
	if err := client.AddWorkerCount(ctx, w.Name(), 1); err != nil {
		logger.Error("failed to increment worker count", "error", err)
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.AddWorkerCount(cleanupCtx, w.Name(), -1); err != nil {
			logger.Error("failed to decrement worker count", "error", err)
		}
	}()

	go runHeartbeat(ctx, client, w.Name(), logger)

	queueName := queue.QueueName(w.Name())
	var wg sync.WaitGroup
	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func(num int) {
			defer wg.Done()
			serveLoop(ctx, num, w, client, queueName, workerID, logger)
		}(i)
	}
	logger.Info("worker serving", "queue", queueName, "concurrency", opts.Concurrency)

	<-ctx.Done()
	logger.Info("shutting down")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("worker shutdown complete")
	case <-time.After(opts.ShutdownTimeout):
		logger.Warn("worker shutdown timeout exceeded", "timeout", opts.ShutdownTimeout)
	}
	return nil
}

func runHeartbeat(ctx context.Context, client queue.Client, name string, logger *slog.Logger) {
	if err := client.Heartbeat(ctx, name); err != nil {
		logger.Debug("heartbeat failed", "error", err)
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(ctx, name); err != nil {
				logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func serveLoop(ctx context.Context, num int, w Worker, client queue.Client, queueName, workerID string, logger *slog.Logger) {
	logger = logger.With("worker_num", num)
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := client.Pop(ctx, queueName)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to pop work item", "error", err)
			continue
		}
		if item == nil {
			continue
		}

		logger.Info("received work item",
			"job_id", item.JobID,
			"pass", item.Pass,
			"worker_index", item.WorkerIndex,
			"attempt", item.Attempt,
		)

		// Results are published even when ctx was cancelled mid-item.
		result := processWorkItem(ctx, w, *item, workerID, logger)
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := client.Publish(pubCtx, queue.ResultChannel(item.JobID), result); err != nil {
			logger.Error("failed to publish result", "job_id", item.JobID, "error", err)
		}
		cancel()
	}
}

// processWorkItem always returns a result; failures are reported in it.
func processWorkItem(ctx context.Context, w Worker, item queue.WorkItem, workerID string, logger *slog.Logger) queue.Result {
	result := queue.Result{
		JobID:     item.JobID,
		WorkerID:  workerID,
		StartedAt: time.Now().UnixMilli(),
	}
	fail := func(class ErrorClass, err error) queue.Result {
		result.Error = err.Error()
		result.ErrorClass = string(class)
		result.CompletedAt = time.Now().UnixMilli()
		logger.Error("work item failed", "job_id", item.JobID, "class", class, "error", err)
		return result
	}

	var req Request
	if err := json.Unmarshal([]byte(item.RequestJSON), &req); err != nil {
		return fail(ErrorClassPermanent, fmt.Errorf("decode request: %w", err))
	}

	out, err := w.Invoke(ctx, req)
	if err != nil {
		return fail(Classify(err), err)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fail(ErrorClassSchema, fmt.Errorf("marshal output: %w", err))
	}
	result.OutputJSON = string(data)
	result.CompletedAt = time.Now().UnixMilli()

	logger.Info("work item completed",
		"job_id", item.JobID,
		"findings", len(out.Findings),
		"duration_ms", result.CompletedAt-result.StartedAt,
	)
	return result
}

// generateWorkerID returns hostname-pid-uuid8.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8])
}
