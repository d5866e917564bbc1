// Package scheduler drives the audit pipeline over the pass graph. It runs
// sequential passes one worker at a time, fans pass 7 out to independent
// workers sharing one snapshot, and merges every accepted output into the
// evidence ledger and findings store.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/auditcore/ledger"
	"github.com/zero-day-ai/auditcore/pass"
	"github.com/zero-day-ai/auditcore/store"
	"github.com/zero-day-ai/auditcore/worker"
)

const instrumentationName = "github.com/zero-day-ai/auditcore/scheduler"

// Options configures a Scheduler.
type Options struct {
	// Registry resolves workers per (protocol, pass). Required.
	Registry *worker.Registry

	// Store and Ledger receive merged output. New empty ones are created
	// when nil.
	Store  *store.Store
	Ledger *ledger.Ledger

	// Graph is the pass graph. Defaults to pass.DefaultGraph().
	Graph *pass.Graph

	// Protocol selects protocol-specific workers in the registry.
	Protocol string

	// Target is passed through to workers.
	Target string

	// Scope is the default scope used by Run.
	Scope worker.Scope

	// TaskTimeout bounds each fan-out task attempt. Defaults to 5m.
	TaskTimeout time.Duration

	// PassTimeout bounds each sequential pass. Zero means no limit.
	PassTimeout time.Duration

	// MaxRetries is the number of extra attempts a fan-out task gets after
	// a transient or timeout failure.
	MaxRetries int

	// RunID identifies the run. A UUID is generated when empty.
	RunID string

	// Logger is the structured logger. If nil, a JSON logger on stderr is used.
	Logger *slog.Logger

	// Tracer creates run, pass and task spans. Defaults to a noop tracer.
	Tracer trace.Tracer

	// Meter records pass metrics. Defaults to the global meter provider.
	Meter metric.Meter
}

// Scheduler runs passes. It is not safe to run two passes concurrently on
// the same Scheduler.
type Scheduler struct {
	registry    *worker.Registry
	store       *store.Store
	ledger      *ledger.Ledger
	graph       *pass.Graph
	protocol    string
	target      string
	scope       worker.Scope
	taskTimeout time.Duration
	passTimeout time.Duration
	maxRetries  int
	runID       string
	logger      *slog.Logger
	tracer      trace.Tracer
	metrics     *instruments
}

// New creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Registry == nil {
		return nil, errors.New("scheduler: registry is required")
	}
	if opts.Store == nil {
		opts.Store = store.New()
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.New()
	}
	if opts.Graph == nil {
		opts.Graph = pass.DefaultGraph()
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 5 * time.Minute
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider().Meter(instrumentationName)
	}

	metrics, err := newInstruments(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	return &Scheduler{
		registry:    opts.Registry,
		store:       opts.Store,
		ledger:      opts.Ledger,
		graph:       opts.Graph,
		protocol:    opts.Protocol,
		target:      opts.Target,
		scope:       opts.Scope.Clone(),
		taskTimeout: opts.TaskTimeout,
		passTimeout: opts.PassTimeout,
		maxRetries:  opts.MaxRetries,
		runID:       opts.RunID,
		logger:      opts.Logger.With("run_id", opts.RunID),
		tracer:      opts.Tracer,
		metrics:     metrics,
	}, nil
}

// RunID returns the identifier of the run.
func (s *Scheduler) RunID() string { return s.runID }

// Store returns the findings store the scheduler appends to.
func (s *Scheduler) Store() *store.Store { return s.store }

// Ledger returns the evidence ledger the scheduler records into.
func (s *Scheduler) Ledger() *ledger.Ledger { return s.ledger }

// TaskOutput is one accepted worker output.
type TaskOutput struct {
	WorkerIndex int
	Worker      string
	Attempts    int
	Output      worker.PassOutput
}

// PassResult describes a completed pass.
type PassResult struct {
	Pass     pass.Pass
	Outputs  []TaskOutput
	Gaps     []store.Gap
	Skipped  bool
	Appended int
	Duration time.Duration
}

// RunResult describes a completed run.
type RunResult struct {
	RunID    string
	Mode     pass.Mode
	Passes   []*PassResult
	Gaps     []store.Gap
	Duration time.Duration
}

// CoverageComplete reports whether every fan-out task contributed.
func (r *RunResult) CoverageComplete() bool {
	return len(r.Gaps) == 0
}

// Run executes the passes selected by mode in order. Each pass is gated on
// its dependencies; a failing pass aborts the run with a *RunError naming
// it. Fan-out failures do not abort; they are returned as gaps.
func (s *Scheduler) Run(ctx context.Context, mode pass.Mode) (*RunResult, error) {
	start := time.Now()
	plan, err := s.graph.Plan(mode)
	if err != nil {
		return nil, &RunError{RunID: s.runID, Pass: mode.Pass, Cause: err}
	}

	ctx, span := s.tracer.Start(ctx, "audit.run", trace.WithAttributes(
		attribute.String("audit.run_id", s.runID),
		attribute.String("audit.mode", mode.String()),
		attribute.String("audit.protocol", s.protocol),
	))
	defer span.End()

	s.logger.Info("run starting", "mode", mode.String(), "passes", len(plan), "protocol", s.protocol)

	completed := completedPasses(s.store.Snapshot())
	result := &RunResult{RunID: s.runID, Mode: mode}
	for _, p := range plan {
		if err := ctx.Err(); err != nil {
			runErr := &RunError{RunID: s.runID, Pass: p.Ordinal, Cause: &PassError{Pass: p.Ordinal, WorkerIndex: -1, Cause: err}}
			s.fail(span, runErr)
			return nil, runErr
		}
		for _, dep := range p.DependsOn {
			if !completed[dep] {
				err := &RunError{RunID: s.runID, Pass: p.Ordinal, Cause: fmt.Errorf("%w: pass %d requires pass %d", ErrUnmetDependency, p.Ordinal, dep)}
				s.fail(span, err)
				return nil, err
			}
		}

		pr, err := s.RunPass(ctx, p.Ordinal, s.scope)
		if err != nil {
			runErr := &RunError{RunID: s.runID, Pass: p.Ordinal, Cause: err}
			s.fail(span, runErr)
			return nil, runErr
		}
		result.Passes = append(result.Passes, pr)
		result.Gaps = append(result.Gaps, pr.Gaps...)
		if !pr.Skipped {
			completed[p.Ordinal] = true
		}
	}

	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("audit.gaps", len(result.Gaps)))
	span.SetStatus(codes.Ok, "")
	s.logger.Info("run complete",
		"passes", len(result.Passes),
		"gaps", len(result.Gaps),
		"findings", s.store.Len(),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (s *Scheduler) fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.logger.Error("run aborted", "error", err)
}

// RunPass invokes the workers of one pass against the current snapshot and
// merges their accepted output. Sequential passes fail with a *PassError
// on any worker, schema or merge failure. The fan-out pass only fails when
// no workers are registered; individual task failures become gaps.
func (s *Scheduler) RunPass(ctx context.Context, ordinal int, scope worker.Scope) (*PassResult, error) {
	p, err := s.graph.Get(ordinal)
	if err != nil {
		return nil, &PassError{Pass: ordinal, WorkerIndex: -1, Cause: err}
	}

	logger := s.logger.With("pass", p.Ordinal, "pass_name", p.Name)
	ctx, span := s.tracer.Start(ctx, "audit.pass", trace.WithAttributes(
		attribute.Int("audit.pass", p.Ordinal),
		attribute.String("audit.pass_name", p.Name),
		attribute.String("audit.execution", string(p.Execution)),
	))
	defer span.End()

	start := time.Now()
	workers, err := s.registry.Resolve(s.protocol, p.Ordinal)
	if err != nil {
		if p.Optional && errors.Is(err, worker.ErrNoWorker) {
			logger.Info("pass skipped", "reason", "no worker registered")
			span.SetAttributes(attribute.Bool("audit.skipped", true))
			return &PassResult{Pass: p, Skipped: true}, nil
		}
		perr := &PassError{Pass: p.Ordinal, WorkerIndex: -1, Cause: err}
		span.RecordError(perr)
		span.SetStatus(codes.Error, perr.Error())
		return nil, perr
	}

	logger.Info("pass starting", "workers", len(workers))

	var result *PassResult
	if p.IsFanOut() {
		result, err = s.runFanOut(ctx, p, workers, scope, logger)
	} else {
		result, err = s.runSequential(ctx, p, workers, scope, logger)
	}
	duration := time.Since(start)
	s.metrics.passDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.Int("audit.pass", p.Ordinal)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("pass failed", "error", err, "duration_ms", duration.Milliseconds())
		return nil, err
	}

	result.Duration = duration
	span.SetAttributes(
		attribute.Int("audit.appended", result.Appended),
		attribute.Int("audit.gaps", len(result.Gaps)),
	)
	span.SetStatus(codes.Ok, "")
	logger.Info("pass complete",
		"appended", result.Appended,
		"gaps", len(result.Gaps),
		"duration_ms", duration.Milliseconds(),
	)
	return result, nil
}

func (s *Scheduler) runSequential(ctx context.Context, p pass.Pass, workers []worker.Worker, scope worker.Scope, logger *slog.Logger) (*PassResult, error) {
	if len(workers) > 1 {
		logger.Warn("sequential pass has several workers registered, using the first", "workers", len(workers))
	}
	w := workers[0]

	if s.passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.passTimeout)
		defer cancel()
	}

	req := s.request(p.Ordinal, 0, 1, scope, s.store.Snapshot())
	out, err := invoke(ctx, w, req)
	if err == nil {
		err = validate(w, out)
	}
	if err != nil {
		return nil, &PassError{Pass: p.Ordinal, WorkerIndex: 0, Worker: w.Name(), Cause: err}
	}

	n, err := s.merge(ctx, p.Ordinal, 0, w.Name(), out)
	if err != nil {
		return nil, &PassError{Pass: p.Ordinal, WorkerIndex: 0, Worker: w.Name(), Cause: err}
	}
	return &PassResult{
		Pass:     p,
		Outputs:  []TaskOutput{{WorkerIndex: 0, Worker: w.Name(), Attempts: 1, Output: out}},
		Appended: n,
	}, nil
}

type taskResult struct {
	out      worker.PassOutput
	attempts int
	err      error
}

// runFanOut fails the whole pass when ctx ends before the join; tasks cut
// short by cancellation are not recorded as gaps.
func (s *Scheduler) runFanOut(ctx context.Context, p pass.Pass, workers []worker.Worker, scope worker.Scope, logger *slog.Logger) (*PassResult, error) {
	snap := s.store.Snapshot()
	results := make([]taskResult, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w worker.Worker) {
			defer wg.Done()
			results[i] = s.runTask(ctx, p, i, w, scope, snap, logger)
		}(i, w)
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, &PassError{Pass: p.Ordinal, WorkerIndex: -1, Cause: err}
	}

	// Fan-in in worker-index order so store contents do not depend on
	// which task finished first.
	result := &PassResult{Pass: p}
	for i, w := range workers {
		r := results[i]
		err := r.err
		if err == nil {
			var n int
			n, err = s.merge(ctx, p.Ordinal, i, w.Name(), r.out)
			if err == nil {
				result.Appended += n
				result.Outputs = append(result.Outputs, TaskOutput{WorkerIndex: i, Worker: w.Name(), Attempts: r.attempts, Output: r.out})
				continue
			}
		}
		gap := store.Gap{
			Pass:        p.Ordinal,
			WorkerIndex: i,
			Worker:      w.Name(),
			Reason:      err.Error(),
			Attempts:    r.attempts,
			TimedOut:    worker.Classify(err) == worker.ErrorClassTimeout,
		}
		s.store.RecordGap(gap)
		s.metrics.gaps.Add(ctx, 1, metric.WithAttributes(attribute.Int("audit.pass", p.Ordinal)))
		logger.Warn("coverage gap recorded",
			"worker_index", i,
			"worker", w.Name(),
			"attempts", r.attempts,
			"timed_out", gap.TimedOut,
			"error", err,
		)
		result.Gaps = append(result.Gaps, gap)
	}
	return result, nil
}

// runTask invokes one fan-out worker with retries. Only transient and
// timeout failures are retried.
func (s *Scheduler) runTask(ctx context.Context, p pass.Pass, index int, w worker.Worker, scope worker.Scope, snap *store.Snapshot, logger *slog.Logger) taskResult {
	logger = logger.With("worker_index", index, "worker", w.Name())
	ctx, span := s.tracer.Start(ctx, "audit.task", trace.WithAttributes(
		attribute.Int("audit.pass", p.Ordinal),
		attribute.Int("audit.worker_index", index),
		attribute.String("audit.worker", w.Name()),
	))
	defer span.End()

	var lastErr error
	maxAttempts := 1 + s.maxRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			s.metrics.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("audit.pass", p.Ordinal)))
			logger.Info("retrying task", "attempt", attempt, "error", lastErr)
		}

		taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
		out, err := invoke(taskCtx, w, s.request(p.Ordinal, index, attempt, scope, snap))
		cancel()
		if err == nil {
			err = validate(w, out)
		}
		if err == nil {
			span.SetAttributes(attribute.Int("audit.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			return taskResult{out: out, attempts: attempt}
		}

		lastErr = err
		if ctx.Err() != nil || !worker.Classify(err).Retryable() {
			span.SetAttributes(attribute.Int("audit.attempts", attempt))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return taskResult{attempts: attempt, err: err}
		}
	}

	span.SetAttributes(attribute.Int("audit.attempts", maxAttempts))
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return taskResult{attempts: maxAttempts, err: lastErr}
}

func (s *Scheduler) request(ordinal, index, attempt int, scope worker.Scope, snap *store.Snapshot) worker.Request {
	return worker.Request{
		RunID:       s.runID,
		Target:      s.target,
		Pass:        ordinal,
		WorkerIndex: index,
		Attempt:     attempt,
		Scope:       scope.Clone(),
		Snapshot:    snap,
	}
}

// merge records evidence, then findings, then the note. Evidence recorded
// before a rejected append stays in the ledger unreferenced.
func (s *Scheduler) merge(ctx context.Context, ordinal, index int, name string, out worker.PassOutput) (int, error) {
	if len(out.Evidence) > 0 {
		if err := s.ledger.Record(out.Evidence...); err != nil {
			return 0, fmt.Errorf("record evidence: %w", err)
		}
	}
	if err := s.store.Append(ordinal, index, out.Findings); err != nil {
		return 0, fmt.Errorf("append findings: %w", err)
	}
	s.store.AppendNote(store.Note{
		Pass:          ordinal,
		WorkerIndex:   index,
		Worker:        name,
		Summary:       out.Summary,
		NextActions:   out.NextActions,
		OpenQuestions: out.OpenQuestions,
		DedupRefs:     out.DedupRefs,
	})
	s.metrics.appended.Add(ctx, int64(len(out.Findings)), metric.WithAttributes(attribute.Int("audit.pass", ordinal)))
	return len(out.Findings), nil
}

// invoke calls w and enforces ctx even when the worker ignores it. Output
// that arrives after the deadline is discarded.
func invoke(ctx context.Context, w worker.Worker, req worker.Request) (worker.PassOutput, error) {
	type reply struct {
		out worker.PassOutput
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		out, err := w.Invoke(ctx, req)
		ch <- reply{out: out, err: err}
	}()

	select {
	case r := <-ch:
		if ctx.Err() != nil {
			return worker.PassOutput{}, worker.NewWorkerError(w.Name(), "", ctx.Err())
		}
		if r.err != nil {
			var workerErr *worker.WorkerError
			var schemaErr *worker.SchemaError
			if errors.As(r.err, &workerErr) || errors.As(r.err, &schemaErr) {
				return worker.PassOutput{}, r.err
			}
			return worker.PassOutput{}, worker.NewWorkerError(w.Name(), "", r.err)
		}
		return r.out, nil
	case <-ctx.Done():
		return worker.PassOutput{}, worker.NewWorkerError(w.Name(), "", ctx.Err())
	}
}

func validate(w worker.Worker, out worker.PassOutput) error {
	err := worker.Validate(out)
	var schemaErr *worker.SchemaError
	if errors.As(err, &schemaErr) {
		schemaErr.Worker = w.Name()
	}
	return err
}

// completedPasses derives the passes a restored store has seen from its
// notes and gaps.
func completedPasses(snap *store.Snapshot) map[int]bool {
	done := make(map[int]bool)
	for _, n := range snap.Notes() {
		done[n.Pass] = true
	}
	for _, g := range snap.Gaps() {
		done[g.Pass] = true
	}
	return done
}
