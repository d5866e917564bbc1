package auditcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/auditcore/config"
	"github.com/zero-day-ai/auditcore/consolidate"
	"github.com/zero-day-ai/auditcore/dedup"
	"github.com/zero-day-ai/auditcore/finding"
	"github.com/zero-day-ai/auditcore/ledger"
	"github.com/zero-day-ai/auditcore/pass"
	"github.com/zero-day-ai/auditcore/queue"
	"github.com/zero-day-ai/auditcore/scheduler"
	"github.com/zero-day-ai/auditcore/staticanalysis"
	"github.com/zero-day-ai/auditcore/store"
	"github.com/zero-day-ai/auditcore/worker"
)

const instrumentationName = "github.com/zero-day-ai/auditcore"

// Auditor wires configuration, workers, state, deduplication and
// consolidation into complete audit runs.
type Auditor struct {
	cfg          *config.Config
	registry     *worker.Registry
	persister    store.Persister
	engine       *dedup.Engine
	publisher    dedup.Publisher
	consolidator *consolidate.Consolidator
	static       []*staticanalysis.Result
	logger       *slog.Logger
	tracer       trace.Tracer
	meter        metric.Meter
	clock        func() time.Time
	closers      []io.Closer
}

// New creates an Auditor. Connections to Redis and etcd are opened only
// when the configuration asks for them; Close releases them.
func New(opts ...Option) (*Auditor, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil && o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, newError("auditcore.New", KindConfiguration, err).
				WithContext(map[string]any{"path": o.configPath})
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, newError("auditcore.New", KindConfiguration, fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}

	a := &Auditor{
		cfg:    cfg,
		static: o.static,
		logger: o.logger,
		tracer: o.tracer,
		meter:  o.meter,
		clock:  o.clock,
	}
	if a.logger == nil {
		a.logger = newLogger(cfg.Logging)
	}
	if a.tracer == nil {
		a.tracer = noop.NewTracerProvider().Tracer(instrumentationName)
	}
	if a.clock == nil {
		a.clock = time.Now
	}

	if err := a.setup(o); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *Auditor) setup(o *options) error {
	const op = "auditcore.New"
	cfg := a.cfg

	a.registry = o.registry
	if a.registry == nil {
		client := o.queue
		if client == nil && needsQueue(cfg) {
			rc, err := queue.NewRedisClient(queue.RedisOptions{
				URL:          cfg.Queue.GetRedisURL(),
				BlockTimeout: cfg.Queue.GetBlockTimeout(),
			})
			if err != nil {
				return newError(op, KindConfiguration, err)
			}
			a.closers = append(a.closers, rc)
			client = rc
		}
		reg, err := BuildRegistry(cfg, client)
		if err != nil {
			return newError(op, KindConfiguration, err)
		}
		a.registry = reg
	}

	a.persister = o.persister
	if a.persister == nil {
		p, err := a.buildPersister()
		if err != nil {
			return newError(op, KindState, err)
		}
		a.persister = p
	}

	a.publisher = o.publisher
	index := o.index
	if index == nil {
		idx, err := a.buildIndex()
		if err != nil {
			return newError(op, KindConfiguration, err)
		}
		index = idx
	}

	dedupOpts := []dedup.Option{dedup.WithLogger(a.logger)}
	if index != nil {
		dedupOpts = append(dedupOpts, dedup.WithIndex(index))
	}
	engine, err := dedup.New(dedup.Config{
		Threshold:      cfg.Dedup.GetThreshold(),
		AmbiguityFloor: dedup.Floor(cfg.Dedup.GetAmbiguityFloor()),
		TieBreak:       dedup.TieBreak(cfg.Dedup.GetTieBreak()),
	}, dedupOpts...)
	if err != nil {
		return newError(op, KindConfiguration, err)
	}
	a.engine = engine
	a.consolidator = consolidate.New(consolidate.WithLogger(a.logger), consolidate.WithClock(a.clock))
	return nil
}

func (a *Auditor) buildPersister() (store.Persister, error) {
	st := a.cfg.State
	if st == nil || st.RedisURL == "" {
		return store.NewFilePersister(a.cfg.Resolve(st.GetDir())), nil
	}
	opts, err := redis.ParseURL(st.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state Redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, client)
	return store.NewRedisPersister(client, st.GetKey()), nil
}

func (a *Auditor) buildIndex() (dedup.KnownFindingsIndex, error) {
	ki := a.cfg.KnownIndex
	if ki == nil {
		return nil, nil
	}
	var indexes dedup.Indexes
	if ki.File != "" {
		idx, err := dedup.LoadIndexFile(a.cfg.Resolve(ki.File))
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	if e := ki.Etcd; e != nil {
		idx, err := OpenEtcdIndex(a.cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, idx)
		indexes = append(indexes, idx)
		if e.Publish && a.publisher == nil {
			a.publisher = idx
		}
	}
	switch len(indexes) {
	case 0:
		return nil, nil
	case 1:
		return indexes[0], nil
	default:
		return indexes, nil
	}
}

// Config returns the effective configuration.
func (a *Auditor) Config() *config.Config { return a.cfg }

// Registry returns the worker registry.
func (a *Auditor) Registry() *worker.Registry { return a.registry }

// Run audits target in the given mode and returns the consolidated report.
//
// Pass failures are returned as the scheduler's *RunError. Deduplication
// and consolidation failures, including a *consolidate.ReferentialIntegrityError,
// are returned as a *RunError for the consolidation pass. Lost pass-7
// coverage is not an error; the report is flagged instead.
//
// A single-pass mode restores the persisted state of the previous run and
// drops whatever that pass and later passes produced before re-running it.
// State is saved after every run, including failed ones.
func (a *Auditor) Run(ctx context.Context, target string, mode pass.Mode) (*consolidate.Report, error) {
	const op = "Auditor.Run"
	if strings.TrimSpace(target) == "" {
		return nil, newError(op, KindValidation, ErrNoTarget)
	}

	runID := uuid.New().String()
	logger := a.logger.With("run_id", runID)
	ctx, span := a.tracer.Start(ctx, "audit", trace.WithAttributes(
		attribute.String("audit.run_id", runID),
		attribute.String("audit.target", target),
		attribute.String("audit.mode", mode.String()),
	))
	defer span.End()

	fail := func(err error) (*consolidate.Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	st, led, err := a.restore(ctx, mode, logger)
	if err != nil {
		return fail(err)
	}
	if err := a.ingestStatic(ctx, target, st, led, logger); err != nil {
		return fail(err)
	}

	sched, err := scheduler.New(scheduler.Options{
		Registry:    a.registry,
		Store:       st,
		Ledger:      led,
		Protocol:    a.cfg.Protocol,
		Target:      target,
		TaskTimeout: a.cfg.Scheduler.GetTaskTimeout(),
		PassTimeout: a.cfg.Scheduler.GetPassTimeout(),
		MaxRetries:  a.cfg.Scheduler.GetMaxRetries(),
		RunID:       runID,
		Logger:      a.logger,
		Tracer:      a.tracer,
		Meter:       a.meter,
	})
	if err != nil {
		return fail(newError(op, KindConfiguration, err))
	}

	if _, err := sched.Run(ctx, mode); err != nil {
		a.save(ctx, runID, target, st, led, logger)
		return fail(err)
	}

	dd, err := a.engine.Apply(ctx, st, led)
	if err != nil {
		a.save(ctx, runID, target, st, led, logger)
		return fail(consolidationError(runID, "dedup", err))
	}

	report, err := a.consolidator.Consolidate(consolidate.Input{
		RunID:    runID,
		Target:   target,
		Mode:     mode.String(),
		Snapshot: st.Snapshot(),
		Evidence: led,
		Dedup:    dd,
	})
	a.save(ctx, runID, target, st, led, logger)
	if err != nil {
		return fail(consolidationError(runID, "consolidate", err))
	}

	if report.IncompleteCoverage() {
		logger.Warn("incomplete coverage", "gaps", len(report.Coverage.Gaps))
	}
	if a.publisher != nil {
		a.publish(ctx, runID, report, logger)
	}
	span.SetAttributes(
		attribute.Int("audit.findings", len(report.Findings)),
		attribute.Bool("audit.coverage_complete", report.Coverage.Complete),
	)
	span.SetStatus(codes.Ok, "")
	return report, nil
}

// publish records the report's primary findings in the known index. A
// failure is logged; the report stands.
func (a *Auditor) publish(ctx context.Context, runID string, report *consolidate.Report, logger *slog.Logger) {
	known := make([]dedup.CanonicalFinding, 0, len(report.Findings))
	for _, cf := range report.Findings {
		known = append(known, dedup.Known(cf.Finding, runID))
	}
	n, err := a.publisher.Publish(ctx, known...)
	if err != nil {
		logger.Warn("failed to publish known findings", "error", err, "published", n)
		return
	}
	logger.Info("published known findings", "published", n, "findings", len(known))
}

func consolidationError(runID, stage string, err error) error {
	return &scheduler.RunError{
		RunID: runID,
		Pass:  pass.Consolidation,
		Cause: &scheduler.PassError{
			Pass:        pass.Consolidation,
			WorkerIndex: -1,
			Cause:       fmt.Errorf("%s: %w", stage, err),
		},
	}
}

// restore returns the store and ledger a run starts from.
func (a *Auditor) restore(ctx context.Context, mode pass.Mode, logger *slog.Logger) (*store.Store, *ledger.Ledger, error) {
	const op = "Auditor.Run"
	if !mode.ReusesState() {
		return store.New(), ledger.New(), nil
	}

	state, err := a.persister.Load(ctx)
	if errors.Is(err, store.ErrNoState) {
		logger.Info("no saved state, starting empty", "mode", mode.String())
		return store.New(), ledger.New(), nil
	}
	if err != nil {
		return nil, nil, newError(op, KindState, err)
	}
	if state.Snapshot == nil {
		return store.New(), ledger.New(), nil
	}
	if err := a.persister.Archive(ctx, state); err != nil {
		return nil, nil, newError(op, KindState, err)
	}

	snap := state.Snapshot.Before(mode.Pass)
	st, err := store.FromSnapshot(snap)
	if err != nil {
		return nil, nil, newError(op, KindState, err)
	}

	referenced := make(map[string]struct{})
	for _, f := range snap.All() {
		for _, id := range f.EvidenceIDs {
			referenced[id] = struct{}{}
		}
	}
	var keep []finding.Evidence
	for _, ev := range state.Evidence {
		if _, ok := referenced[ev.ID]; ok {
			keep = append(keep, ev)
		}
	}
	led := ledger.New()
	if err := led.Record(keep...); err != nil {
		return nil, nil, newError(op, KindState, err)
	}

	logger.Info("restored state",
		"previous_run", state.RunID,
		"archived", true,
		"findings", st.Len(),
		"evidence", led.Len(),
	)
	return st, led, nil
}

// ingestStatic appends static-analysis findings that are not stored yet.
func (a *Auditor) ingestStatic(ctx context.Context, target string, st *store.Store, led *ledger.Ledger, logger *slog.Logger) error {
	const op = "Auditor.Run"
	var all staticanalysis.Result
	for _, r := range a.static {
		all.Merge(r)
	}

	if sa := a.cfg.StaticAnalysis; sa != nil {
		conv := staticanalysis.NewConverter()
		for _, in := range sa.Inputs {
			path := a.cfg.Resolve(in)
			report, err := staticanalysis.ReadSlitherFile(path)
			if err != nil {
				return newError(op, KindIngestion, err).WithContext(map[string]any{"path": path})
			}
			all.Merge(conv.Convert(report))
		}
		if sl := sa.Slither; sl != nil && sl.Enabled {
			report, err := staticanalysis.RunSlither(ctx, target, staticanalysis.SlitherOptions{
				Binary:    sl.Binary,
				Detectors: sl.Detectors,
				ExtraArgs: sl.Args,
				Timeout:   sl.GetTimeout(),
			})
			if err != nil {
				return newError(op, KindIngestion, err)
			}
			all.Merge(conv.Convert(report))
		}
	}
	if len(all.Findings) == 0 {
		return nil
	}

	snap := st.Snapshot()
	var fresh []finding.Finding
	needed := make(map[string]struct{})
	for _, f := range all.Findings {
		if _, exists := snap.Get(f.ID); exists {
			continue
		}
		fresh = append(fresh, f)
		for _, id := range f.EvidenceIDs {
			needed[id] = struct{}{}
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	var evidence []finding.Evidence
	for _, ev := range all.Evidence {
		if _, ok := needed[ev.ID]; ok {
			evidence = append(evidence, ev)
		}
	}

	if err := led.Record(evidence...); err != nil {
		return newError(op, KindIngestion, err)
	}
	if err := st.Append(pass.Recon, finding.ExternalWorkerIndex, fresh); err != nil {
		return newError(op, KindIngestion, err)
	}
	logger.Info("static analysis ingested", "findings", len(fresh), "evidence", len(evidence))
	return nil
}

func (a *Auditor) save(ctx context.Context, runID, target string, st *store.Store, led *ledger.Ledger, logger *slog.Logger) {
	state := &store.State{
		RunID:    runID,
		Target:   target,
		SavedAt:  a.clock().UTC(),
		Snapshot: st.Snapshot(),
		Evidence: led.All(),
	}
	// A cancelled run still records what completed.
	if err := a.persister.Save(context.WithoutCancel(ctx), state); err != nil {
		logger.Warn("failed to save audit state", "error", err)
	}
}

// Query returns findings from the last saved run matching a CEL
// expression. An empty expression returns every finding.
func (a *Auditor) Query(ctx context.Context, where string) ([]finding.Finding, error) {
	const op = "Auditor.Query"
	state, err := a.persister.Load(ctx)
	if errors.Is(err, store.ErrNoState) {
		return nil, newError(op, KindState, ErrNoState)
	}
	if err != nil {
		return nil, newError(op, KindState, err)
	}
	if state.Snapshot == nil {
		return []finding.Finding{}, nil
	}

	var filter store.Filter
	if strings.TrimSpace(where) != "" {
		cel, err := store.NewCELFilter(where)
		if err != nil {
			return nil, newError(op, KindQuery, err)
		}
		filter = cel
	}
	return state.Snapshot.Query(filter), nil
}

// Close releases connections opened by New.
func (a *Auditor) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(cfg *config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.GetLevel() {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.GetFormat() == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
}
