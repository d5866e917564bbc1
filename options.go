package auditcore

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/auditcore/config"
	"github.com/zero-day-ai/auditcore/dedup"
	"github.com/zero-day-ai/auditcore/queue"
	"github.com/zero-day-ai/auditcore/staticanalysis"
	"github.com/zero-day-ai/auditcore/store"
	"github.com/zero-day-ai/auditcore/worker"
)

// Option configures an Auditor.
type Option func(*options)

type options struct {
	cfg        *config.Config
	configPath string
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	registry   *worker.Registry
	index      dedup.KnownFindingsIndex
	publisher  dedup.Publisher
	persister  store.Persister
	queue      queue.Client
	static     []*staticanalysis.Result
	clock      func() time.Time
}

// WithConfig sets the configuration directly. It takes precedence over
// WithConfigPath.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

// WithConfigPath loads audit.yaml from a file or directory.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithLogger sets a custom logger.
// If not provided, one is built from the logging section of the config.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for run, pass and task spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithMeter sets the meter pass metrics are recorded with.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithRegistry supplies the worker registry. Workers declared in the
// config are not registered when a registry is given.
func WithRegistry(r *worker.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithKnownIndex sets the known-findings index, replacing any configured one.
func WithKnownIndex(idx dedup.KnownFindingsIndex) Option {
	return func(o *options) {
		o.index = idx
	}
}

// WithPublisher sets where the primary findings of successful runs are
// published, replacing any configured one.
func WithPublisher(p dedup.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithPersister sets where run state is saved and restored.
func WithPersister(p store.Persister) Option {
	return func(o *options) {
		o.persister = p
	}
}

// WithQueue sets the work queue used by queue workers declared in the config.
func WithQueue(c queue.Client) Option {
	return func(o *options) {
		o.queue = c
	}
}

// WithStaticResults adds already-ingested static-analysis results to every run.
func WithStaticResults(results ...*staticanalysis.Result) Option {
	return func(o *options) {
		o.static = append(o.static, results...)
	}
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}
