package store

import (
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/vstore/pkg/dispatch"
	"github.com/vango-dev/vstore/pkg/mutexbox"
)

// tracerName is the instrumentation scope used when no tracer is supplied.
const tracerName = "github.com/vango-dev/vstore"

// Option configures a root store.
type Option func(*config)

type config struct {
	name     string
	strategy mutexbox.Strategy
	queue    dispatch.Queue
	debug    bool
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

// WithName labels the store in logs, metrics and spans.
// Default: "store-" followed by a short random id.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithStrategy selects the exclusion strategy of the root's box.
func WithStrategy(s mutexbox.Strategy) Option {
	return func(c *config) {
		c.strategy = s
	}
}

// WithQueue supplies the queue for queue-backed strategies. A subscriber
// redirected onto the same queue may read Value: a serial queue runs the
// box's nested Sync inline. With a concurrent queue bounded by
// WithMaxConcurrency, such reads wait for a free slot.
func WithQueue(q dispatch.Queue) Option {
	return func(c *config) {
		c.queue = q
	}
}

// WithDebug enables the box's reentrancy detection.
func WithDebug(enabled bool) Option {
	return func(c *config) {
		c.debug = enabled
	}
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithMetrics records commits and notification rounds on m.
func WithMetrics(m *Metrics) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithTracer sets the tracer used for commit spans.
// Default: the global OpenTelemetry tracer provider.
func WithTracer(tr trace.Tracer) Option {
	return func(c *config) {
		c.tracer = tr
	}
}

func defaultConfig() config {
	return config{
		strategy: mutexbox.RWLock,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.name == "" {
		cfg.name = "store-" + uuid.NewString()[:8]
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.tracer == nil {
		cfg.tracer = otel.Tracer(tracerName)
	}
	return cfg
}
