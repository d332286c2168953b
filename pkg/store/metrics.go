package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures store metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "vstore").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for commit duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures store metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "vstore",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the Prometheus collectors shared by any number of stores.
// Every series is labeled with the store name. Create one Metrics per
// registry; registering twice on the same registry panics.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	commits        *prometheus.CounterVec
	nestedCommits  *prometheus.CounterVec
	rounds         *prometheus.CounterVec
	commitDuration *prometheus.HistogramVec
	subscriptions  *prometheus.CounterVec
	liveScopes     *prometheus.GaugeVec
}

// NewMetrics creates and registers the store collectors.
//
// Metrics collected:
//   - vstore_commits_total: committed updates per store
//   - vstore_nested_commits_total: commits made from inside a notification round
//   - vstore_notify_rounds_total: notification rounds delivered
//   - vstore_commit_duration_seconds: time from gate entry to the end of delivery
//   - vstore_subscriptions_total: subscriptions created
//   - vstore_live_scopes: scoped stores that have not been collected
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	factory := promauto.With(cfg.Registry)

	return &Metrics{
		commits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "commits_total",
			Help:        "Total number of committed store updates",
			ConstLabels: cfg.ConstLabels,
		}, []string{"store"}),

		nestedCommits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "nested_commits_total",
			Help:        "Commits issued while a notification round was running",
			ConstLabels: cfg.ConstLabels,
		}, []string{"store"}),

		rounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "notify_rounds_total",
			Help:        "Total number of notification rounds delivered",
			ConstLabels: cfg.ConstLabels,
		}, []string{"store"}),

		commitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "commit_duration_seconds",
			Help:        "Commit duration in seconds, including synchronous delivery",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}, []string{"store"}),

		subscriptions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "subscriptions_total",
			Help:        "Total number of subscriptions created",
			ConstLabels: cfg.ConstLabels,
		}, []string{"store"}),

		liveScopes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "live_scopes",
			Help:        "Scoped stores that are still reachable",
			ConstLabels: cfg.ConstLabels,
		}, []string{"store"}),
	}
}

func (m *Metrics) commit(store string, d time.Duration) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(store).Inc()
	m.commitDuration.WithLabelValues(store).Observe(d.Seconds())
}

func (m *Metrics) nested(store string) {
	if m == nil {
		return
	}
	m.nestedCommits.WithLabelValues(store).Inc()
}

func (m *Metrics) round(store string) {
	if m == nil {
		return
	}
	m.rounds.WithLabelValues(store).Inc()
}

func (m *Metrics) subscribed(store string) {
	if m == nil {
		return
	}
	m.subscriptions.WithLabelValues(store).Inc()
}

func (m *Metrics) scopeCreated(store string) {
	if m == nil {
		return
	}
	m.liveScopes.WithLabelValues(store).Inc()
}

func (m *Metrics) scopeCollected(store string) {
	if m == nil {
		return
	}
	m.liveScopes.WithLabelValues(store).Dec()
}
