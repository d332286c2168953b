package main

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-dev/vstore/internal/config"
	"github.com/vango-dev/vstore/internal/errors"
)

// newLogger builds the run's logger from the log section.
func newLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	b := config.Bench{Log: cfg}
	level, err := b.LogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

// newTracer returns a tracer exporting to w when enabled, and a no-op
// tracer otherwise. shutdown flushes pending spans.
func newTracer(w io.Writer, enabled bool, runID string) (trace.Tracer, func(context.Context) error, error) {
	if !enabled {
		return noop.NewTracerProvider().Tracer("vstore"), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "vstore-bench"),
			attribute.String("vstore.run_id", runID),
		)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	return tp.Tracer("vstore-bench"), tp.Shutdown, nil
}

// newRegistry returns a registry with the process collectors installed.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// metricsRouter serves the registry and a liveness probe.
func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return r
}

// metricsServer is a running /metrics endpoint.
type metricsServer struct {
	srv  *http.Server
	addr string
	done chan error
}

// serveMetrics starts serving reg on addr.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.New("E401").WithDetailf("listen %s", addr).Wrap(err)
	}

	m := &metricsServer{
		srv: &http.Server{
			Handler:           metricsRouter(reg),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr: ln.Addr().String(),
		done: make(chan error, 1),
	}
	go func() {
		m.done <- m.srv.Serve(ln)
	}()

	logger.Info("serving metrics", slog.String("addr", m.addr))
	return m, nil
}

// Close stops the server, waiting for in-flight scrapes.
func (m *metricsServer) Close(ctx context.Context) error {
	if err := m.srv.Shutdown(ctx); err != nil {
		return errors.New("E401").Wrap(err)
	}
	if err := <-m.done; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.New("E401").Wrap(err)
	}
	return nil
}
