package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/vstore/internal/goid"
)

// tree is the state shared by a root store and every store scoped from it.
//
// The commit gate serializes commits across goroutines. It is reentrant
// for the goroutine that holds it, so a subscriber that updates the store
// from inside its own callback nests instead of deadlocking. Commits made
// while a notification round is running are queued in pending and
// delivered after that round, in commit order.
type tree struct {
	name string

	gate  sync.Mutex
	owner atomic.Uint64

	// Owner-only fields.
	depth      int
	delivering bool
	pending    *queue.Queue

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func newTree(cfg config) *tree {
	return &tree{
		name:    cfg.name,
		pending: queue.New(),
		logger:  cfg.logger.With(slog.String("store", cfg.name)),
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
	}
}

// enter acquires the gate, or nests if the caller already holds it.
func (t *tree) enter() {
	id := goid.Get()
	if t.owner.Load() == id {
		t.depth++
		return
	}
	t.gate.Lock()
	t.owner.Store(id)
	t.depth = 1
}

// leave undoes one enter.
func (t *tree) leave() {
	t.depth--
	if t.depth == 0 {
		t.owner.Store(0)
		t.gate.Unlock()
	}
}

// heldByCaller reports whether the calling goroutine holds the gate.
func (t *tree) heldByCaller() bool {
	owner := t.owner.Load()
	return owner != 0 && owner == goid.Get()
}

// nesting returns the gate depth as seen by the caller: zero unless the
// caller holds the gate.
func (t *tree) nesting() int {
	if !t.heldByCaller() {
		return 0
	}
	return t.depth
}

// deliver queues a notification round and, unless a round is already
// running on this goroutine, drains the queue. Must hold the gate.
func (t *tree) deliver(round func()) {
	t.pending.Add(round)
	if t.delivering {
		t.metrics.nested(t.name)
		return
	}

	t.delivering = true
	completed := false
	defer func() {
		t.delivering = false
		if !completed {
			// A subscriber panicked; drop rounds that can no longer be
			// delivered in order.
			for t.pending.Length() > 0 {
				t.pending.Remove()
			}
		}
	}()

	for t.pending.Length() > 0 {
		next := t.pending.Remove().(func())
		next()
		t.metrics.round(t.name)
	}
	completed = true
}

// startCommit opens the span and timer for one commit. The returned func
// ends both; a non-nil error marks the span failed.
func (t *tree) startCommit(ctx context.Context) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "vstore.update",
		trace.WithAttributes(
			attribute.String("vstore.store", t.name),
			attribute.Int("vstore.depth", t.depth),
			attribute.Bool("vstore.nested", t.delivering),
		),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		t.metrics.commit(t.name, time.Since(start))
	}
}
