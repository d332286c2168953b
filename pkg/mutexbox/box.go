// Package mutexbox provides Box, a single value behind a selectable
// exclusion strategy.
//
// Read grants read-only access and may overlap other reads when the
// strategy allows it (RWLock, ConcurrentQueue). Write grants exclusive
// access. Exchange is a Write that swaps the value.
//
// Boxes are not reentrant: calling Read or Write from inside another Read or
// Write on the same box and goroutine is a programmer error that usually
// hangs. Build the box WithDebug(true) to turn the hang into a panic with
// code E201.
package mutexbox

import (
	"runtime"
	"sync"

	"github.com/vango-dev/vstore/internal/errors"
	"github.com/vango-dev/vstore/internal/goid"
	"github.com/vango-dev/vstore/pkg/dispatch"
)

// Option configures a Box.
type Option func(*boxOptions)

type boxOptions struct {
	strategy Strategy
	queue    dispatch.Queue
	debug    bool
}

// WithStrategy selects the exclusion strategy. Default: RWLock.
func WithStrategy(s Strategy) Option {
	return func(o *boxOptions) {
		o.strategy = s
	}
}

// WithQueue supplies the queue used by SerialQueue and ConcurrentQueue.
// ConcurrentQueue needs a dispatch.BarrierQueue. Without it the box creates
// and owns a queue, which is closed when the box is collected. A task
// running alone on the queue may use the box; its access runs inline.
func WithQueue(q dispatch.Queue) Option {
	return func(o *boxOptions) {
		o.queue = q
	}
}

// WithDebug enables reentrancy detection.
func WithDebug(enabled bool) Option {
	return func(o *boxOptions) {
		o.debug = enabled
	}
}

// Box holds a value of type V.
type Box[V any] struct {
	value    V
	lock     locker
	strategy Strategy

	// holders records goroutines currently inside Read/Write.
	// Only maintained in debug mode.
	debug   bool
	holders sync.Map
}

// New creates a box holding initial.
func New[V any](initial V, opts ...Option) *Box[V] {
	o := boxOptions{strategy: RWLock}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Box[V]{
		value:    initial,
		strategy: o.strategy,
		debug:    o.debug,
	}

	var owned *dispatch.TaskQueue
	switch o.strategy {
	case SpinLock:
		b.lock = &spinLocker{}
	case RWLock:
		b.lock = &rwLocker{}
	case SerialQueue:
		q := o.queue
		if q == nil {
			owned = dispatch.NewSerial(dispatch.WithName("mutexbox.serial"))
			q = owned
		}
		b.lock = queueLocker{q: q}
	case ConcurrentQueue:
		bq, ok := o.queue.(dispatch.BarrierQueue)
		if !ok {
			owned = dispatch.NewConcurrent(dispatch.WithName("mutexbox.concurrent"))
			bq = owned
		}
		b.lock = barrierLocker{q: bq}
	default:
		panic(errors.New("E204").WithDetailf("strategy %d", o.strategy))
	}

	if owned != nil {
		runtime.AddCleanup(b, func(q *dispatch.TaskQueue) { q.Close() }, owned)
	}
	return b
}

// Strategy returns the box's exclusion strategy.
func (b *Box[V]) Strategy() Strategy {
	return b.strategy
}

// Read calls fn with the current value under read exclusion.
// fn must not retain or mutate anything reachable from v.
func (b *Box[V]) Read(fn func(v V)) {
	b.checkReentry()
	b.lock.read(func() {
		defer b.track()()
		fn(b.value)
	})
}

// Write calls fn with a pointer to the value under exclusive access.
func (b *Box[V]) Write(fn func(v *V)) {
	b.checkReentry()
	b.lock.write(func() {
		defer b.track()()
		fn(&b.value)
	})
}

// Get returns a copy of the current value.
func (b *Box[V]) Get() V {
	var v V
	b.Read(func(cur V) { v = cur })
	return v
}

// Exchange stores v and returns the previous value.
func (b *Box[V]) Exchange(v V) V {
	var old V
	b.Write(func(cur *V) {
		old = *cur
		*cur = v
	})
	return old
}

// Load runs fn under read exclusion and returns its result.
func Load[V, R any](b *Box[V], fn func(V) R) R {
	var r R
	b.Read(func(v V) { r = fn(v) })
	return r
}

// Modify runs fn under exclusive access and returns its result.
func Modify[V, R any](b *Box[V], fn func(*V) R) R {
	var r R
	b.Write(func(v *V) { r = fn(v) })
	return r
}

func (b *Box[V]) checkReentry() {
	if !b.debug {
		return
	}
	if _, held := b.holders.Load(goid.Get()); held {
		panic(errors.New("E201").WithDetailf("strategy %s", b.strategy))
	}
}

// track registers the executing goroutine as a holder and returns the
// matching release.
func (b *Box[V]) track() func() {
	if !b.debug {
		return func() {}
	}
	id := goid.Get()
	b.holders.Store(id, struct{}{})
	return func() { b.holders.Delete(id) }
}
