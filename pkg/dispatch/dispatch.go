// Package dispatch provides execution contexts that run submitted work:
// an inline context, serial queues and concurrent queues with barriers.
//
// Queues serve two roles in vstore. A mutexbox.Box can use a queue as its
// exclusion strategy, and a subscription can be redirected onto a queue so
// that its callback runs there instead of on the committing goroutine.
//
// Work submitted to one queue starts in submission order. A serial queue
// also finishes it in that order, which is what keeps redirected deliveries
// ordered like the commits that produced them.
//
// A task that runs exclusively (any task on a serial queue, or a barrier)
// may call Sync or SyncBarrier on its own queue: the work runs inline on
// the task's goroutine. A non-barrier task on a concurrent queue that calls
// SyncBarrier on its own queue, or Sync once the concurrency limit is
// reached, deadlocks.
package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/vango-dev/vstore/internal/errors"
	"github.com/vango-dev/vstore/internal/goid"
)

// Queue is an execution context.
type Queue interface {
	// Async schedules fn and returns immediately.
	Async(fn func())

	// Sync schedules fn and blocks until it has run. A panic in fn is
	// re-raised on the calling goroutine.
	Sync(fn func())
}

// BarrierQueue is a Queue that can also run work exclusively: a barrier
// starts once everything submitted before it has finished, and nothing
// submitted after it starts until it is done.
type BarrierQueue interface {
	Queue
	AsyncBarrier(fn func())
	SyncBarrier(fn func())
}

// Inline is a Queue that runs work immediately on the calling goroutine.
var Inline Queue = inline{}

type inline struct{}

func (inline) Async(fn func()) { fn() }
func (inline) Sync(fn func())  { fn() }

// Stats is a point-in-time view of a queue's counters.
type Stats struct {
	Pending   int
	Running   int
	Completed int64
}

// Option configures a queue.
type Option func(*options)

type options struct {
	name           string
	maxConcurrency int
}

// WithName labels the queue. The name is reported by Name and used in
// panics raised for closed queues.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithMaxConcurrency bounds how many tasks a concurrent queue runs at once.
// Zero or less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		o.maxConcurrency = n
	}
}

type task struct {
	fn      func()
	barrier bool
}

// TaskQueue is a FIFO queue drained by a single scheduler goroutine.
// A serial queue is a TaskQueue with a concurrency limit of one.
type TaskQueue struct {
	name  string
	limit int

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	running int
	closed  bool
	done    chan struct{}

	completed atomic.Int64

	// exclusive is the goroutine id of the task that currently holds the
	// queue alone, or zero.
	exclusive atomic.Uint64
}

// NewSerial creates a queue that runs one task at a time in FIFO order.
func NewSerial(opts ...Option) *TaskQueue {
	o := applyOptions(opts)
	return newTaskQueue(o.name, 1)
}

// NewConcurrent creates a queue that starts tasks in FIFO order and lets
// them run in parallel, up to WithMaxConcurrency.
func NewConcurrent(opts ...Option) *TaskQueue {
	o := applyOptions(opts)
	return newTaskQueue(o.name, o.maxConcurrency)
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newTaskQueue(name string, limit int) *TaskQueue {
	q := &TaskQueue{
		name:  name,
		limit: limit,
		tasks: queue.New(),
		done:  make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.schedule()
	return q
}

// Name returns the queue label.
func (q *TaskQueue) Name() string {
	return q.name
}

// Async implements Queue.
func (q *TaskQueue) Async(fn func()) {
	q.submit(task{fn: fn})
}

// Sync implements Queue.
func (q *TaskQueue) Sync(fn func()) {
	q.wait(fn, false)
}

// AsyncBarrier implements BarrierQueue.
func (q *TaskQueue) AsyncBarrier(fn func()) {
	q.submit(task{fn: fn, barrier: true})
}

// SyncBarrier implements BarrierQueue.
func (q *TaskQueue) SyncBarrier(fn func()) {
	q.wait(fn, true)
}

func (q *TaskQueue) wait(fn func(), barrier bool) {
	if id := q.exclusive.Load(); id != 0 && id == goid.Get() {
		fn()
		return
	}

	done := make(chan struct{})
	var recovered any
	q.submit(task{
		barrier: barrier,
		fn: func() {
			defer close(done)
			defer func() {
				recovered = recover()
			}()
			fn()
		},
	})
	<-done
	if recovered != nil {
		panic(recovered)
	}
}

func (q *TaskQueue) submit(t task) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		panic(errors.New("E202").WithDetailf("queue %q", q.name))
	}
	q.tasks.Add(t)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// schedule pops tasks in FIFO order and starts them.
func (q *TaskQueue) schedule() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for q.tasks.Length() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.tasks.Length() == 0 {
			close(q.done)
			return
		}

		next := q.tasks.Peek().(task)
		if next.barrier {
			for q.running > 0 {
				q.cond.Wait()
			}
			q.tasks.Remove()
			q.running++
			q.mu.Unlock()
			q.run(next.fn, true)
			q.mu.Lock()
			continue
		}

		for q.limit > 0 && q.running >= q.limit {
			q.cond.Wait()
		}
		q.tasks.Remove()
		q.running++
		go q.run(next.fn, q.limit == 1)
	}
}

func (q *TaskQueue) run(fn func(), exclusive bool) {
	defer func() {
		q.completed.Add(1)
		q.mu.Lock()
		q.running--
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	if exclusive {
		q.exclusive.Store(goid.Get())
		defer q.exclusive.Store(0)
	}
	fn()
}

// Close stops accepting work, waits for everything already submitted to
// finish, and stops the scheduler. Calling Close more than once is safe.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	<-q.done

	q.mu.Lock()
	for q.running > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

// Stats returns the current counters.
func (q *TaskQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   q.tasks.Length(),
		Running:   q.running,
		Completed: q.completed.Load(),
	}
}
