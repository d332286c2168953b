// Package broadcast provides a one-to-many notifier that remembers the last
// published value for late subscribers.
//
// Notify snapshots the subscriber set under a lock and invokes the
// callbacks after releasing it, so callbacks may subscribe, dispose or
// notify again without deadlocking. Delivery is synchronous on the
// notifying goroutine unless a subscription was redirected with OnQueue.
//
// Each subscriber sees values in publish order and never runs twice at
// once. A redirected subscription queues its values in a mailbox and
// drains it with one task at a time, so this holds on a concurrent queue
// too. A value that arrives after a newer one has already been delivered
// to the same subscriber is dropped; this only happens when Notify is
// called from several goroutines at once, or when the initial delivery
// made by Subscribe races a Notify.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/vango-dev/vstore/pkg/dispatch"
)

// Func receives a published value together with the context the publisher
// passed to Notify.
type Func[T any] func(ctx context.Context, v T)

// Option configures a Broadcaster.
type Option[T any] func(*Broadcaster[T])

// WithInitial seeds the last-value cache.
func WithInitial[T any](v T) Option[T] {
	return func(b *Broadcaster[T]) {
		b.last = v
		b.hasLast = true
	}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	queue dispatch.Queue
}

// OnQueue redirects the subscription's deliveries onto q.
func OnQueue(q dispatch.Queue) SubscribeOption {
	return func(o *subscribeOptions) {
		o.queue = q
	}
}

// Broadcaster fans published values out to subscribers.
type Broadcaster[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber[T]
	last    T
	hasLast bool
	seq     uint64
}

type subscriber[T any] struct {
	id       uint64
	fn       Func[T]
	queue    dispatch.Queue
	disposed atomic.Bool

	// delivered is the sequence number of the newest value handed to fn.
	delivered atomic.Uint64

	// mailbox holds redirected deliveries not yet run. draining is set
	// while a task for this subscriber is scheduled on queue.
	mu       sync.Mutex
	mailbox  *queue.Queue
	draining bool
}

type delivery[T any] struct {
	ctx context.Context
	seq uint64
	v   T
}

// New creates a broadcaster with no subscribers.
func New[T any](opts ...Option[T]) *Broadcaster[T] {
	b := &Broadcaster[T]{
		subs: make(map[uint64]*subscriber[T]),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.hasLast {
		b.seq = 1
	}
	return b
}

// Subscribe registers fn. If a value has been published (or seeded) and
// suppressInitial is false, fn receives it before Subscribe returns.
//
// A subscription redirected with OnQueue is the exception: its initial
// value is scheduled on the queue like every later one, so fn may not have
// seen it when Subscribe returns. It is dropped if a newer value reaches
// fn first.
func (b *Broadcaster[T]) Subscribe(suppressInitial bool, fn Func[T], opts ...SubscribeOption) *Subscription {
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub := &subscriber[T]{
		id:    nextID(),
		fn:    fn,
		queue: o.queue,
	}
	if sub.queue != nil {
		sub.mailbox = queue.New()
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	last, hasLast, seq := b.last, b.hasLast, b.seq
	b.mu.Unlock()

	s := &Subscription{
		id: sub.id,
		dispose: func() {
			sub.disposed.Store(true)
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
		},
	}

	if hasLast && !suppressInitial {
		sub.deliver(context.Background(), seq, last)
	}
	return s
}

// Notify publishes v: it becomes the last value, and every subscriber
// registered at the time of the call receives it.
func (b *Broadcaster[T]) Notify(ctx context.Context, v T) {
	// Copy subscribers while holding lock
	b.mu.Lock()
	b.last = v
	b.hasLast = true
	b.seq++
	seq := b.seq
	subs := make([]*subscriber[T], 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(ctx, seq, v)
	}
}

// Last returns the last published value, if any.
func (b *Broadcaster[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.hasLast
}

// Len returns the number of live subscriptions.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (s *subscriber[T]) deliver(ctx context.Context, seq uint64, v T) {
	if s.queue == nil {
		s.invoke(ctx, seq, v)
		return
	}

	s.mu.Lock()
	s.mailbox.Add(delivery[T]{ctx: ctx, seq: seq, v: v})
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	s.queue.Async(s.drain)
}

// drain runs queued deliveries in order until the mailbox is empty. If fn
// panics, the rest of the mailbox is handed to a fresh task.
func (s *subscriber[T]) drain() {
	done := false
	defer func() {
		if done {
			return
		}
		s.mu.Lock()
		more := s.mailbox.Length() > 0
		s.draining = more
		s.mu.Unlock()
		if more {
			s.queue.Async(s.drain)
		}
	}()

	for {
		s.mu.Lock()
		if s.mailbox.Length() == 0 {
			s.draining = false
			s.mu.Unlock()
			done = true
			return
		}
		d := s.mailbox.Remove().(delivery[T])
		s.mu.Unlock()

		s.invoke(d.ctx, d.seq, d.v)
	}
}

func (s *subscriber[T]) invoke(ctx context.Context, seq uint64, v T) {
	if s.disposed.Load() {
		return
	}
	for {
		prev := s.delivered.Load()
		if seq <= prev {
			return
		}
		if s.delivered.CompareAndSwap(prev, seq) {
			break
		}
	}
	s.fn(ctx, v)
}
