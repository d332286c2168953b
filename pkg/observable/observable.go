// Package observable defines the minimal observation capability shared by
// every value source in vstore, and the combinators built on top of it.
//
// Observable has a single method, Subscribe. Redirecting delivery, mapping,
// diffing and conversion to channels or iterators are all implemented purely
// in terms of that method, so a constant (Just), a broadcaster
// (FromBroadcaster) and a store (store.Store.Observe) are interchangeable.
package observable

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/vstore/pkg/broadcast"
	"github.com/vango-dev/vstore/pkg/dispatch"
)

// Disposable cancels a subscription. Dispose must be idempotent.
type Disposable interface {
	Dispose()
}

// Observable is anything that can deliver values of type V to subscribers.
//
// If suppressInitial is false and the source has a current value, fn
// receives it before Subscribe returns.
type Observable[V any] interface {
	Subscribe(suppressInitial bool, fn func(ctx context.Context, v V)) Disposable
}

// Func adapts a subscribe function to Observable.
type Func[V any] func(suppressInitial bool, fn func(ctx context.Context, v V)) Disposable

// Subscribe implements Observable.
func (f Func[V]) Subscribe(suppressInitial bool, fn func(ctx context.Context, v V)) Disposable {
	return f(suppressInitial, fn)
}

// DisposeFunc returns a Disposable that calls fn at most once.
func DisposeFunc(fn func()) Disposable {
	return &onceDisposer{fn: fn}
}

type onceDisposer struct {
	once sync.Once
	fn   func()
}

func (d *onceDisposer) Dispose() {
	d.once.Do(d.fn)
}

// Nop is a Disposable that does nothing.
var Nop Disposable = DisposeFunc(func() {})

// Bag collects disposables and disposes them together.
type Bag struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// Add registers d. If the bag was already disposed, d is disposed at once.
func (b *Bag) Add(d Disposable) {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		d.Dispose()
		return
	}
	b.items = append(b.items, d)
	b.mu.Unlock()
}

// Dispose disposes everything added so far and everything added later.
func (b *Bag) Dispose() {
	b.mu.Lock()
	items := b.items
	b.items = nil
	b.disposed = true
	b.mu.Unlock()

	for _, d := range items {
		d.Dispose()
	}
}

// Just returns an Observable that delivers v once on subscribe and never
// changes.
func Just[V any](v V) Observable[V] {
	return Func[V](func(suppressInitial bool, fn func(context.Context, V)) Disposable {
		if !suppressInitial {
			fn(context.Background(), v)
		}
		return Nop
	})
}

// FromBroadcaster exposes a broadcaster as an Observable.
func FromBroadcaster[V any](b *broadcast.Broadcaster[V], opts ...broadcast.SubscribeOption) Observable[V] {
	return Func[V](func(suppressInitial bool, fn func(context.Context, V)) Disposable {
		return b.Subscribe(suppressInitial, fn, opts...)
	})
}

// On redirects deliveries from obs onto q. Deliveries that are still queued
// when the subscription is disposed are dropped.
func On[V any](obs Observable[V], q dispatch.Queue) Observable[V] {
	return Func[V](func(suppressInitial bool, fn func(context.Context, V)) Disposable {
		var disposed atomic.Bool
		inner := obs.Subscribe(suppressInitial, func(ctx context.Context, v V) {
			q.Async(func() {
				if !disposed.Load() {
					fn(ctx, v)
				}
			})
		})
		return DisposeFunc(func() {
			disposed.Store(true)
			inner.Dispose()
		})
	})
}

// Map transforms every value delivered by obs.
func Map[V, U any](obs Observable[V], f func(V) U) Observable[U] {
	return Func[U](func(suppressInitial bool, fn func(context.Context, U)) Disposable {
		return obs.Subscribe(suppressInitial, func(ctx context.Context, v V) {
			fn(ctx, f(v))
		})
	})
}

// Filter drops values for which keep returns false.
func Filter[V any](obs Observable[V], keep func(V) bool) Observable[V] {
	return Func[V](func(suppressInitial bool, fn func(context.Context, V)) Disposable {
		return obs.Subscribe(suppressInitial, func(ctx context.Context, v V) {
			if keep(v) {
				fn(ctx, v)
			}
		})
	})
}
