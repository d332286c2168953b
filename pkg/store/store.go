package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vango-dev/vstore/pkg/broadcast"
	"github.com/vango-dev/vstore/pkg/dispatch"
	"github.com/vango-dev/vstore/pkg/mutexbox"
	"github.com/vango-dev/vstore/pkg/observable"
)

// source is where a store's value lives: a box for a root, a parent plus
// accessors for a scope.
type source[V any] interface {
	value() V
	update(ctx context.Context, body func(*V))
}

// frame is one entry on a store's value stack.
type frame[V any] struct {
	v *V
	// body marks a working copy owned by a running update body, as opposed
	// to the value of a notification round.
	body bool
}

// Store is an observable value that can be read, updated and subscribed to
// from any goroutine. A root store owns its value; a scoped store is a view
// of part of its parent's value and shares the parent's commit gate.
//
// Store is safe for concurrent use.
type Store[V any] struct {
	name string
	tree *tree
	src  source[V]

	// internal delivers to scoped children before external delivers to
	// user subscribers, so children are consistent when callbacks run.
	internal *broadcast.Broadcaster[V]
	external *broadcast.Broadcaster[V]

	// stack is only touched by the goroutine holding the tree's gate.
	stack []frame[V]
}

// New creates a root store holding initial.
func New[V any](initial V, opts ...Option) *Store[V] {
	cfg := applyOptions(opts)

	var boxOpts []mutexbox.Option
	boxOpts = append(boxOpts, mutexbox.WithStrategy(cfg.strategy), mutexbox.WithDebug(cfg.debug))
	if cfg.queue != nil {
		boxOpts = append(boxOpts, mutexbox.WithQueue(cfg.queue))
	}

	s := &Store[V]{
		name:     cfg.name,
		tree:     newTree(cfg),
		internal: broadcast.New(broadcast.WithInitial(initial)),
		external: broadcast.New(broadcast.WithInitial(initial)),
	}
	s.src = &rootSource[V]{
		store: s,
		box:   mutexbox.New(initial, boxOpts...),
	}

	s.tree.logger.Debug("store created", slog.String("strategy", cfg.strategy.String()))
	return s
}

// Name returns the store's name.
func (s *Store[V]) Name() string {
	return s.name
}

// Value returns the current value.
//
// Inside an update body it returns the body's working copy. Inside a
// subscriber callback it returns the value being delivered in that round,
// even if a callback earlier in the round committed a newer one.
// Everywhere else it returns the latest committed value.
func (s *Store[V]) Value() V {
	if top := s.top(); top != nil {
		return *top.v
	}
	return s.src.value()
}

// Update runs body on a copy of the current value, commits the result and
// notifies subscribers synchronously.
//
// body must not block on another goroutine that touches the same store.
// Calling Update from a subscriber callback is allowed: the commit takes
// effect immediately and its notification is delivered after the current
// round finishes. Calling Update from inside an update body folds the inner
// body into the enclosing working copy, which is committed once.
func (s *Store[V]) Update(ctx context.Context, body func(v *V)) {
	s.src.update(ctx, body)
}

// Set replaces the value.
func (s *Store[V]) Set(v V) {
	s.SetContext(context.Background(), v)
}

// SetContext replaces the value, propagating ctx to subscribers.
func (s *Store[V]) SetContext(ctx context.Context, v V) {
	s.Update(ctx, func(p *V) { *p = v })
}

// Subscribe registers fn for every committed value. Unless suppressInitial
// is set, fn first receives the current value before Subscribe returns.
//
// The subscription keeps the store alive until it is disposed.
func (s *Store[V]) Subscribe(suppressInitial bool, fn func(ctx context.Context, v V)) *broadcast.Subscription {
	return s.subscribe(suppressInitial, fn)
}

// SubscribeOn is Subscribe with every delivery, the initial one included,
// scheduled asynchronously on q, so fn may not have seen the current value
// when SubscribeOn returns. Calls to fn stay in commit order and never
// overlap, whatever q's concurrency.
func (s *Store[V]) SubscribeOn(q dispatch.Queue, suppressInitial bool, fn func(ctx context.Context, v V)) *broadcast.Subscription {
	return s.subscribe(suppressInitial, fn, broadcast.OnQueue(q))
}

func (s *Store[V]) subscribe(suppressInitial bool, fn func(context.Context, V), opts ...broadcast.SubscribeOption) *broadcast.Subscription {
	// Hold the gate so the initial value cannot interleave with a round.
	s.tree.enter()
	defer s.tree.leave()

	sub := s.external.Subscribe(suppressInitial, fn, opts...)
	s.tree.metrics.subscribed(s.tree.name)
	return sub.Retain(s)
}

// Observe exposes the store as an Observable.
func (s *Store[V]) Observe() observable.Observable[V] {
	return observable.Func[V](func(suppressInitial bool, fn func(context.Context, V)) observable.Disposable {
		return s.Subscribe(suppressInitial, fn)
	})
}

// SubscribeChange delivers only values that differ from the previously
// delivered one.
func SubscribeChange[V comparable](s *Store[V], fn func(ctx context.Context, c observable.Change[V])) observable.Disposable {
	return observable.SubscribeChange(s.Observe(), fn)
}

// Nesting reports how many updates and subscriptions are in progress on the
// calling goroutine for this store's tree. It is zero outside any update.
func (s *Store[V]) Nesting() int {
	return s.tree.nesting()
}

// top returns the innermost frame, or nil when the caller is outside any
// update or round of this store's tree.
func (s *Store[V]) top() *frame[V] {
	if !s.tree.heldByCaller() || len(s.stack) == 0 {
		return nil
	}
	return &s.stack[len(s.stack)-1]
}

func (s *Store[V]) push(v *V, body bool) {
	s.stack = append(s.stack, frame[V]{v: v, body: body})
}

func (s *Store[V]) pop() {
	s.stack[len(s.stack)-1] = frame[V]{}
	s.stack = s.stack[:len(s.stack)-1]
}

// publish runs one notification round for v: children first, then user
// subscribers. Value reports v for the duration of the round.
func (s *Store[V]) publish(ctx context.Context, v V) {
	s.push(&v, false)
	defer s.pop()

	s.internal.Notify(ctx, v)
	s.external.Notify(ctx, v)
}

// rootSource owns the value of a root store.
type rootSource[V any] struct {
	store *Store[V]
	box   *mutexbox.Box[V]
}

func (r *rootSource[V]) value() V {
	return r.box.Get()
}

func (r *rootSource[V]) update(ctx context.Context, body func(*V)) {
	s := r.store
	t := s.tree
	t.enter()
	defer t.leave()

	if top := s.top(); top != nil && top.body {
		body(top.v)
		return
	}

	ctx, end := t.startCommit(ctx)
	defer func() {
		if p := recover(); p != nil {
			end(fmt.Errorf("update panicked: %v", p))
			panic(p)
		}
		end(nil)
	}()

	working := r.box.Get()
	func() {
		s.push(&working, true)
		defer s.pop()
		body(&working)
	}()

	r.box.Write(func(v *V) { *v = working })
	t.logger.Debug("commit", slog.Int("depth", t.depth), slog.Bool("nested", t.delivering))

	t.deliver(func() { s.publish(ctx, working) })
}
