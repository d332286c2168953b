package store

import (
	"context"
	"log/slog"
	"runtime"
	"weak"

	"github.com/vango-dev/vstore/internal/errors"
	"github.com/vango-dev/vstore/pkg/broadcast"
)

// Scope derives a store that views part of parent's value.
//
// transform projects the parent value; merge writes a projected value back
// into a parent value. Reading the scope always recomputes transform from
// the parent. Updating it runs as a parent update, so the scope's
// subscribers and the parent's are notified in the same round, the scope's
// first.
//
// The scope keeps its parent alive. The parent does not keep the scope
// alive: once the scope and its subscriptions are unreachable it is
// collected and stops receiving values.
func Scope[P, U any](parent *Store[P], transform func(P) U, merge func(*P, U)) *Store[U] {
	if parent == nil || transform == nil || merge == nil {
		panic(errors.New("E203"))
	}

	t := parent.tree
	t.enter()
	defer t.leave()

	initial := transform(parent.Value())
	child := &Store[U]{
		name:     parent.name + "/scope",
		tree:     t,
		internal: broadcast.New(broadcast.WithInitial(initial)),
		external: broadcast.New(broadcast.WithInitial(initial)),
	}
	child.src = &scopedSource[P, U]{
		parent:    parent,
		child:     child,
		transform: transform,
		merge:     merge,
	}

	ref := weak.Make(child)
	relay := parent.internal.Subscribe(true, func(ctx context.Context, v P) {
		if c := ref.Value(); c != nil {
			c.publish(ctx, transform(v))
		}
	})

	t.metrics.scopeCreated(t.name)
	runtime.AddCleanup(child, func(relay *broadcast.Subscription) {
		relay.Dispose()
		t.metrics.scopeCollected(t.name)
		t.logger.Debug("scope collected")
	}, relay)

	t.logger.Debug("scope created", slog.String("scope", child.name))
	return child
}

// ScopeLens derives a store focused through l.
func ScopeLens[P, U any](parent *Store[P], l Lens[P, U]) *Store[U] {
	return Scope(parent, l.Get, l.Set)
}

type scopedSource[P, U any] struct {
	parent    *Store[P]
	child     *Store[U]
	transform func(P) U
	merge     func(*P, U)
}

func (s *scopedSource[P, U]) value() U {
	return s.transform(s.parent.Value())
}

func (s *scopedSource[P, U]) update(ctx context.Context, body func(*U)) {
	t := s.child.tree
	t.enter()
	defer t.leave()

	// Inside one of this scope's own update bodies: write into that
	// working copy so the enclosing merge carries it.
	if top := s.child.top(); top != nil && top.body {
		body(top.v)
		return
	}

	s.parent.Update(ctx, func(p *P) {
		local := s.transform(*p)
		s.child.push(&local, true)
		defer s.child.pop()

		body(&local)
		s.merge(p, local)
	})
}
