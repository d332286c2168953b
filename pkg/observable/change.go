package observable

import (
	"context"
	"sync"
)

// Change is one observed transition. For the first delivery of a
// subscription Initial is true and Old is the zero value.
type Change[V any] struct {
	Old     V
	New     V
	Initial bool
}

// Changes pairs every value from obs with the previous one and drops
// values equal to their predecessor.
//
// The combinator always subscribes to obs with the initial value so it has
// a baseline; suppressInitial only controls whether that baseline is
// delivered.
func Changes[V any](obs Observable[V], equal func(a, b V) bool) Observable[Change[V]] {
	return Func[Change[V]](func(suppressInitial bool, fn func(context.Context, Change[V])) Disposable {
		var (
			mu      sync.Mutex
			prev    V
			hasPrev bool
		)
		return obs.Subscribe(false, func(ctx context.Context, v V) {
			mu.Lock()
			if hasPrev && equal(prev, v) {
				mu.Unlock()
				return
			}
			c := Change[V]{Old: prev, New: v, Initial: !hasPrev}
			prev, hasPrev = v, true
			mu.Unlock()

			if c.Initial && suppressInitial {
				return
			}
			fn(ctx, c)
		})
	})
}

// SubscribeChange subscribes to the distinct transitions of obs, including
// the initial value.
func SubscribeChange[V comparable](obs Observable[V], fn func(ctx context.Context, c Change[V])) Disposable {
	return Changes(obs, func(a, b V) bool { return a == b }).Subscribe(false, fn)
}
