package observable

import (
	"context"
	"iter"
	"sync"

	"github.com/eapache/queue"
)

// pump decouples a subscription callback from a slow consumer. The
// callback only appends to an unbounded FIFO, so a commit never waits on
// the reader.
type pump[V any] struct {
	mu     sync.Mutex
	items  *queue.Queue
	signal chan struct{}
}

// box keeps nil interface values assertable after a round trip through
// the untyped queue.
type box[V any] struct{ v V }

func newPump[V any]() *pump[V] {
	return &pump[V]{
		items:  queue.New(),
		signal: make(chan struct{}, 1),
	}
}

func (p *pump[V]) push(v V) {
	p.mu.Lock()
	p.items.Add(box[V]{v})
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *pump[V]) pop() (V, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.items.Length() == 0 {
		var zero V
		return zero, false
	}
	return p.items.Remove().(box[V]).v, true
}

// Chan converts obs into a push-style stream. The channel receives the
// current value (if any) followed by every later delivery, in order, and is
// closed once ctx is done. Values are buffered without bound between the
// subscription and the channel; buffer sets the channel's own capacity.
func Chan[V any](ctx context.Context, obs Observable[V], buffer int) <-chan V {
	out := make(chan V, max(buffer, 0))
	p := newPump[V]()
	sub := obs.Subscribe(false, func(_ context.Context, v V) {
		p.push(v)
	})

	go func() {
		defer close(out)
		defer sub.Dispose()
		for {
			v, ok := p.pop()
			if !ok {
				select {
				case <-p.signal:
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Seq converts obs into a pull-style sequence. Each range over the result
// subscribes afresh, blocks waiting for the next value, and ends when ctx is
// done or the loop body stops early.
func Seq[V any](ctx context.Context, obs Observable[V]) iter.Seq[V] {
	return func(yield func(V) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		for v := range Chan(ctx, obs, 0) {
			if !yield(v) {
				return
			}
		}
	}
}
