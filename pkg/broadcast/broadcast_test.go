package broadcast

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/vstore/pkg/dispatch"
)

type ctxKey struct{}

func collect[T any](mu *sync.Mutex, dst *[]T) Func[T] {
	return func(_ context.Context, v T) {
		mu.Lock()
		*dst = append(*dst, v)
		mu.Unlock()
	}
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	b := New[int]()

	var mu sync.Mutex
	var got []int
	sub := b.Subscribe(false, collect(&mu, &got))
	defer sub.Dispose()

	b.Notify(context.Background(), 1)
	b.Notify(context.Background(), 2)
	b.Notify(context.Background(), 3)

	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 1, b.Len())
}

func TestLateSubscriberGetsLastValue(t *testing.T) {
	b := New[string]()
	b.Notify(context.Background(), "a")
	b.Notify(context.Background(), "b")

	var got []string
	var mu sync.Mutex
	b.Subscribe(false, collect(&mu, &got))
	assert.Equal(t, []string{"b"}, got, "initial value delivered before Subscribe returns")

	var suppressed []string
	b.Subscribe(true, collect(&mu, &suppressed))
	assert.Empty(t, suppressed)

	last, ok := b.Last()
	assert.True(t, ok)
	assert.Equal(t, "b", last)
}

func TestWithInitialSeedsCache(t *testing.T) {
	b := New(WithInitial(10))

	var got []int
	var mu sync.Mutex
	b.Subscribe(false, collect(&mu, &got))
	b.Notify(context.Background(), 11)
	assert.Equal(t, []int{10, 11}, got)
}

func TestNoInitialWithoutValue(t *testing.T) {
	b := New[int]()
	_, ok := b.Last()
	assert.False(t, ok)

	called := false
	b.Subscribe(false, func(context.Context, int) { called = true })
	assert.False(t, called)
}

func TestContextIsThreadedThrough(t *testing.T) {
	b := New[int]()

	var seen any
	b.Subscribe(true, func(ctx context.Context, _ int) {
		seen = ctx.Value(ctxKey{})
	})

	ctx := context.WithValue(context.Background(), ctxKey{}, "tx-1")
	b.Notify(ctx, 1)
	assert.Equal(t, "tx-1", seen)
}

func TestDisposeIsIdempotent(t *testing.T) {
	b := New[int]()

	var count atomic.Int32
	sub := b.Subscribe(true, func(context.Context, int) { count.Add(1) })
	other := b.Subscribe(true, func(context.Context, int) {})
	defer other.Dispose()

	b.Notify(context.Background(), 1)
	sub.Dispose()
	sub.Dispose()
	b.Notify(context.Background(), 2)

	assert.Equal(t, int32(1), count.Load())
	assert.Equal(t, 1, b.Len(), "double dispose must not remove other subscriptions")

	var nilSub *Subscription
	assert.NotPanics(t, nilSub.Dispose)
}

func TestDisposeFromInsideCallback(t *testing.T) {
	b := New[int]()

	var got []int
	var sub *Subscription
	sub = b.Subscribe(true, func(_ context.Context, v int) {
		got = append(got, v)
		sub.Dispose()
	})

	b.Notify(context.Background(), 1)
	b.Notify(context.Background(), 2)
	assert.Equal(t, []int{1}, got)
	assert.Zero(t, b.Len())
}

func TestDisposeDuringNotifySkipsLaterSubscribers(t *testing.T) {
	b := New[int]()

	var second *Subscription
	var secondCalls atomic.Int32
	b.Subscribe(true, func(context.Context, int) {
		second.Dispose()
	})
	second = b.Subscribe(true, func(context.Context, int) {
		secondCalls.Add(1)
	})

	// Map order is random, so the second callback runs at most once.
	b.Notify(context.Background(), 1)
	b.Notify(context.Background(), 2)
	assert.LessOrEqual(t, secondCalls.Load(), int32(1))
}

func TestSubscribeFromInsideCallback(t *testing.T) {
	b := New[int]()

	var inner []int
	var mu sync.Mutex
	once := sync.Once{}
	b.Subscribe(true, func(context.Context, int) {
		once.Do(func() {
			b.Subscribe(false, collect(&mu, &inner))
		})
	})

	b.Notify(context.Background(), 1)
	b.Notify(context.Background(), 2)
	assert.Equal(t, []int{1, 2}, inner)
}

func TestRedirectedDelivery(t *testing.T) {
	q := dispatch.NewSerial()
	defer q.Close()

	b := New[int]()
	var mu sync.Mutex
	var got []int
	b.Subscribe(true, collect(&mu, &got), OnQueue(q))

	for i := 1; i <= 50; i++ {
		b.Notify(context.Background(), i)
	}
	q.Sync(func() {})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i+1, v)
	}
}

func TestRedirectedDeliveryOnConcurrentQueue(t *testing.T) {
	q := dispatch.NewConcurrent()
	defer q.Close()

	b := New[int]()
	var (
		mu      sync.Mutex
		got     []int
		running atomic.Int32
		overlap atomic.Bool
	)
	b.Subscribe(true, func(_ context.Context, v int) {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		defer running.Add(-1)

		time.Sleep(time.Duration(v%5) * 100 * time.Microsecond)
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	}, OnQueue(q))

	for i := 1; i <= 100; i++ {
		b.Notify(context.Background(), i)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 100
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i+1, v)
	}
	assert.False(t, overlap.Load())
}

// recoverQueue runs work inline and swallows panics.
type recoverQueue struct{}

func (recoverQueue) Async(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

func (q recoverQueue) Sync(fn func()) { q.Async(fn) }

func TestRedirectedPanicKeepsDraining(t *testing.T) {
	b := New[int]()

	var mu sync.Mutex
	var got []int
	b.Subscribe(true, func(ctx context.Context, v int) {
		if v == 1 {
			b.Notify(ctx, 2)
			panic("subscriber failed")
		}
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	}, OnQueue(recoverQueue{}))

	b.Notify(context.Background(), 1)
	b.Notify(context.Background(), 3)

	assert.Equal(t, []int{2, 3}, got)
}

func TestRedirectedInitialIsScheduled(t *testing.T) {
	q := dispatch.NewSerial()
	defer q.Close()

	release := make(chan struct{})
	q.Async(func() { <-release })

	b := New(WithInitial(7))
	var mu sync.Mutex
	var got []int
	b.Subscribe(false, collect(&mu, &got), OnQueue(q))

	mu.Lock()
	assert.Empty(t, got)
	mu.Unlock()

	b.Notify(context.Background(), 8)
	close(release)
	q.Sync(func() {})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{7, 8}, got)
}

func TestConcurrentNotifyIsMonotonicPerSubscriber(t *testing.T) {
	b := New[int]()

	var mu sync.Mutex
	var got []int
	b.Subscribe(true, collect(&mu, &got))

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				b.Notify(context.Background(), w*1000+i)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, got)
	last, _ := b.Last()
	assert.Contains(t, got, last)
}

func TestRetainKeepsOwner(t *testing.T) {
	b := New[int]()
	owner := &struct{ name string }{"store"}
	sub := b.Subscribe(true, func(context.Context, int) {}).Retain(owner)
	assert.Same(t, owner, sub.owner)
	sub.Dispose()
	assert.Nil(t, sub.owner)
	assert.NotZero(t, sub.ID())
}

func BenchmarkNotify(b *testing.B) {
	for _, n := range []int{1, 10, 100} {
		bc := New[int]()
		for range n {
			bc.Subscribe(true, func(context.Context, int) {})
		}
		b.Run("subs="+strconv.Itoa(n), func(b *testing.B) {
			ctx := context.Background()
			for i := 0; i < b.N; i++ {
				bc.Notify(ctx, i)
			}
		})
	}
}
