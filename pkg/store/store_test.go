package store

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/vstore/pkg/dispatch"
	"github.com/vango-dev/vstore/pkg/mutexbox"
	"github.com/vango-dev/vstore/pkg/observable"
)

// recorder collects deliveries from any goroutine.
type recorder[V any] struct {
	mu  sync.Mutex
	got []V
}

func (r *recorder[V]) fn(_ context.Context, v V) {
	r.mu.Lock()
	r.got = append(r.got, v)
	r.mu.Unlock()
}

func (r *recorder[V]) values() []V {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]V(nil), r.got...)
}

func TestSubscriberSeesCommitsInOrder(t *testing.T) {
	for _, strategy := range mutexbox.Strategies() {
		t.Run(strategy.String(), func(t *testing.T) {
			s := New(0, WithStrategy(strategy))

			var log recorder[int]
			sub := s.Subscribe(false, log.fn)
			defer sub.Dispose()

			s.Set(1)
			s.Set(2)

			assert.Equal(t, []int{0, 1, 2}, log.values())
			assert.Equal(t, 2, s.Value())
		})
	}
}

func TestSuppressInitial(t *testing.T) {
	s := New("a")

	var log recorder[string]
	defer s.Subscribe(true, log.fn).Dispose()

	s.Set("b")
	assert.Equal(t, []string{"b"}, log.values())
}

func TestUpdateAlwaysNotifies(t *testing.T) {
	s := New(7)

	var log recorder[int]
	defer s.Subscribe(true, log.fn).Dispose()

	s.Set(7)
	s.Update(context.Background(), func(*int) {})
	assert.Equal(t, []int{7, 7}, log.values())
}

func TestUpdateReadsOwnWrites(t *testing.T) {
	s := New(1)

	s.Update(context.Background(), func(v *int) {
		*v = 10
		assert.Equal(t, 10, s.Value())
		*v = 20
		assert.Equal(t, 20, s.Value())
	})
	assert.Equal(t, 20, s.Value())
}

func TestRecursiveUpdateOrdering(t *testing.T) {
	const last = 5
	s := New(0)

	var (
		first  recorder[int]
		second recorder[int]
		seen   []int
	)

	defer s.Subscribe(true, func(ctx context.Context, n int) {
		first.fn(ctx, n)
		seen = append(seen, s.Value())
		if n < last {
			s.Update(ctx, func(v *int) { *v = n + 1 })
			// The nested commit is queued behind this round.
			seen = append(seen, s.Value())
		}
	}).Dispose()

	defer s.Subscribe(false, func(ctx context.Context, n int) {
		second.fn(ctx, n)
		assert.Equal(t, n, s.Value(), "value inside a round is the delivered value")
	}).Dispose()

	s.Set(1)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, first.values())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, second.values())
	assert.Equal(t, []int{1, 1, 2, 2, 3, 3, 4, 4, 5}, seen)
	assert.Equal(t, last, s.Value())
	assert.Zero(t, s.Nesting())
}

func TestCommitVisibleOutsideRound(t *testing.T) {
	s := New(0)
	var fromOtherGoroutine int

	defer s.Subscribe(true, func(ctx context.Context, n int) {
		if n == 1 {
			s.Update(ctx, func(v *int) { *v = 2 })
			done := make(chan struct{})
			go func() {
				defer close(done)
				fromOtherGoroutine = s.Value()
			}()
			<-done
		}
	}).Dispose()

	s.Set(1)
	assert.Equal(t, 2, fromOtherGoroutine, "other goroutines read the latest commit")
}

func TestNestedUpdateInBodyCommitsOnce(t *testing.T) {
	s := New(0)

	var log recorder[int]
	defer s.Subscribe(true, log.fn).Dispose()

	s.Update(context.Background(), func(v *int) {
		*v = 1
		s.Update(context.Background(), func(v *int) { *v += 10 })
		assert.Equal(t, 11, s.Value())
	})

	assert.Equal(t, []int{11}, log.values())
	assert.Equal(t, 11, s.Value())
}

func TestPanickingBodyDoesNotCommit(t *testing.T) {
	s := New(1)

	var log recorder[int]
	defer s.Subscribe(true, log.fn).Dispose()

	assert.Panics(t, func() {
		s.Update(context.Background(), func(v *int) {
			*v = 99
			panic("boom")
		})
	})
	assert.Equal(t, 1, s.Value())
	assert.Zero(t, s.Nesting())

	s.Set(2)
	assert.Equal(t, []int{2}, log.values())
}

func TestPanickingSubscriberReleasesGate(t *testing.T) {
	s := New(0)
	sub := s.Subscribe(true, func(_ context.Context, n int) {
		if n == 1 {
			panic("subscriber failed")
		}
	})

	assert.Panics(t, func() { s.Set(1) })
	assert.Equal(t, 1, s.Value(), "the commit itself stands")

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.Dispose()
		s.Set(2)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("gate was not released")
	}
	assert.Equal(t, 2, s.Value())
}

func TestConcurrentUpdates(t *testing.T) {
	const (
		writers   = 8
		perWriter = 200
	)
	s := New(0)

	var (
		mu        sync.Mutex
		delivered []int
	)
	defer s.Subscribe(true, func(_ context.Context, n int) {
		mu.Lock()
		delivered = append(delivered, n)
		mu.Unlock()
	}).Dispose()

	var g errgroup.Group
	for range writers {
		g.Go(func() error {
			for range perWriter {
				s.Update(context.Background(), func(v *int) { *v++ })
				_ = s.Value()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, writers*perWriter, s.Value())
	require.Len(t, delivered, writers*perWriter)
	for i, n := range delivered {
		assert.Equal(t, i+1, n, "commit order")
	}
}

func TestDisposeTwice(t *testing.T) {
	s := New(0)

	var log recorder[int]
	sub := s.Subscribe(true, log.fn)
	sub.Dispose()
	assert.NotPanics(t, sub.Dispose)

	s.Set(1)
	assert.Empty(t, log.values())
}

func TestDisposeFromOwnCallback(t *testing.T) {
	s := New(0)

	var log recorder[int]
	var sub interface{ Dispose() }
	sub = s.Subscribe(true, func(ctx context.Context, n int) {
		log.fn(ctx, n)
		sub.Dispose()
	})

	s.Set(1)
	s.Set(2)
	assert.Equal(t, []int{1}, log.values())
}

func TestSubscribeFromCallback(t *testing.T) {
	s := New(0)

	var late recorder[int]
	var once sync.Once
	defer s.Subscribe(true, func(context.Context, int) {
		once.Do(func() {
			s.Subscribe(false, late.fn)
		})
	}).Dispose()

	s.Set(1)
	s.Set(2)
	assert.Equal(t, []int{1, 2}, late.values())
}

func TestSubscribeOn(t *testing.T) {
	q := dispatch.NewSerial()
	defer q.Close()

	s := New(0)
	var log recorder[int]
	sub := s.SubscribeOn(q, false, log.fn)

	for i := 1; i <= 50; i++ {
		s.Set(i)
	}
	q.Sync(func() {})

	got := log.values()
	require.Len(t, got, 51)
	for i, n := range got {
		assert.Equal(t, i, n)
	}

	sub.Dispose()
	s.Set(100)
	q.Sync(func() {})
	assert.NotContains(t, log.values(), 100)
}

func TestSubscribeOnConcurrentQueue(t *testing.T) {
	q := dispatch.NewConcurrent()
	defer q.Close()

	s := New(0)
	var log recorder[int]
	defer s.SubscribeOn(q, false, func(ctx context.Context, n int) {
		time.Sleep(time.Duration(n%7) * 50 * time.Microsecond)
		log.fn(ctx, n)
	}).Dispose()

	for i := 1; i <= 200; i++ {
		s.Set(i)
	}

	require.Eventually(t, func() bool {
		return len(log.values()) == 201
	}, 5*time.Second, time.Millisecond)
	for i, n := range log.values() {
		assert.Equal(t, i, n)
	}
}

func TestSubscribeOnInitialIsAsync(t *testing.T) {
	q := dispatch.NewSerial()
	defer q.Close()

	release := make(chan struct{})
	q.Async(func() { <-release })

	s := New(3)
	var log recorder[int]
	defer s.SubscribeOn(q, false, log.fn).Dispose()
	assert.Empty(t, log.values())

	close(release)
	q.Sync(func() {})
	assert.Equal(t, []int{3}, log.values())
}

func TestSubscriberOnStoreQueueReadsValue(t *testing.T) {
	q := dispatch.NewSerial()
	defer q.Close()

	s := New(0, WithStrategy(mutexbox.SerialQueue), WithQueue(q))

	var log recorder[int]
	defer s.SubscribeOn(q, true, func(ctx context.Context, _ int) {
		log.fn(ctx, s.Value())
	}).Dispose()

	s.Set(1)
	done := make(chan struct{})
	go func() {
		q.Sync(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber on the store's queue deadlocked")
	}
	assert.Equal(t, []int{1}, log.values())
}

func TestSubscribeChange(t *testing.T) {
	s := New(1)

	var log recorder[observable.Change[int]]
	defer SubscribeChange(s, log.fn).Dispose()

	for _, v := range []int{1, 2, 2, 3} {
		s.Set(v)
	}
	assert.Equal(t, []observable.Change[int]{
		{New: 1, Initial: true},
		{Old: 1, New: 2},
		{Old: 2, New: 3},
	}, log.values())
}

func TestObserveInterchangeable(t *testing.T) {
	s := New(3)
	doubled := observable.Map(s.Observe(), func(n int) int { return n * 2 })

	var log recorder[int]
	defer doubled.Subscribe(false, log.fn).Dispose()

	s.Set(4)
	assert.Equal(t, []int{6, 8}, log.values())
}

func TestContextReachesSubscribers(t *testing.T) {
	type key struct{}
	s := New(0)

	var got any
	defer s.Subscribe(true, func(ctx context.Context, _ int) {
		got = ctx.Value(key{})
	}).Dispose()

	s.SetContext(context.WithValue(context.Background(), key{}, "req-1"), 1)
	assert.Equal(t, "req-1", got)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	s := New(0, WithName("counter"), WithMetrics(m))

	defer s.Subscribe(true, func(ctx context.Context, n int) {
		if n == 1 {
			s.Update(ctx, func(v *int) { *v = 2 })
		}
	}).Dispose()

	s.Set(1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commits.WithLabelValues("counter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nestedCommits.WithLabelValues("counter")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rounds.WithLabelValues("counter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.subscriptions.WithLabelValues("counter")))

	count, err := testutil.GatherAndCount(reg, "vstore_commit_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTracing(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	s := New(0, WithName("traced"), WithTracer(tp.Tracer("test")))
	s.Set(1)
	assert.Panics(t, func() {
		s.Update(context.Background(), func(*int) { panic("boom") })
	})

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "vstore.update", spans[0].Name())
	assert.Equal(t, "Unset", spans[0].Status().Code.String())
	assert.Equal(t, "Error", spans[1].Status().Code.String())
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	s := New(0, WithName("logged"), WithLogger(logger))
	s.Set(1)

	out := buf.String()
	assert.Contains(t, out, "store created")
	assert.Contains(t, out, "msg=commit")
	assert.Contains(t, out, "store=logged")
}

func TestDefaultName(t *testing.T) {
	a, b := New(0), New(0)
	assert.Regexp(t, `^store-[0-9a-f]{8}$`, a.Name())
	assert.NotEqual(t, a.Name(), b.Name())
}
