package observable

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/vstore/pkg/broadcast"
	"github.com/vango-dev/vstore/pkg/dispatch"
)

func record[V any]() (func(context.Context, V), func() []V) {
	var mu sync.Mutex
	var got []V
	return func(_ context.Context, v V) {
			mu.Lock()
			got = append(got, v)
			mu.Unlock()
		}, func() []V {
			mu.Lock()
			defer mu.Unlock()
			return append([]V(nil), got...)
		}
}

func TestJust(t *testing.T) {
	fn, got := record[string]()
	d := Just("hello").Subscribe(false, fn)
	d.Dispose()
	assert.Equal(t, []string{"hello"}, got())

	fn2, got2 := record[string]()
	Just("hello").Subscribe(true, fn2)
	assert.Empty(t, got2())
}

func TestFromBroadcaster(t *testing.T) {
	b := broadcast.New(broadcast.WithInitial(1))
	obs := FromBroadcaster(b)

	fn, got := record[int]()
	d := obs.Subscribe(false, fn)
	b.Notify(context.Background(), 2)
	d.Dispose()
	b.Notify(context.Background(), 3)

	assert.Equal(t, []int{1, 2}, got())
}

func TestInterchangeableSources(t *testing.T) {
	b := broadcast.New(broadcast.WithInitial(7))
	sources := map[string]Observable[int]{
		"just":        Just(7),
		"broadcaster": FromBroadcaster(b),
	}
	for name, obs := range sources {
		t.Run(name, func(t *testing.T) {
			doubled := Map(obs, func(v int) int { return v * 2 })
			fn, got := record[int]()
			doubled.Subscribe(false, fn).Dispose()
			assert.Equal(t, []int{14}, got())
		})
	}
}

func TestMapAndFilter(t *testing.T) {
	b := broadcast.New[int]()
	evens := Filter(FromBroadcaster(b), func(v int) bool { return v%2 == 0 })
	labels := Map(evens, func(v int) string { return string(rune('a' + v)) })

	fn, got := record[string]()
	defer labels.Subscribe(true, fn).Dispose()

	for i := range 6 {
		b.Notify(context.Background(), i)
	}
	assert.Equal(t, []string{"a", "c", "e"}, got())
}

func TestOnRedirectsDelivery(t *testing.T) {
	q := dispatch.NewSerial()
	defer q.Close()

	b := broadcast.New[int]()
	fn, got := record[int]()
	d := On(FromBroadcaster(b), q).Subscribe(true, fn)

	for i := range 20 {
		b.Notify(context.Background(), i)
	}
	q.Sync(func() {})
	require.Len(t, got(), 20)

	d.Dispose()
	b.Notify(context.Background(), 99)
	q.Sync(func() {})
	assert.NotContains(t, got(), 99)
}

func TestChangesSuppressesDuplicates(t *testing.T) {
	b := broadcast.New(broadcast.WithInitial(1))

	fn, got := record[Change[int]]()
	defer SubscribeChange(FromBroadcaster(b), fn).Dispose()

	for _, v := range []int{1, 2, 2, 3, 3, 3, 1} {
		b.Notify(context.Background(), v)
	}

	assert.Equal(t, []Change[int]{
		{Old: 0, New: 1, Initial: true},
		{Old: 1, New: 2},
		{Old: 2, New: 3},
		{Old: 3, New: 1},
	}, got())
}

func TestChangesSuppressInitialKeepsBaseline(t *testing.T) {
	b := broadcast.New(broadcast.WithInitial("a"))
	changes := Changes(FromBroadcaster(b), func(x, y string) bool { return x == y })

	fn, got := record[Change[string]]()
	defer changes.Subscribe(true, fn).Dispose()

	b.Notify(context.Background(), "a")
	b.Notify(context.Background(), "b")
	assert.Equal(t, []Change[string]{{Old: "a", New: "b"}}, got())
}

func TestChanStreamsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broadcast.New(broadcast.WithInitial(0))
	ch := Chan(ctx, FromBroadcaster(b), 0)

	// Publishing never blocks on the reader.
	for i := 1; i <= 100; i++ {
		b.Notify(context.Background(), i)
	}
	for want := 0; want <= 100; want++ {
		select {
		case v := <-ch:
			require.Equal(t, want, v)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %d", want)
		}
	}

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, time.Millisecond)
}

func TestChanCarriesNilInterfaces(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := broadcast.New[error]()
	ch := Chan(ctx, FromBroadcaster(b), 1)
	b.Notify(context.Background(), nil)
	b.Notify(context.Background(), errors.New("x"))

	assert.NoError(t, <-ch)
	assert.EqualError(t, <-ch, "x")
}

func TestSeqPullsUntilBreak(t *testing.T) {
	b := broadcast.New(broadcast.WithInitial(0))

	go func() {
		for i := 1; i <= 10; i++ {
			time.Sleep(time.Millisecond)
			b.Notify(context.Background(), i)
		}
	}()

	var got []int
	for v := range Seq(context.Background(), FromBroadcaster(b)) {
		got = append(got, v)
		if v >= 3 {
			break
		}
	}
	require.NotEmpty(t, got)
	assert.GreaterOrEqual(t, got[len(got)-1], 3)
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i], got[i-1])
	}
	assert.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, time.Millisecond)
}

func TestSeqEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	count := 0
	for range Seq(ctx, Just(1)) {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestBag(t *testing.T) {
	var bag Bag
	calls := 0
	bag.Add(DisposeFunc(func() { calls++ }))
	bag.Add(DisposeFunc(func() { calls++ }))
	bag.Dispose()
	assert.Equal(t, 2, calls)

	bag.Add(DisposeFunc(func() { calls++ }))
	assert.Equal(t, 3, calls, "late additions are disposed immediately")

	bag.Dispose()
	assert.Equal(t, 3, calls)
}

func TestDisposeFuncOnce(t *testing.T) {
	calls := 0
	d := DisposeFunc(func() { calls++ })
	d.Dispose()
	d.Dispose()
	assert.Equal(t, 1, calls)
	assert.NotPanics(t, Nop.Dispose)
}
