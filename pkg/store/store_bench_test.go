package store

import (
	"context"
	"testing"
)

// Benchmark tests for the store.
// Reference points:
// - Value() outside an update: one box read
// - Set() with no subscribers: gate + one box write + empty round
// - Scoped Set(): parent round plus one relay

func BenchmarkValue(b *testing.B) {
	s := New(42)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = s.Value()
	}
}

func BenchmarkSetNoSubscribers(b *testing.B) {
	s := New(0)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.Set(i)
	}
}

func BenchmarkSet10Subscribers(b *testing.B) {
	s := New(0)
	for range 10 {
		defer s.Subscribe(true, func(context.Context, int) {}).Dispose()
	}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s.Set(i)
	}
}

func BenchmarkScopedSet(b *testing.B) {
	parent := New(PairOf(0, ""))
	child := ScopeLens(parent, FirstLens[int, string]())
	defer child.Subscribe(true, func(context.Context, int) {}).Dispose()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		child.Set(i)
	}
}

func BenchmarkParallelUpdate(b *testing.B) {
	s := New(0)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.Update(context.Background(), func(v *int) { *v++ })
		}
	})
}
