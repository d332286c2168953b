package store

import "context"

// Lens focuses on a part U of a whole P.
type Lens[P, U any] struct {
	Get func(P) U
	Set func(*P, U)
}

// Field builds a lens from a getter and a setter.
func Field[P, U any](get func(P) U, set func(*P, U)) Lens[P, U] {
	return Lens[P, U]{Get: get, Set: set}
}

// Compose focuses outer, then inner.
func Compose[A, B, C any](outer Lens[A, B], inner Lens[B, C]) Lens[A, C] {
	return Lens[A, C]{
		Get: func(a A) C {
			return inner.Get(outer.Get(a))
		},
		Set: func(a *A, c C) {
			b := outer.Get(*a)
			inner.Set(&b, c)
			outer.Set(a, b)
		},
	}
}

// SetField commits v into the part of s's value that l focuses on.
func SetField[V, F any](ctx context.Context, s *Store[V], l Lens[V, F], v F) {
	s.Update(ctx, func(p *V) { l.Set(p, v) })
}

// Pair is a two-field aggregate, handy for stores holding two independent
// values that are scoped separately.
type Pair[A, B any] struct {
	First  A
	Second B
}

// PairOf builds a Pair.
func PairOf[A, B any](a A, b B) Pair[A, B] {
	return Pair[A, B]{First: a, Second: b}
}

// FirstLens focuses on a pair's first element.
func FirstLens[A, B any]() Lens[Pair[A, B], A] {
	return Lens[Pair[A, B], A]{
		Get: func(p Pair[A, B]) A { return p.First },
		Set: func(p *Pair[A, B], a A) { p.First = a },
	}
}

// SecondLens focuses on a pair's second element.
func SecondLens[A, B any]() Lens[Pair[A, B], B] {
	return Lens[Pair[A, B], B]{
		Get: func(p Pair[A, B]) B { return p.Second },
		Set: func(p *Pair[A, B], b B) { p.Second = b },
	}
}
