package store

// Unwrapped derives a non-optional view of a store holding an optional
// value. Reads yield def while the parent is nil. A write while the parent
// is nil is dropped unless mergeIntoNil is set, in which case it makes the
// parent non-nil.
//
// Writes always store a fresh pointer; the pointee seen by earlier readers
// is never modified.
func Unwrapped[T any](parent *Store[*T], def T, mergeIntoNil bool) *Store[T] {
	return Scope(parent,
		func(p *T) T {
			if p == nil {
				return def
			}
			return *p
		},
		func(p **T, v T) {
			if *p == nil && !mergeIntoNil {
				return
			}
			*p = &v
		},
	)
}

// Optional derives an optional view of a store. Reads yield a pointer to a
// copy of the parent value. Writing a non-nil pointer stores its pointee in
// the parent. Writing nil resets the parent to fallback when mergeIntoNil
// is set and is dropped otherwise.
func Optional[T any](parent *Store[T], fallback T, mergeIntoNil bool) *Store[*T] {
	return Scope(parent,
		func(v T) *T {
			return &v
		},
		func(p *T, v *T) {
			switch {
			case v != nil:
				*p = *v
			case mergeIntoNil:
				*p = fallback
			}
		},
	)
}
