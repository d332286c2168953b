package broadcast

import (
	"sync"
	"sync/atomic"
)

// idCounter is the source of unique subscription IDs.
var idCounter uint64

func nextID() uint64 {
	return atomic.AddUint64(&idCounter, 1)
}

// Subscription is the disposable handle for one registered callback.
type Subscription struct {
	id      uint64
	once    sync.Once
	dispose func()

	// owner is kept reachable for as long as the subscription is.
	owner any
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Dispose removes the callback. It is idempotent, safe to call from any
// goroutine, and safe to call from inside the callback itself. A Notify
// that is already delivering may still invoke the callback once.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.dispose != nil {
			s.dispose()
		}
		s.owner = nil
	})
}

// Retain ties owner's lifetime to the subscription: owner stays reachable
// until the subscription is disposed or itself becomes unreachable.
func (s *Subscription) Retain(owner any) *Subscription {
	s.owner = owner
	return s
}
