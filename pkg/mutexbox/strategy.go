package mutexbox

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vango-dev/vstore/internal/errors"
	"github.com/vango-dev/vstore/pkg/dispatch"
)

// Strategy selects how a Box excludes concurrent access.
// All strategies behave the same; they differ in cost and in what kind of
// contention they handle well.
type Strategy uint8

const (
	// SpinLock is an exclusive, non-reentrant spin lock. Reads and writes
	// both take it exclusively. Best for very short critical sections.
	SpinLock Strategy = iota

	// RWLock allows any number of concurrent readers or one writer.
	RWLock

	// SerialQueue runs every access synchronously on a serial queue.
	SerialQueue

	// ConcurrentQueue runs reads concurrently on a concurrent queue and
	// runs writes as barriers.
	ConcurrentQueue
)

// String returns the config name of the strategy.
func (s Strategy) String() string {
	switch s {
	case SpinLock:
		return "spin"
	case RWLock:
		return "rwlock"
	case SerialQueue:
		return "serial"
	case ConcurrentQueue:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Strategies lists every strategy in declaration order.
func Strategies() []Strategy {
	return []Strategy{SpinLock, RWLock, SerialQueue, ConcurrentQueue}
}

// ParseStrategy maps a config name back to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "spin", "spinlock":
		return SpinLock, nil
	case "rwlock", "rw":
		return RWLock, nil
	case "serial", "serialqueue":
		return SerialQueue, nil
	case "concurrent", "concurrentqueue":
		return ConcurrentQueue, nil
	}
	return 0, errors.New("E204").
		WithDetailf("unknown strategy %q", name).
		WithSuggestion("Use one of: spin, rwlock, serial, concurrent")
}

// locker runs fn under the strategy's read or write exclusion.
type locker interface {
	read(fn func())
	write(fn func())
}

type spinLocker struct {
	state atomic.Bool
}

func (l *spinLocker) lock() {
	for !l.state.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinLocker) unlock() {
	l.state.Store(false)
}

func (l *spinLocker) read(fn func()) {
	l.write(fn)
}

func (l *spinLocker) write(fn func()) {
	l.lock()
	defer l.unlock()
	fn()
}

type rwLocker struct {
	mu sync.RWMutex
}

func (l *rwLocker) read(fn func()) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn()
}

func (l *rwLocker) write(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}

// queueLocker serializes everything through Sync. With a serial queue that
// is full exclusion.
type queueLocker struct {
	q dispatch.Queue
}

func (l queueLocker) read(fn func())  { l.q.Sync(fn) }
func (l queueLocker) write(fn func()) { l.q.Sync(fn) }

// barrierLocker lets reads overlap and turns writes into barriers.
type barrierLocker struct {
	q dispatch.BarrierQueue
}

func (l barrierLocker) read(fn func())  { l.q.Sync(fn) }
func (l barrierLocker) write(fn func()) { l.q.SyncBarrier(fn) }
