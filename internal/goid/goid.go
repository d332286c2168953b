// Package goid reports the identity of the calling goroutine.
//
// Stores use it to tell whether a read or a nested update comes from the
// goroutine that is currently committing, which is how read-your-own-write
// works during recursive notification. Boxes use it for debug-only
// reentrancy checks.
package goid

import "runtime"

// Get returns a unique identifier for the current goroutine.
// This uses the runtime stack to extract the goroutine ID.
func Get() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	// The stack starts with "goroutine <id> "
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
