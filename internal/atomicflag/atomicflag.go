// Package atomicflag provides a lock-free boolean flag shared between the
// training loop goroutine and the HTTP handlers that observe or set it.
//
// This replaces the teacher's AtomicFloat64/CAS dance (adapted in this
// module as internal/atomicfloat) with sync/atomic's native Bool, which didn't exist
// when that code was written. The requirement is the same: readers must
// never see a stale, non-memory-synchronized copy of the flag.
package atomicflag

import "sync/atomic"

// Flag is a concurrency-safe boolean. The zero value is unset.
type Flag struct {
	val atomic.Bool
}

// New returns a Flag initialized to val.
func New(val bool) *Flag {
	f := &Flag{}
	f.val.Store(val)
	return f
}

// Set stores val.
func (f *Flag) Set(val bool) {
	f.val.Store(val)
}

// IsSet reports the current value.
func (f *Flag) IsSet() bool {
	return f.val.Load()
}
