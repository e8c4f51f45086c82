// Package replay implements the per-agent bounded transition memory used
// for off-policy updates, grounded on backend/app/buffer.py's deque-based
// ReplayBuffer. Uses a fixed-capacity slice rather than a generic container
// library, a concrete transition shape being the only shape this module
// ever stores.
package replay

import (
	"fmt"
	"math/rand"
)

// Transition is one (o, a, r, o', d) step recorded for a single agent.
type Transition struct {
	Obs     []float64
	Action  []float64
	Reward  float64
	NextObs []float64
	Done    float64
}

// Buffer is a bounded FIFO of Transitions, oldest-dropping on overflow.
// It is not safe for concurrent use by multiple goroutines without
// external synchronization; each agent owns exactly one Buffer (spec.md
// ownership rule), so none is needed in the training loop itself.
type Buffer struct {
	capacity int
	data     []Transition
	start    int // index of the oldest element
}

// New returns an empty Buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("replay: capacity must be positive")
	}
	return &Buffer{capacity: capacity}
}

// Push appends t, dropping the oldest transition if the buffer is full.
func (b *Buffer) Push(t Transition) {
	if len(b.data) < b.capacity {
		b.data = append(b.data, t)
		return
	}
	b.data[b.start] = t
	b.start = (b.start + 1) % b.capacity
}

// Size reports the current number of stored transitions.
func (b *Buffer) Size() int {
	return len(b.data)
}

// ErrUnderfilled is returned by Sample when fewer than n transitions are
// stored.
type ErrUnderfilled struct {
	Requested, Available int
}

func (e *ErrUnderfilled) Error() string {
	return fmt.Sprintf("replay: requested %d transitions, only %d available", e.Requested, e.Available)
}

// Sample draws n transitions uniformly without replacement. The returned
// slice order carries no meaning; callers should not rely on it matching
// insertion order.
func (b *Buffer) Sample(n int, rng *rand.Rand) ([]Transition, error) {
	if n > len(b.data) {
		return nil, &ErrUnderfilled{Requested: n, Available: len(b.data)}
	}

	indices := rng.Perm(len(b.data))[:n]
	out := make([]Transition, n)
	for i, idx := range indices {
		out[i] = b.at(idx)
	}
	return out, nil
}

// at returns the i-th element in logical (insertion) order, accounting for
// the ring buffer's rotation once it has wrapped.
func (b *Buffer) at(i int) Transition {
	if len(b.data) < b.capacity {
		return b.data[i]
	}
	return b.data[(b.start+i)%b.capacity]
}
