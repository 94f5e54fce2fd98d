package stream

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of concurrent streaming sessions process-wide.
// Admission is a hard gate, not a wait queue: a caller that cannot get a slot
// fails fast so tail latency stays bounded.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns a gate admitting at most limit concurrent sessions.
func NewGate(limit int) *Gate {
	return &Gate{sem: semaphore.NewWeighted(int64(limit))}
}

// TryAcquire claims one session slot without waiting. It reports false when
// the ceiling is reached.
func (g *Gate) TryAcquire() (*Slot, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	return &Slot{gate: g}, true
}

// Slot is one unit of the global session budget.
type Slot struct {
	gate *Gate
	once sync.Once
}

// Release returns the slot to the gate. It is idempotent and must be called
// on every session exit path.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.gate.sem.Release(1)
	})
}
