// Package testutil provides in-memory collaborators for tests: a ledger with
// topics, a recording token ledger with failure injection, and a
// deterministic consensus clock.
package testutil

import (
	"sync"
	"time"
)

// Genesis is the consensus time of sequence number 0 on every topic.
var Genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// ConsensusClock orders the records of one topic. Each tick yields the next
// sequence number and a consensus timestamp one Step after the previous
// one, so a replayed scenario produces identical records.
//
// Thread-safety: ConsensusClock is safe for concurrent use.
type ConsensusClock struct {
	mu   sync.Mutex
	base time.Time
	step time.Duration
	seq  int64
}

// DefaultStep separates consecutive consensus timestamps.
const DefaultStep = time.Second

// NewConsensusClock returns a clock at sequence 0 anchored at base.
// A non-positive step falls back to DefaultStep.
func NewConsensusClock(base time.Time, step time.Duration) *ConsensusClock {
	if step <= 0 {
		step = DefaultStep
	}
	return &ConsensusClock{base: base.UTC(), step: step}
}

// Tick advances the clock and returns the new sequence number with its
// consensus time.
func (c *ConsensusClock) Tick() (int64, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq, c.at(c.seq)
}

// Seq returns the last sequence number handed out.
func (c *ConsensusClock) Seq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// At returns the consensus time of seq.
func (c *ConsensusClock) At(seq int64) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at(seq)
}

func (c *ConsensusClock) at(seq int64) time.Time {
	return c.base.Add(time.Duration(seq) * c.step)
}
