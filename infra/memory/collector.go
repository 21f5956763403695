package memory

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Collector is a reference-counted handle on one Global. Every participant
// holds its own reference, so the Global outlives all of them; when the last
// reference is released every deferred function still queued runs.
//
// A Collector value is safe for concurrent use, but each reference must be
// released exactly once.
type Collector struct {
	global   *Global
	released atomic.Bool
}

func NewCollector(cfg Config) *Collector {
	g := newGlobal(cfg)
	g.refs.Store(1)
	return &Collector{global: g}
}

// Clone returns a new reference to the same Global.
func (c *Collector) Clone() *Collector {
	c.assertLive()
	c.global.refs.Add(1)
	return &Collector{global: c.global}
}

func (c *Collector) Release() {
	if !c.released.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("collector reference released twice"))
	}
	switch n := c.global.refs.Add(-1); {
	case n == 0:
		c.global.teardown()
	case n < 0:
		panic(errors.AssertionFailedf("collector reference count underflow: %d", n))
	}
}

// Register adds a new participant and returns its first handle.
func (c *Collector) Register() *Handle {
	c.assertLive()
	return register(c)
}

// Epoch returns the current global epoch, untagged.
func (c *Collector) Epoch() Epoch {
	return c.global.epoch.load().Unpinned()
}

// Participants counts registered participants that have not finalized.
func (c *Collector) Participants() int {
	return c.global.locals.len()
}

func (c *Collector) Stats() Stats {
	return c.global.counters.snapshot(c.global.epoch.load())
}

// SameAs reports whether both references point at the same Global.
func (c *Collector) SameAs(other *Collector) bool {
	return c.global == other.global
}

func (c *Collector) assertLive() {
	if c.released.Load() {
		panic(errors.AssertionFailedf("use of released collector reference"))
	}
}

// Handle is a participant's registration. Handles of one participant must
// be used by one goroutine at a time.
type Handle struct {
	local    *Local
	released bool
}

// Pin pins the participant and returns a guard. Nested pins are cheap and
// keep the epoch of the outermost one.
func (h *Handle) Pin() *Guard {
	h.assertLive()
	return h.local.pin()
}

func (h *Handle) IsPinned() bool {
	h.assertLive()
	return h.local.isPinned()
}

// Clone returns another handle to the same participant.
func (h *Handle) Clone() *Handle {
	h.assertLive()
	h.local.acquireHandle()
	return &Handle{local: h.local}
}

// Release drops the handle. The participant finalizes once its last handle
// is released and no guard is held.
func (h *Handle) Release() {
	h.assertLive()
	h.released = true
	h.local.releaseHandle()
}

func (h *Handle) assertLive() {
	if h.released {
		panic(errors.AssertionFailedf("use of released handle"))
	}
}
