package memory

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Local is one participant's record. Everything except epoch and reclaimed
// belongs to the goroutine that currently owns the participant's handles.
type Local struct {
	entry entry

	// epoch is the global epoch observed at the last unpinned-to-pinned
	// transition, tagged pinned, or StartingEpoch while unpinned. Other
	// participants read it while advancing.
	epoch atomicEpoch

	global *Global

	// collector is the reference this participant holds on global. It is
	// dropped when the participant finalizes.
	collector *Collector

	bag Bag

	guardCount  uint
	handleCount uint
	pinCount    uint64

	reclaimed atomic.Bool
}

func register(c *Collector) *Handle {
	l := &Local{
		global:      c.global,
		collector:   c.Clone(),
		handleCount: 1,
	}
	l.entry.owner = l
	c.global.locals.insert(&l.entry)
	c.global.counters.participantRegistered()
	c.global.logger.Debug("participant registered", zap.Stringer("participant", l))
	return &Handle{local: l}
}

func (l *Local) String() string {
	return fmt.Sprintf("local@%p", l)
}

func (l *Local) isPinned() bool {
	return l.guardCount > 0
}

func (l *Local) assertLive() {
	if l.reclaimed.Load() {
		panic(errors.AssertionFailedf("use of reclaimed participant %s", l))
	}
}

// addDeferred stashes d in the local bag, handing full bags to the global
// queue until it fits.
func (l *Local) addDeferred(d Deferred, g *Guard) {
	for {
		var ok bool
		if d, ok = l.bag.TryPush(d); ok {
			return
		}
		l.global.pushBag(&l.bag, g)
	}
}

func (l *Local) flush(g *Guard) {
	if !l.bag.IsEmpty() {
		l.global.pushBag(&l.bag, g)
	}
	l.global.collect(g)
}

func (l *Local) pin() *Guard {
	l.assertLive()
	g := &Guard{local: l}
	count := l.guardCount
	if count == math.MaxUint {
		panic(errors.AssertionFailedf("guard count overflow on %s", l))
	}
	l.guardCount = count + 1
	if count != 0 {
		return g
	}

	// Publishing the pinned epoch with a CAS doubles as the full fence:
	// nothing this goroutine reads afterwards can be ordered before it.
	pinned := l.global.epoch.load().Pinned()
	if !l.epoch.compareAndSwap(StartingEpoch(), pinned) {
		panic(errors.AssertionFailedf("participant %s was expected to be unpinned", l))
	}

	n := l.pinCount
	l.pinCount++
	if n%l.global.pinningsBetweenCollect == 0 {
		l.global.collect(g)
	}
	return g
}

func (l *Local) unpin() {
	count := l.guardCount
	if count == 0 {
		panic(errors.AssertionFailedf("unpin of unpinned participant %s", l))
	}
	l.guardCount = count - 1
	if count == 1 {
		l.epoch.store(StartingEpoch())
		if l.handleCount == 0 {
			l.finalize()
		}
	}
}

// repin refreshes the published epoch without unpinning. It only has an
// effect for the outermost guard. Skipping a fence here can at worst delay
// reclamation.
func (l *Local) repin() {
	if l.guardCount != 1 {
		return
	}
	current := l.global.epoch.load().Pinned()
	if l.epoch.load() != current {
		l.epoch.store(current)
	}
}

func (l *Local) acquireHandle() {
	if l.handleCount == 0 {
		panic(errors.AssertionFailedf("acquire on released participant %s", l))
	}
	l.handleCount++
}

func (l *Local) releaseHandle() {
	count := l.handleCount
	if count == 0 {
		panic(errors.AssertionFailedf("release of unowned participant %s", l))
	}
	l.handleCount = count - 1
	if l.guardCount == 0 && count == 1 {
		l.finalize()
	}
}

// finalize retires the participant once it has neither guards nor handles.
// The handle count is held at one while the last bag is flushed so the
// nested pin/unpin cannot finalize again. The record itself is destroyed
// later, deferred by whichever traversal unlinks the entry.
func (l *Local) finalize() {
	if l.guardCount != 0 || l.handleCount != 0 {
		panic(errors.AssertionFailedf("finalize of %s with %d guards and %d handles",
			l, l.guardCount, l.handleCount))
	}

	l.handleCount = 1
	g := l.pin()
	l.global.pushBag(&l.bag, g)
	g.Unpin()
	l.handleCount = 0

	l.entry.delete()
	l.global.logger.Debug("participant finalized", zap.Stringer("participant", l))

	c := l.collector
	l.collector = nil
	c.Release()
}

// destroy is the participant's own deferred destructor. finalize has already
// handed the bag to the global queue, so it must be empty here.
func (l *Local) destroy() {
	if !l.reclaimed.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("participant %s reclaimed twice", l))
	}
	if !l.bag.IsEmpty() {
		panic(errors.AssertionFailedf("participant %s reclaimed with %d pending deferred functions", l, l.bag.Len()))
	}
	g := l.global
	g.counters.participantReclaimed()
	g.logger.Debug("participant reclaimed", zap.Stringer("participant", l))
}
