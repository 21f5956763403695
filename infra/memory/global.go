package memory

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Global is the state shared by every participant of one collector: the
// global epoch, the queue of sealed bags and the participant registry.
type Global struct {
	locals participants
	queue  *queue[*sealedBag]
	epoch  paddedEpoch

	// refs counts the Collector values (and through them the Locals) that
	// keep this Global alive.
	refs atomic.Int64

	pinningsBetweenCollect uint64
	counters               counters
	logger                 *zap.Logger
}

func newGlobal(cfg Config) *Global {
	cfg = cfg.withDefaults()
	g := &Global{
		locals:                 newList(),
		queue:                  newQueue[*sealedBag](),
		pinningsBetweenCollect: cfg.PinningsBetweenCollect,
		logger:                 cfg.Logger.Named("collector").With(zap.String("collector", cfg.Name)),
	}
	g.counters.m = cfg.Metrics
	g.epoch.store(StartingEpoch())
	return g
}

// pushBag seals the caller's bag at the current global epoch and enqueues
// it, leaving the caller with an empty bag.
//
// The epoch load is a sequentially consistent atomic, so every write this
// goroutine made before deferring is visible before the seal epoch is
// chosen.
func (g *Global) pushBag(bag *Bag, _ *Guard) {
	epoch := g.epoch.load()
	g.queue.push(bag.seal(epoch))
	g.counters.bagSealed()
}

// collect tries to advance the epoch and then destroys a bounded number of
// expired bags from the front of the queue. Leftovers wait for a later call.
//
// Running deferred functions may produce more garbage through guard.
func (g *Global) collect(guard *Guard) {
	epoch := g.tryAdvance(guard)
	expired := func(s *sealedBag) bool { return s.isExpired(epoch) }
	for i := 0; i < collectSteps; i++ {
		sealed, ok := g.queue.tryPopIf(expired)
		if !ok {
			return
		}
		g.counters.bagCollected(sealed.bag.run())
	}
}

// tryAdvance moves the global epoch one step forward if every pinned
// participant has been pinned in the current epoch. It returns the epoch in
// effect afterwards, which is unchanged when the traversal stalls or some
// participant lags behind.
//
// A plain store is enough: racing advancers read the same epoch and can only
// write the same successor.
func (g *Global) tryAdvance(guard *Guard) Epoch {
	epoch := g.epoch.load()
	for local, err := range g.locals.iter(guard) {
		if err != nil {
			return epoch
		}
		le := local.epoch.load()
		if le.IsPinned() && le.Unpinned() != epoch {
			return epoch
		}
	}
	next := epoch.Successor()
	g.epoch.store(next)
	g.counters.advanced(next)
	return next
}

// teardown runs once the last reference is gone. Every participant has been
// finalized by then, so the remaining entries are destroyed directly and all
// queued bags run regardless of their epoch.
func (g *Global) teardown() {
	g.locals.drain(func(l *Local) { l.destroy() })
	bags := 0
	for {
		sealed, ok := g.queue.tryPop()
		if !ok {
			break
		}
		g.counters.bagCollected(sealed.bag.run())
		bags++
	}
	s := g.counters.snapshot(g.epoch.load())
	g.logger.Info("collector torn down",
		zap.Int("bags", bags),
		zap.Uint64("epoch", uint64(s.Epoch>>1)),
		zap.Uint64("deferred_run", s.DeferredRun),
	)
}
