package memory

import "github.com/cockroachdb/errors"

// Guard witnesses that its participant is pinned. While a Guard is held,
// nothing deferred after the pin can be destroyed, so pointers loaded from
// shared structures stay valid.
//
// Guards are not safe for concurrent use and must be unpinned exactly once:
//
//	g := h.Pin()
//	defer g.Unpin()
type Guard struct {
	local    *Local
	unpinned bool
}

func (g *Guard) assertPinned() {
	if g.unpinned {
		panic(errors.AssertionFailedf("use of unpinned guard"))
	}
}

// Defer schedules fn to run once no participant pinned now can still
// observe what the caller just unlinked. fn may run on any goroutine.
func (g *Guard) Defer(fn func()) {
	g.DeferDeferred(NewDeferred(fn))
}

func (g *Guard) DeferDeferred(d Deferred) {
	g.assertPinned()
	g.local.addDeferred(d, g)
}

func (g *Guard) deferDestroy(l *Local) {
	g.local.addDeferred(NewDeferred(l.destroy), g)
}

// Flush hands the participant's pending deferred functions to the global
// queue and runs a collection pass.
func (g *Guard) Flush() {
	g.assertPinned()
	g.local.flush(g)
}

// Repin moves an outermost guard to the current epoch so a long-lived
// reader stops holding back reclamation. References obtained before Repin
// must not be used afterwards.
func (g *Guard) Repin() {
	g.assertPinned()
	g.local.repin()
}

func (g *Guard) Unpin() {
	g.assertPinned()
	g.unpinned = true
	g.local.unpin()
}

// Collector returns the collector the guard's participant belongs to. The
// reference is borrowed from the participant: Clone it to keep it past the
// guard and never Release it directly.
func (g *Guard) Collector() *Collector {
	g.assertPinned()
	return g.local.collector
}
