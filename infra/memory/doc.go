// Package memory implements epoch-based reclamation for lock-free data
// structures.
//
// Goroutines register with a Collector and pin their Handle while they read
// shared structures. Objects unlinked by a pinned goroutine are not released
// directly; a cleanup function is deferred through the Guard instead and
// runs only after the global epoch has advanced twice past the point where
// it was handed off, at which time no pinned reader can still hold it.
//
//	c := memory.NewCollector(memory.Config{})
//	defer c.Release()
//
//	h := c.Register()
//	defer h.Release()
//
//	g := h.Pin()
//	old := head.Swap(next)
//	g.Defer(func() { pool.Put(old) })
//	g.Unpin()
//
// Deferred functions are batched in fixed-size bags, sealed with the epoch
// at hand-off and queued globally. Collection is amortized over pins; there
// is no background goroutine. Releasing the last Collector reference runs
// everything still queued.
//
// Pinning, deferral and collection never take a lock.
package memory
