package memory

import (
	"iter"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// stallingList reports a stall on every traversal.
type stallingList struct {
	*list
}

func (stallingList) iter(*Guard) iter.Seq2[*Local, error] {
	return func(yield func(*Local, error) bool) {
		yield(nil, errStalled)
	}
}

func TestCollectBasicRoundTrip(t *testing.T) {
	c := NewCollector(Config{})
	defer c.Release()
	h := c.Register()
	defer h.Release()

	var flag atomic.Int64
	g := h.Pin()
	g.Defer(func() { flag.Store(42) })
	g.Unpin()

	for i := 0; i < 3 && flag.Load() != 42; i++ {
		g := h.Pin()
		g.Flush()
		g.Unpin()
	}
	require.Equal(t, int64(42), flag.Load())
}

func TestTryAdvanceStalledTraversal(t *testing.T) {
	c := NewCollector(Config{})
	defer c.Release()
	c.global.locals = stallingList{c.global.locals.(*list)}

	h := c.Register()
	defer h.Release()
	g := h.Pin()
	defer g.Unpin()

	before := c.global.epoch.load()
	require.Equal(t, before, c.global.tryAdvance(g))
	require.Equal(t, before, c.global.epoch.load())

	g.Flush()
	require.Equal(t, before, c.global.epoch.load())
}

func TestTryAdvanceBlockedByLaggingParticipant(t *testing.T) {
	c := NewCollector(Config{})
	defer c.Release()

	reader := c.Register()
	defer reader.Release()
	writer := c.Register()
	defer writer.Release()

	// the first pin collects, moving the epoch past the reader
	rg := reader.Pin()
	readerAt := reader.local.epoch.load().Unpinned()
	require.Equal(t, readerAt.Successor(), c.Epoch())

	wg := writer.Pin()
	defer wg.Unpin()
	current := c.Epoch()
	for i := 0; i < 5; i++ {
		require.Equal(t, current, c.global.tryAdvance(wg), "reader still pinned at an older epoch")
	}

	rg.Repin()
	next := c.global.tryAdvance(wg)
	require.Equal(t, current.Successor(), next)

	// both are now one step behind
	require.Equal(t, next, c.global.tryAdvance(wg))
	wg.Repin()
	require.Equal(t, next, c.global.tryAdvance(wg))
	rg.Repin()
	require.Equal(t, next.Successor(), c.global.tryAdvance(wg))
	rg.Unpin()
}

func TestNoPrematureDestruction(t *testing.T) {
	c := NewCollector(Config{})
	defer c.Release()

	reader := c.Register()
	defer reader.Release()
	writer := c.Register()
	defer writer.Release()

	rg := reader.Pin()

	var ran atomic.Bool
	g := writer.Pin()
	g.Defer(func() { ran.Store(true) })
	g.Unpin()

	for i := 0; i < 20; i++ {
		g := writer.Pin()
		g.Flush()
		g.Unpin()
		require.False(t, ran.Load(), "ran while a reader pinned before the deferral was still pinned")
	}
	require.LessOrEqual(t, c.Epoch().WrappingSub(StartingEpoch()), int64(1))

	rg.Unpin()
	for i := 0; i < 3 && !ran.Load(); i++ {
		g := writer.Pin()
		g.Flush()
		g.Unpin()
	}
	require.True(t, ran.Load())
}

func TestPushBagSealsAtCurrentEpoch(t *testing.T) {
	c := NewCollector(Config{})
	defer c.Release()
	h := c.Register()
	defer h.Release()

	g := h.Pin()
	defer g.Unpin()
	g.Defer(func() {})

	epoch := c.global.epoch.load()
	c.global.pushBag(&h.local.bag, g)
	require.True(t, h.local.bag.IsEmpty())

	sealed, ok := c.global.queue.tryPop()
	require.True(t, ok)
	require.Equal(t, epoch, sealed.epoch)
	require.Equal(t, 1, sealed.bag.Len())
	sealed.bag.run()
}

func TestCollectStopsAtFirstLiveBag(t *testing.T) {
	c := NewCollector(Config{})
	defer c.Release()
	h := c.Register()
	defer h.Release()

	g := h.Pin()
	defer g.Unpin()

	var runs atomic.Int64
	old := &sealedBag{epoch: StartingEpoch()}
	old.bag.TryPush(NewDeferred(func() { runs.Add(1) }))
	c.global.queue.push(old)

	fresh := &sealedBag{epoch: Epoch(1 << 40)}
	fresh.bag.TryPush(NewDeferred(func() { runs.Add(100) }))
	c.global.queue.push(fresh)

	behind := &sealedBag{epoch: StartingEpoch()}
	behind.bag.TryPush(NewDeferred(func() { runs.Add(10) }))
	c.global.queue.push(behind)

	// step the epoch far enough that old is expired
	c.global.epoch.store(c.global.epoch.load().Successor().Successor())
	g.Repin()
	c.global.collect(g)

	require.Equal(t, int64(1), runs.Load(), "only the front bag is expired; the queue is FIFO")
}

func TestEpochMonotonic(t *testing.T) {
	c := NewCollector(Config{PinningsBetweenCollect: 1})
	defer c.Release()

	const workers, rounds = 4, 500
	stop := make(chan struct{})
	var observed sync.WaitGroup
	observed.Add(1)
	go func() {
		defer observed.Done()
		last := c.Epoch()
		for {
			select {
			case <-stop:
				return
			default:
			}
			cur := c.Epoch()
			if cur.WrappingSub(last) < 0 {
				t.Errorf("epoch went backwards: %d -> %d", last, cur)
				return
			}
			last = cur
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := c.Register()
			defer h.Release()
			for i := 0; i < rounds; i++ {
				g := h.Pin()
				g.Defer(func() {})
				if i%7 == 0 {
					g.Flush()
				}
				g.Unpin()
			}
		}()
	}
	wg.Wait()
	close(stop)
	observed.Wait()

	require.Greater(t, c.Stats().EpochAdvances, uint64(0))
}

// expiredBagsRunInOnePass queues bags expired sealed bags and reports how
// many a single collect pass destroys.
func expiredBagsRunInOnePass(t *testing.T, bags int) int {
	t.Helper()
	c := NewCollector(Config{})
	defer c.Release()
	h := c.Register()
	defer h.Release()
	g := h.Pin()
	defer g.Unpin()

	var runs atomic.Int64
	for i := 0; i < bags; i++ {
		s := &sealedBag{epoch: StartingEpoch()}
		s.bag.TryPush(NewDeferred(func() { runs.Add(1) }))
		c.global.queue.push(s)
	}
	c.global.epoch.store(c.global.epoch.load().Successor().Successor())
	g.Repin()
	c.global.collect(g)
	return int(runs.Load())
}
