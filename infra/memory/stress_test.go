package memory

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

type cell struct {
	value int64
	freed atomic.Bool
}

// Writers keep replacing the published cell and retire the old one; readers
// must never observe a freed cell while pinned.
func TestStressNoPrematureDestruction(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	c := NewCollector(Config{PinningsBetweenCollect: 8})

	var shared atomic.Pointer[cell]
	shared.Store(&cell{})

	const writers, readers, rounds = 2, 4, 5000
	var retired, freed atomic.Int64
	var violations atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := c.Register()
			defer h.Release()
			for i := 0; i < rounds; i++ {
				g := h.Pin()
				old := shared.Swap(&cell{value: int64(i)})
				retired.Add(1)
				g.Defer(func() {
					old.freed.Store(true)
					freed.Add(1)
				})
				if i%64 == 0 {
					g.Flush()
				}
				g.Unpin()
			}
		}()
	}
	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := c.Register()
			defer h.Release()
			for i := 0; i < rounds; i++ {
				g := h.Pin()
				p := shared.Load()
				for j := 0; j < 4; j++ {
					if p.freed.Load() {
						violations.Add(1)
					}
				}
				g.Unpin()
			}
		}()
	}
	wg.Wait()

	require.Zero(t, violations.Load())

	c.Release()
	require.Equal(t, retired.Load(), freed.Load(), "every retired cell is freed exactly once by teardown")
	require.False(t, shared.Load().freed.Load())
}

func TestStressEventualDestruction(t *testing.T) {
	c := NewCollector(Config{})
	defer c.Release()

	const workers, perWorker = 4, 1000
	var ran atomic.Int64

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := c.Register()
			defer h.Release()
			for i := 0; i < perWorker; i++ {
				g := h.Pin()
				g.Defer(func() { ran.Add(1) })
				g.Unpin()
			}
		}()
	}
	wg.Wait()

	h := c.Register()
	defer h.Release()
	for i := 0; i < 10_000 && ran.Load() < workers*perWorker; i++ {
		g := h.Pin()
		g.Flush()
		g.Unpin()
	}
	require.Equal(t, int64(workers*perWorker), ran.Load())
	require.Equal(t, 1, c.Participants())
}
