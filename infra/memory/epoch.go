package memory

import "sync/atomic"

// Epoch is a value of the global reclamation clock.
//
// The least significant bit is the pinned tag; the counter itself moves in
// steps of two, so a participant's published epoch carries both "which epoch"
// and "is it pinned" in one word.
type Epoch uint64

// StartingEpoch is the initial, unpinned epoch.
func StartingEpoch() Epoch {
	return 0
}

// Successor returns the next epoch. The pinned tag is preserved.
func (e Epoch) Successor() Epoch {
	return e + 2
}

// Pinned returns e tagged as pinned.
func (e Epoch) Pinned() Epoch {
	return e | 1
}

// Unpinned returns e with the pinned tag cleared.
func (e Epoch) Unpinned() Epoch {
	return e &^ 1
}

func (e Epoch) IsPinned() bool {
	return e&1 == 1
}

// WrappingSub returns the number of steps from rhs to e. The pinned tag of
// rhs is ignored and the subtraction wraps, so the distance stays correct
// across counter overflow as long as the two values are within half the
// range of each other.
func (e Epoch) WrappingSub(rhs Epoch) int64 {
	return int64(uint64(e)-uint64(rhs.Unpinned())) >> 1
}

// atomicEpoch is an Epoch that can be shared between goroutines.
type atomicEpoch struct {
	v atomic.Uint64
}

func newAtomicEpoch(e Epoch) *atomicEpoch {
	a := &atomicEpoch{}
	a.v.Store(uint64(e))
	return a
}

func (a *atomicEpoch) load() Epoch {
	return Epoch(a.v.Load())
}

func (a *atomicEpoch) store(e Epoch) {
	a.v.Store(uint64(e))
}

func (a *atomicEpoch) compareAndSwap(old, new Epoch) bool {
	return a.v.CompareAndSwap(uint64(old), uint64(new))
}

// paddedEpoch keeps the global epoch on its own cache line. Every pin reads
// it and every successful advance writes it.
type paddedEpoch struct {
	_ [56]byte
	atomicEpoch
	_ [56]byte
}
