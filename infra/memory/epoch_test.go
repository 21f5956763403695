package memory

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEpochTagging(t *testing.T) {
	e := StartingEpoch()
	require.False(t, e.IsPinned())

	p := e.Successor().Pinned()
	require.True(t, p.IsPinned())
	require.Equal(t, e.Successor(), p.Unpinned())
	require.True(t, p.Successor().IsPinned(), "successor keeps the pinned tag")
}

func TestEpochWrappingSub(t *testing.T) {
	e := StartingEpoch()
	require.Equal(t, int64(0), e.WrappingSub(e))
	require.Equal(t, int64(1), e.Successor().WrappingSub(e))
	require.Equal(t, int64(2), e.Successor().Successor().WrappingSub(e))
	require.Equal(t, int64(-1), e.WrappingSub(e.Successor()))

	// the pinned tag on the right-hand side is ignored
	three := e.Successor().Successor().Successor()
	require.Equal(t, int64(2), three.WrappingSub(e.Successor().Pinned()))
	require.Equal(t, int64(2), three.Pinned().WrappingSub(e.Successor().Pinned()))
}

func TestEpochWrapAround(t *testing.T) {
	last := Epoch(math.MaxUint64 - 1)
	next := last.Successor()
	require.Equal(t, StartingEpoch(), next)
	require.Equal(t, int64(1), next.WrappingSub(last))
	require.Equal(t, int64(2), next.Successor().WrappingSub(last.Pinned()))

	s := &sealedBag{epoch: last}
	require.False(t, s.isExpired(next))
	require.True(t, s.isExpired(next.Successor()))
}

func TestAtomicEpoch(t *testing.T) {
	a := newAtomicEpoch(StartingEpoch())
	require.True(t, a.compareAndSwap(StartingEpoch(), Epoch(4).Pinned()))
	require.False(t, a.compareAndSwap(StartingEpoch(), Epoch(6)))
	require.Equal(t, Epoch(5), a.load())
	a.store(StartingEpoch())
	require.Equal(t, StartingEpoch(), a.load())
}
