package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type slab struct {
	id   int
	data []byte
}

func TestPoolRetireWaitsForReaders(t *testing.T) {
	resets := 0
	pool := NewPool(
		func() *slab { return &slab{data: make([]byte, 0, 64)} },
		func(s *slab) {
			resets++
			s.id = 0
			s.data = s.data[:0]
		},
	)

	c := NewCollector(Config{})
	defer c.Release()
	reader := c.Register()
	defer reader.Release()
	writer := c.Register()
	defer writer.Release()

	s := pool.Get()
	s.id = 7
	s.data = append(s.data, "payload"...)

	rg := reader.Pin()

	g := writer.Pin()
	pool.Retire(g, s)
	g.Unpin()

	for i := 0; i < 10; i++ {
		g := writer.Pin()
		g.Flush()
		g.Unpin()
	}
	require.Equal(t, 0, resets, "a pinned reader may still hold the slab")
	require.Equal(t, 7, s.id)
	require.Equal(t, "payload", string(s.data))

	rg.Unpin()
	for i := 0; i < 3 && resets == 0; i++ {
		g := writer.Pin()
		g.Flush()
		g.Unpin()
	}
	require.Equal(t, 1, resets)
	require.Equal(t, 0, s.id)
	require.Empty(t, s.data)
}

func TestPoolPutResetsImmediately(t *testing.T) {
	resets := 0
	pool := NewPool(func() *slab { return &slab{} }, func(s *slab) {
		resets++
		s.id = 0
	})
	s := pool.Get()
	s.id = 3
	pool.Put(s)
	require.Equal(t, 1, resets)
	require.Zero(t, s.id)

	noReset := NewPool(func() *slab { return &slab{id: 9} }, nil)
	require.NotPanics(t, func() { noReset.Put(noReset.Get()) })
}
