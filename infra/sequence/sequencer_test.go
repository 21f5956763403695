package sequence

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	last uint64
	err  error
}

func (f fixedSource) LastSeq() (uint64, error) { return f.last, f.err }

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(0)
	const workers, per = 8, 1000

	var mu sync.Mutex
	seen := make(map[uint64]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]uint64, 0, per)
			for i := 0; i < per; i++ {
				local = append(local, s.Next())
			}
			mu.Lock()
			for _, v := range local {
				seen[v] = struct{}{}
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*per)
	require.Equal(t, uint64(workers*per), s.Current())
}

func TestResume(t *testing.T) {
	s, err := Resume(fixedSource{last: 41})
	require.NoError(t, err)
	require.Equal(t, uint64(42), s.Next())

	boom := errors.New("boom")
	_, err = Resume(fixedSource{err: boom})
	require.ErrorIs(t, err, boom)
}
