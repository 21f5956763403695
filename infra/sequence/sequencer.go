package sequence

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Sequencer hands out strictly increasing checkpoint numbers.
type Sequencer struct {
	next atomic.Uint64
}

// Source reports the last sequence number already persisted.
type Source interface {
	LastSeq() (uint64, error)
}

// New creates a sequencer whose first Next returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Resume continues numbering after whatever src already holds.
// A fresh journal resumes at 0.
func Resume(src Source) (*Sequencer, error) {
	last, err := src.LastSeq()
	if err != nil {
		return nil, errors.Wrap(err, "sequence: resume")
	}
	return New(last), nil
}

func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}
