package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

var (
	ErrClosed        = errors.New("journal: closed")
	ErrNotFound      = errors.New("journal: checkpoint not found")
	ErrCorruptRecord = errors.New("journal: corrupt record")
)

const keyPrefix = "checkpoint/"

var (
	lowerBound = []byte(keyPrefix)
	upperBound = []byte(keyPrefix + "~")

	// highest sequence ever appended; survives truncation
	lastSeqKey = []byte("meta/last_seq")
)

// Journal is a durable outbox of checkpoints backed by pebble. Every write
// is synced before it returns.
type Journal struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool

	// serializes read-modify-write state transitions
	update sync.Mutex
}

func Open(dir string) (*Journal, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s", dir)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.closed = true
	return j.db.Close()
}

// -------------------- API --------------------

// Append stores cp as NEW under its sequence number and raises the
// high-water mark in the same batch.
func (j *Journal) Append(cp Checkpoint) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}

	j.update.Lock()
	defer j.update.Unlock()

	val, err := encodeRecord(Record{State: StateNew, Checkpoint: cp})
	if err != nil {
		return err
	}
	mark, err := j.highWater()
	if err != nil {
		return err
	}

	b := j.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyFor(cp.Seq), val, nil); err != nil {
		return errors.Wrapf(err, "journal: append %d", cp.Seq)
	}
	if cp.Seq > mark {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], cp.Seq)
		if err := b.Set(lastSeqKey, buf[:], nil); err != nil {
			return errors.Wrapf(err, "journal: append %d", cp.Seq)
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrapf(err, "journal: append %d", cp.Seq)
	}
	return nil
}

func (j *Journal) Get(seq uint64) (Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return Record{}, ErrClosed
	}
	return j.get(seq)
}

func (j *Journal) MarkSent(seq uint64) error {
	return j.transition(seq, func(r *Record) { r.State = StateSent })
}

func (j *Journal) MarkAcked(seq uint64) error {
	return j.transition(seq, func(r *Record) { r.State = StateAcked })
}

// MarkFailed records a failed delivery attempt and bumps the retry count.
func (j *Journal) MarkFailed(seq uint64) error {
	return j.transition(seq, func(r *Record) {
		r.State = StateFailed
		r.Retries++
	})
}

// -------------------- Scan --------------------

// ScanByState calls fn for every record in state, in sequence order.
// Returning an error from fn stops the scan and is returned as is.
func (j *Journal) ScanByState(state State, fn func(seq uint64, rec Record) error) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}

	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: lowerBound,
		UpperBound: upperBound,
	})
	if err != nil {
		return errors.Wrap(err, "journal: scan")
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if rec.State != state {
			continue
		}
		if err := fn(seq, rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastSeq returns the highest sequence number ever appended, or 0 for a
// fresh journal. Truncating acknowledged records does not lower it.
func (j *Journal) LastSeq() (uint64, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrClosed
	}

	mark, err := j.highWater()
	if err != nil {
		return 0, err
	}

	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: lowerBound,
		UpperBound: upperBound,
	})
	if err != nil {
		return 0, errors.Wrap(err, "journal: last seq")
	}
	defer iter.Close()

	if !iter.Last() {
		return mark, iter.Error()
	}
	seq, err := parseKey(iter.Key())
	if err != nil {
		return 0, err
	}
	return max(seq, mark), nil
}

// TruncateAckedUpTo deletes ACKED records with seq <= upTo and reports how
// many were removed. Records in other states are kept for redelivery.
func (j *Journal) TruncateAckedUpTo(upTo uint64) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0, ErrClosed
	}

	j.update.Lock()
	defer j.update.Unlock()

	upper := upperBound
	if upTo < math.MaxUint64 {
		upper = keyFor(upTo + 1)
	}
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: lowerBound,
		UpperBound: upper,
	})
	if err != nil {
		return 0, errors.Wrap(err, "journal: truncate")
	}

	b := j.db.NewBatch()
	defer b.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			_ = iter.Close()
			return 0, err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			_ = iter.Close()
			return 0, err
		}
		if rec.State != StateAcked {
			continue
		}
		if err := b.Delete(iter.Key(), nil); err != nil {
			_ = iter.Close()
			return 0, errors.Wrap(err, "journal: truncate")
		}
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, errors.Wrap(err, "journal: truncate")
	}
	if n == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "journal: truncate commit")
	}
	return n, nil
}

// -------------------- Helpers --------------------

func (j *Journal) transition(seq uint64, fn func(*Record)) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return ErrClosed
	}

	j.update.Lock()
	defer j.update.Unlock()

	rec, err := j.get(seq)
	if err != nil {
		return err
	}
	fn(&rec)
	rec.LastAttempt = time.Now()
	return j.put(seq, rec)
}

func (j *Journal) get(seq uint64) (Record, error) {
	val, closer, err := j.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrapf(ErrNotFound, "checkpoint %d", seq)
	}
	if err != nil {
		return Record{}, errors.Wrapf(err, "journal: get %d", seq)
	}
	defer closer.Close()
	return decodeRecord(seq, val)
}

// highWater reads the stored high-water mark, 0 when none was written yet.
func (j *Journal) highWater() (uint64, error) {
	val, closer, err := j.db.Get(lastSeqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "journal: high-water mark")
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.Mark(errors.Newf("journal: high-water mark is %d bytes", len(val)), ErrCorruptRecord)
	}
	return binary.BigEndian.Uint64(val), nil
}

func (j *Journal) put(seq uint64, rec Record) error {
	val, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := j.db.Set(keyFor(seq), val, pebble.Sync); err != nil {
		return errors.Wrapf(err, "journal: put %d", seq)
	}
	return nil
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	seq, err := strconv.ParseUint(string(bytes.TrimPrefix(b, lowerBound)), 10, 64)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "journal: key %q", b), ErrCorruptRecord)
	}
	return seq, nil
}
