package journal

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/cockroachdb/errors"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Record is a journaled checkpoint together with its delivery state.
type Record struct {
	State       State
	Retries     uint32
	LastAttempt time.Time
	Checkpoint  Checkpoint
}

// value layout: [crc:4][state:1][retries:4][lastAttempt:8][checkpoint...]
// crc covers everything after itself.
const headerLen = 4 + 1 + 4 + 8

func encodeRecord(r Record) ([]byte, error) {
	payload, err := marshalCheckpoint(r.Checkpoint)
	if err != nil {
		return nil, errors.Wrap(err, "journal: encode checkpoint")
	}
	buf := make([]byte, headerLen+len(payload))
	buf[4] = byte(r.State)
	binary.BigEndian.PutUint32(buf[5:9], r.Retries)
	var last int64
	if !r.LastAttempt.IsZero() {
		last = r.LastAttempt.UnixNano()
	}
	binary.BigEndian.PutUint64(buf[9:17], uint64(last))
	copy(buf[headerLen:], payload)
	binary.BigEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:]))
	return buf, nil
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < headerLen {
		return Record{}, errors.Wrapf(ErrCorruptRecord, "checkpoint %d: %d bytes", seq, len(b))
	}
	if sum := binary.BigEndian.Uint32(b[0:4]); sum != crc32.ChecksumIEEE(b[4:]) {
		return Record{}, errors.Wrapf(ErrCorruptRecord, "checkpoint %d: checksum mismatch", seq)
	}
	r := Record{
		State:   State(b[4]),
		Retries: binary.BigEndian.Uint32(b[5:9]),
	}
	if last := int64(binary.BigEndian.Uint64(b[9:17])); last != 0 {
		r.LastAttempt = time.Unix(0, last)
	}
	cp, err := unmarshalCheckpoint(b[headerLen:])
	if err != nil {
		return Record{}, errors.Wrapf(err, "checkpoint %d", seq)
	}
	cp.Seq = seq
	r.Checkpoint = cp
	return r, nil
}
