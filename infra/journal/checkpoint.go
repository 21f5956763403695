package journal

import (
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Checkpoint is a point-in-time record of a collector's reclamation
// progress, written by the soak service and published by the broadcaster.
type Checkpoint struct {
	Seq       uint64
	Time      time.Time
	Collector string

	Epoch        uint64
	Participants int64
	Pushes       uint64
	Pops         uint64

	EpochAdvances          uint64
	BagsSealed             uint64
	BagsCollected          uint64
	DeferredRun            uint64
	ParticipantsRegistered uint64
	ParticipantsReclaimed  uint64
}

// Struct renders cp as a protobuf Struct. Counters travel as JSON numbers;
// values beyond 2^53 lose precision, Seq is always recovered from the key.
func (cp Checkpoint) Struct() *structpb.Struct {
	num := func(v uint64) *structpb.Value { return structpb.NewNumberValue(float64(v)) }
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"seq":                     num(cp.Seq),
		"time":                    structpb.NewStringValue(cp.Time.UTC().Format(time.RFC3339Nano)),
		"collector":               structpb.NewStringValue(cp.Collector),
		"epoch":                   num(cp.Epoch),
		"participants":            structpb.NewNumberValue(float64(cp.Participants)),
		"pushes":                  num(cp.Pushes),
		"pops":                    num(cp.Pops),
		"epoch_advances":          num(cp.EpochAdvances),
		"bags_sealed":             num(cp.BagsSealed),
		"bags_collected":          num(cp.BagsCollected),
		"deferred_run":            num(cp.DeferredRun),
		"participants_registered": num(cp.ParticipantsRegistered),
		"participants_reclaimed":  num(cp.ParticipantsReclaimed),
	}}
}

// FromStruct is the inverse of Struct.
func FromStruct(s *structpb.Struct) (Checkpoint, error) {
	f := s.GetFields()
	num := func(k string) uint64 { return uint64(f[k].GetNumberValue()) }

	var ts time.Time
	if raw := f["time"].GetStringValue(); raw != "" {
		var err error
		if ts, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Checkpoint{}, errors.Wrap(err, "journal: checkpoint time")
		}
	}
	return Checkpoint{
		Seq:                    num("seq"),
		Time:                   ts,
		Collector:              f["collector"].GetStringValue(),
		Epoch:                  num("epoch"),
		Participants:           int64(f["participants"].GetNumberValue()),
		Pushes:                 num("pushes"),
		Pops:                   num("pops"),
		EpochAdvances:          num("epoch_advances"),
		BagsSealed:             num("bags_sealed"),
		BagsCollected:          num("bags_collected"),
		DeferredRun:            num("deferred_run"),
		ParticipantsRegistered: num("participants_registered"),
		ParticipantsReclaimed:  num("participants_reclaimed"),
	}, nil
}

// JSON is the wire payload published for cp.
func (cp Checkpoint) JSON() ([]byte, error) {
	return protojson.Marshal(cp.Struct())
}

func marshalCheckpoint(cp Checkpoint) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(cp.Struct())
}

func unmarshalCheckpoint(b []byte) (Checkpoint, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Checkpoint{}, errors.Mark(errors.Wrap(err, "journal: checkpoint payload"), ErrCorruptRecord)
	}
	return FromStruct(&s)
}
