package broadcaster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ebr/infra/journal"
)

type message struct {
	key, value string
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []message
	failN  int
	closed bool
}

func (f *fakeSink) Send(_ context.Context, key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, message{string(key), string(value)})
	return nil
}

func (f *fakeSink) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSink) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.key)
	}
	return out
}

func openJournal(t *testing.T, seqs ...uint64) *journal.Journal {
	t.Helper()
	j, err := journal.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	for _, seq := range seqs {
		require.NoError(t, j.Append(journal.Checkpoint{Seq: seq, Collector: "test", Epoch: seq}))
	}
	return j
}

func requireState(t *testing.T, j *journal.Journal, seq uint64, want journal.State) journal.Record {
	t.Helper()
	rec, err := j.Get(seq)
	require.NoError(t, err)
	require.Equal(t, want, rec.State, "checkpoint %d", seq)
	return rec
}

func TestPublishOnceAcksInOrder(t *testing.T) {
	j := openJournal(t, 1, 2, 3)
	sink := &fakeSink{}
	b := New(j, sink, time.Hour, WithLogger(zaptest.NewLogger(t)))

	n, err := b.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"1", "2", "3"}, sink.keys())
	require.Contains(t, sink.sent[0].value, `"test"`)

	for seq := uint64(1); seq <= 3; seq++ {
		requireState(t, j, seq, journal.StateAcked)
	}

	n, err = b.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n, "nothing left to publish")

	require.NoError(t, b.Close())
	require.True(t, sink.closed)
}

func TestFailedSendIsRetried(t *testing.T) {
	j := openJournal(t, 1)
	sink := &fakeSink{failN: 1}
	b := New(j, sink, time.Hour)

	n, err := b.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	rec := requireState(t, j, 1, journal.StateFailed)
	require.Equal(t, uint32(1), rec.Retries)

	n, err = b.PublishOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	requireState(t, j, 1, journal.StateAcked)
}

func TestRetriesAreBounded(t *testing.T) {
	j := openJournal(t, 1)
	sink := &fakeSink{failN: 100}
	b := New(j, sink, time.Hour, WithMaxRetries(2))

	for i := 0; i < 5; i++ {
		_, err := b.PublishOnce(context.Background())
		require.NoError(t, err)
	}
	rec := requireState(t, j, 1, journal.StateFailed)
	require.Equal(t, uint32(2), rec.Retries)
}

func TestRunRedeliversInFlight(t *testing.T) {
	j := openJournal(t, 1, 2)
	require.NoError(t, j.MarkSent(1))

	sink := &fakeSink{}
	b := New(j, sink, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sink.keys()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	requireState(t, j, 1, journal.StateAcked)
	requireState(t, j, 2, journal.StateAcked)
	require.Equal(t, []string{"1", "2"}, sink.keys())
}

func TestSaramaSink(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "payload" {
			return errors.Newf("unexpected value %q", val)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewSaramaSinkFromProducer(producer, "checkpoints")
	require.NoError(t, sink.Send(context.Background(), []byte("1"), []byte("payload")))

	err := sink.Send(context.Background(), []byte("2"), []byte("payload"))
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sink.Send(ctx, nil, nil), context.Canceled)

	require.NoError(t, sink.Close())
}

func TestDiscard(t *testing.T) {
	s := Discard()
	require.NoError(t, s.Send(context.Background(), nil, nil))
	require.NoError(t, s.Close())
}
