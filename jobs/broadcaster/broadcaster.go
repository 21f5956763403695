package broadcaster

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"ebr/infra/journal"
)

// DefaultMaxRetries bounds redelivery of a FAILED checkpoint.
const DefaultMaxRetries = 5

// Broadcaster drains the checkpoint journal into a Sink: every NEW or
// retryable FAILED checkpoint is marked SENT, published, then marked ACKED
// (or FAILED again). A crash between SENT and ACKED leaves the record SENT;
// it is picked up again on the next start, so delivery is at least once.
type Broadcaster struct {
	journal    *journal.Journal
	sink       Sink
	interval   time.Duration
	maxRetries uint32
	logger     *zap.Logger
}

type Option func(*Broadcaster)

func WithMaxRetries(n uint32) Option {
	return func(b *Broadcaster) { b.maxRetries = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

func New(j *journal.Journal, sink Sink, interval time.Duration, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		journal:    j,
		sink:       sink,
		interval:   interval,
		maxRetries: DefaultMaxRetries,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = b.logger.Named("broadcaster")
	return b
}

// ------------------------------------------------
// LOOP
// ------------------------------------------------

// Run publishes until ctx is done. Records left SENT by a previous run are
// redelivered first.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("started", zap.Duration("interval", b.interval))

	if _, err := b.publishState(ctx, journal.StateSent); err != nil {
		b.logger.Warn("redelivery of in-flight checkpoints failed", zap.Error(err))
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stopped")
			return nil
		case <-ticker.C:
			if _, err := b.PublishOnce(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("publish pass failed", zap.Error(err))
			}
		}
	}
}

// PublishOnce makes one pass over the journal and returns how many
// checkpoints were acknowledged.
func (b *Broadcaster) PublishOnce(ctx context.Context) (int, error) {
	acked, err := b.publishState(ctx, journal.StateNew)
	if err != nil {
		return acked, err
	}
	n, err := b.publishState(ctx, journal.StateFailed)
	return acked + n, err
}

func (b *Broadcaster) publishState(ctx context.Context, state journal.State) (int, error) {
	acked := 0
	// collect first; the scan holds an iterator and marks rewrite records
	var pending []journal.Record
	err := b.journal.ScanByState(state, func(_ uint64, rec journal.Record) error {
		if state == journal.StateFailed && rec.Retries >= b.maxRetries {
			return nil
		}
		pending = append(pending, rec)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "broadcaster: scan %s", state)
	}

	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		ok, err := b.publish(ctx, rec.Checkpoint)
		if err != nil {
			return acked, err
		}
		if ok {
			acked++
		}
	}
	return acked, nil
}

// publish reports whether the checkpoint was acknowledged. A failed send is
// recorded in the journal and is not an error of the pass.
func (b *Broadcaster) publish(ctx context.Context, cp journal.Checkpoint) (bool, error) {
	if err := b.journal.MarkSent(cp.Seq); err != nil {
		return false, err
	}

	payload, err := cp.JSON()
	if err != nil {
		return false, errors.Wrapf(err, "broadcaster: encode checkpoint %d", cp.Seq)
	}

	if err := b.sink.Send(ctx, keyFor(cp.Seq), payload); err != nil {
		b.logger.Warn("send failed", zap.Uint64("seq", cp.Seq), zap.Error(err))
		if markErr := b.journal.MarkFailed(cp.Seq); markErr != nil {
			return false, errors.CombineErrors(err, markErr)
		}
		return false, nil
	}

	if err := b.journal.MarkAcked(cp.Seq); err != nil {
		return false, err
	}
	b.logger.Debug("checkpoint acked", zap.Uint64("seq", cp.Seq))
	return true, nil
}

func (b *Broadcaster) Close() error {
	return b.sink.Close()
}
