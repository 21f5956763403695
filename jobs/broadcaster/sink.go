package broadcaster

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"

	"ebr/infra/kafka"
)

// Sink delivers one published checkpoint. Send returns only after the
// message is acknowledged.
type Sink interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

var (
	_ Sink = (*SaramaSink)(nil)
	_ Sink = (*kafka.Producer)(nil)
)

// SaramaSink publishes through a sarama SyncProducer.
type SaramaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewSaramaSink(brokers []string, topic string) (*SaramaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "broadcaster: sarama producer")
	}
	return NewSaramaSinkFromProducer(producer, topic), nil
}

// NewSaramaSinkFromProducer wraps an existing producer, e.g. a sarama mock.
func NewSaramaSinkFromProducer(p sarama.SyncProducer, topic string) *SaramaSink {
	return &SaramaSink{producer: p, topic: topic}
}

func (s *SaramaSink) Send(ctx context.Context, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return errors.Wrapf(err, "broadcaster: send to %s", s.topic)
}

func (s *SaramaSink) Close() error {
	return s.producer.Close()
}

// discard drops every message. Used when no broker is configured.
type discard struct{}

// Discard is a Sink that acknowledges without sending anything.
func Discard() Sink { return discard{} }

func (discard) Send(context.Context, []byte, []byte) error { return nil }
func (discard) Close() error                              { return nil }

func keyFor(seq uint64) []byte {
	return strconv.AppendUint(nil, seq, 10)
}
