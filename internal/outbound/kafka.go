package outbound

import (
	"context"
	"strconv"
	"time"

	"matching_go/internal/event"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes events to a Kafka topic. The sequence number is
// the message key, so a partitioned topic still orders per key and a
// downstream consumer can detect gaps.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a sink over the given brokers and topic.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (s *KafkaSink) Publish(ctx context.Context, ev event.Event, payload []byte) error {
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(ev.GetSeq(), 10)),
		Value: payload,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
