package outbound

import (
	"context"
	"log/slog"

	"matching_go/internal/event"
)

// LogSink writes every event to the structured log. Fallback for
// deployments without Kafka or feed consumers, and a cheap tap when
// debugging.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink over the given logger.
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Publish(_ context.Context, ev event.Event, payload []byte) error {
	s.log.Info("event published",
		slog.String("type", ev.GetType().String()),
		slog.Uint64("seq", ev.GetSeq()),
		slog.Int("bytes", len(payload)))
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
