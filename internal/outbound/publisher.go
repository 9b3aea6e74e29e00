// Package outbound fans committed events out to external consumers.
// Delivery is strictly after APPLIED and strictly best-effort: the
// dispatch loop never waits on a slow consumer.
package outbound

import (
	"context"
	"encoding/json"
	"log/slog"

	"matching_go/internal/event"
	"matching_go/internal/infra"
)

// Sink delivers one encoded event to an external system.
type Sink interface {
	Publish(ctx context.Context, ev event.Event, payload []byte) error
	Close() error
}

// envelope is the wire form shared by all sinks.
type envelope struct {
	Type string      `json:"type"`
	Seq  uint64      `json:"seq"`
	Ts   int64       `json:"ts"`
	Data event.Event `json:"data"`
}

// Encode renders an event into its published wire form.
func Encode(ev event.Event) ([]byte, error) {
	return json.Marshal(envelope{
		Type: ev.GetType().String(),
		Seq:  ev.GetSeq(),
		Ts:   ev.GetTs().UnixMilli(),
		Data: ev,
	})
}

// Worker drains the outbound queue in FIFO order and hands each event to
// every sink. One goroutine per worker; per-event ordering is preserved
// because there is exactly one drain loop.
type Worker struct {
	queue <-chan event.Event
	sinks []Sink
	log   *slog.Logger
}

// NewWorker creates a worker over the given queue and sinks.
func NewWorker(queue <-chan event.Event, sinks []Sink, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{queue: queue, sinks: sinks, log: log}
}

// Run drains the queue until the context is cancelled. Sink errors are
// logged and skipped; one slow or broken sink never blocks the others
// beyond its own Publish call.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("outbound worker started", slog.Int("sinks", len(w.sinks)))
	defer w.closeSinks()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("outbound worker stopping")
			return
		case ev := <-w.queue:
			w.deliver(ctx, ev)
		}
	}
}

func (w *Worker) deliver(ctx context.Context, ev event.Event) {
	payload, err := Encode(ev)
	if err != nil {
		w.log.Error("event encode failed",
			slog.Uint64("seq", ev.GetSeq()), slog.Any("error", err))
		w.recycle(ev)
		return
	}
	for _, s := range w.sinks {
		if err := s.Publish(ctx, ev, payload); err != nil {
			w.log.Warn("sink publish failed",
				slog.Uint64("seq", ev.GetSeq()), slog.Any("error", err))
		}
	}
	infra.GlobalMetrics.RecordEventPublished()
	w.recycle(ev)
}

// recycle returns pooled events after the last consumer saw them.
func (w *Worker) recycle(ev event.Event) {
	if wc, ok := ev.(*event.WalletChangedEvent); ok {
		event.ReleaseWalletChangedEvent(wc)
	}
}

func (w *Worker) closeSinks() {
	for _, s := range w.sinks {
		if err := s.Close(); err != nil {
			w.log.Warn("sink close failed", slog.Any("error", err))
		}
	}
}
