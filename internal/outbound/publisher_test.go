package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"matching_go/internal/event"
)

type captureSink struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
}

func (c *captureSink) Publish(_ context.Context, _ event.Event, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink down")
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *captureSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestWorker_DeliversInOrder(t *testing.T) {
	queue := make(chan event.Event, 8)
	sink := &captureSink{}
	w := NewWorker(queue, []Sink{sink}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := uint64(1); i <= 3; i++ {
		queue <- event.OrderPlacedEvent{BaseEvent: event.BaseEvent{Seq: i, Ts: time.Now()}}
	}

	waitFor(t, func() bool { return sink.count() == 3 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for i, payload := range sink.payloads {
		var env struct {
			Type string `json:"type"`
			Seq  uint64 `json:"seq"`
		}
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if env.Seq != uint64(i+1) {
			t.Errorf("payload %d has seq %d, want %d", i, env.Seq, i+1)
		}
		if env.Type != "ORDER_PLACED" {
			t.Errorf("payload %d type = %q", i, env.Type)
		}
	}
}

func TestWorker_BrokenSinkDoesNotStopOthers(t *testing.T) {
	queue := make(chan event.Event, 8)
	broken := &captureSink{fail: true}
	healthy := &captureSink{}
	w := NewWorker(queue, []Sink{broken, healthy}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	queue <- event.OrderPlacedEvent{BaseEvent: event.BaseEvent{Seq: 1, Ts: time.Now()}}

	waitFor(t, func() bool { return healthy.count() == 1 })
}

func TestWorker_ClosesSinksOnShutdown(t *testing.T) {
	queue := make(chan event.Event)
	sink := &captureSink{}
	w := NewWorker(queue, []Sink{sink}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	<-done

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if !sink.closed {
		t.Error("worker shutdown must close its sinks")
	}
}

func TestEncode_RoundTripsEnvelope(t *testing.T) {
	ev := event.BaseEvent{Seq: 7, Ts: time.UnixMilli(1700000000000)}
	payload, err := Encode(event.OrderPlacedEvent{BaseEvent: ev})
	if err != nil {
		t.Fatal(err)
	}
	var env struct {
		Type string `json:"type"`
		Seq  uint64 `json:"seq"`
		Ts   int64  `json:"ts"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "ORDER_PLACED" || env.Seq != 7 || env.Ts != 1700000000000 {
		t.Errorf("envelope = %+v", env)
	}
}
