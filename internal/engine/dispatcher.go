package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"matching_go/internal/book"
	"matching_go/internal/domain"
	"matching_go/internal/event"
	"matching_go/internal/infra"
	"matching_go/internal/ledger"
	"matching_go/internal/midprice"
)

// Dispatcher is the core single-threaded instruction processor. One
// goroutine runs the loop; it is the sole writer of ledger, order book
// and estimator state, which is what makes the per-entity invariants
// hold without internal locking.
type Dispatcher struct {
	inbox    chan domain.Instruction
	outbound chan<- event.Event

	ledger      *ledger.Ledger
	books       *book.Engine
	midPrices   *midprice.Holder
	sequencer   *Sequencer
	coordinator *Coordinator

	assets      map[string]domain.Asset
	instruments map[string]*domain.AssetPair

	dedupRetention time.Duration

	log *slog.Logger
}

// Deps bundles the collaborators of the dispatcher.
type Deps struct {
	Ledger      *ledger.Ledger
	Books       *book.Engine
	MidPrices   *midprice.Holder
	Sequencer   *Sequencer
	Coordinator *Coordinator
	Assets      map[string]domain.Asset
	Instruments map[string]*domain.AssetPair
	Outbound    chan<- event.Event

	// DedupRetention bounds the in-memory dedup index. Zero disables
	// in-loop pruning.
	DedupRetention time.Duration

	Logger *slog.Logger
}

// NewDispatcher creates a dispatcher with the given inbox capacity.
func NewDispatcher(inboxSize int, d Deps) *Dispatcher {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		inbox:       make(chan domain.Instruction, inboxSize),
		outbound:    d.Outbound,
		ledger:      d.Ledger,
		books:       d.Books,
		midPrices:   d.MidPrices,
		sequencer:   d.Sequencer,
		coordinator: d.Coordinator,
		assets:      d.Assets,
		instruments: d.Instruments,

		dedupRetention: d.DedupRetention,

		log: log,
	}
}

// Inbox returns the instruction channel. External gateways send here.
func (d *Dispatcher) Inbox() chan<- domain.Instruction {
	return d.inbox
}

// Run starts the dispatch loop. This MUST be run in a single goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started (single-writer hotpath)")

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			d.DumpState("panic_dump.json")
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	// Dedup pruning runs inside the loop so the index is only ever
	// touched by the single writer.
	var pruneC <-chan time.Time
	if d.dedupRetention > 0 {
		ticker := time.NewTicker(d.dedupRetention / 2)
		defer ticker.Stop()
		pruneC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping")
			return
		case ins := <-d.inbox:
			d.dispatch(ins)
		case now := <-pruneC:
			if n := d.ledger.PruneProcessed(now.Add(-d.dedupRetention)); n > 0 {
				d.log.Info("dedup records pruned", slog.Int("count", n))
			}
		}
	}
}

// dispatch routes one instruction to its handler. Errors in one
// instruction never touch entities of another; the per-instruction
// mutation boundary is the unit of failure.
func (d *Dispatcher) dispatch(ins domain.Instruction) {
	start := time.Now()
	defer func() {
		infra.GlobalMetrics.RecordInstruction(time.Since(start).Nanoseconds())
	}()

	switch ins.Kind {
	case domain.KindCashOperation:
		d.handleCashOperation(ins)
	case domain.KindBalanceUpdate:
		d.handleBalanceUpdate(ins)
	case domain.KindLimitOrder:
		d.handleLimitOrder(ins)
	case domain.KindLimitOrderCancel:
		d.handleLimitOrderCancel(ins)
	case domain.KindMultiLimitOrderCancel:
		d.handleMultiLimitOrderCancel(ins)
	default:
		d.log.Error("unknown instruction kind",
			slog.Int("kind", int(ins.Kind)), slog.String("id", ins.ID))
		d.reply(ins, domain.Response{
			MessageID: ins.ID,
			Status:    domain.StatusRuntime,
			Reason:    domain.ErrUnknownInstruction.Error(),
		})
	}
}

// reply delivers the response without ever blocking the loop. The
// originator provides a buffered channel; a full one drops the response.
func (d *Dispatcher) reply(ins domain.Instruction, resp domain.Response) {
	if ins.Reply == nil {
		return
	}
	select {
	case ins.Reply <- resp:
	default:
		d.log.Warn("response dropped: reply channel full",
			slog.String("id", ins.ID))
	}
}

// submit queues an outgoing event after APPLIED. Fire-and-forget; the
// outbound worker owns delivery.
func (d *Dispatcher) submit(ev event.Event) {
	if d.outbound == nil {
		return
	}
	select {
	case d.outbound <- ev:
	default:
		d.log.Warn("outbound queue full, event dropped",
			slog.Uint64("seq", ev.GetSeq()), slog.String("type", ev.GetType().String()))
	}
}

// now returns the instruction timestamp, falling back to wall clock.
func (d *Dispatcher) now(ins domain.Instruction) time.Time {
	if ins.Timestamp.IsZero() {
		return time.Now()
	}
	return ins.Timestamp
}

// DumpState writes the internal state to a file for post-mortem.
func (d *Dispatcher) DumpState(filename string) {
	d.log.Info("dumping internal state", slog.String("file", filename))

	data := struct {
		NextSeq    uint64      `json:"next_seq"`
		Balances   interface{} `json:"balances"`
		OpenOrders int         `json:"open_orders"`
	}{
		NextSeq:    d.sequencer.Current() + 1,
		Balances:   d.ledger.Snapshot(),
		OpenOrders: d.books.OpenOrders(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		d.log.Error("failed to marshal state", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(filename, b, 0644); err != nil {
		d.log.Error("failed to write state dump", slog.Any("error", err))
	}
}
