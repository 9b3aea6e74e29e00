package engine

import (
	"fmt"
	"log/slog"
	"time"

	"matching_go/internal/domain"
	"matching_go/internal/event"
	"matching_go/internal/infra"

	"github.com/google/uuid"
)

// handleCashOperation applies a signed balance delta with exactly-once
// semantics: a repeated (client, business id) pair returns the prior
// committed result instead of re-applying the delta.
func (d *Dispatcher) handleCashOperation(ins domain.Instruction) {
	now := d.now(ins)

	d.log.Debug("processing cash operation",
		slog.String("id", ins.ID), slog.String("client", ins.ClientID),
		slog.String("asset", ins.AssetID), slog.String("amount", ins.Amount.String()))

	// Dedup first: a retry of a committed instruction gets the prior
	// result no matter what validation would say about it today.
	if prior, ok := d.ledger.CheckProcessed(ins.ClientID, ins.BusinessID); ok {
		d.log.Debug("cash operation already processed",
			slog.String("business_id", ins.BusinessID), slog.String("record", prior.RecordID))
		d.reply(ins, domain.Response{
			MessageID: ins.ID,
			Status:    domain.StatusOK,
			RecordID:  prior.RecordID,
			Sequence:  prior.Sequence,
		})
		return
	}

	if err := d.validateAsset(ins.AssetID); err != nil {
		d.rejectWith(ins, err)
		return
	}

	op := domain.WalletOperation{
		RecordID:   uuid.NewString(),
		ClientID:   ins.ClientID,
		AssetID:    ins.AssetID,
		Amount:     ins.Amount,
		BusinessID: ins.BusinessID,
		Timestamp:  now,
	}

	proc := d.ledger.NewProcessor()
	if err := proc.PreProcess([]domain.WalletOperation{op}); err != nil {
		d.rejectWith(ins, err)
		return
	}

	seq := d.sequencer.Next()
	pm := domain.ProcessedMessage{
		MessageID:  ins.ID,
		ClientID:   ins.ClientID,
		BusinessID: ins.BusinessID,
		RecordID:   op.RecordID,
		Sequence:   seq,
		Timestamp:  now,
	}
	bundle := &domain.PersistenceBundle{
		Sequence:  seq,
		Wallets:   proc.WalletRows(),
		Processed: processedRow(pm),
	}
	if err := d.coordinator.Commit(bundle); err != nil {
		d.reply(ins, domain.Response{
			MessageID: ins.ID,
			Status:    domain.StatusRuntime,
			Reason:    "unable to save balance",
		})
		return
	}

	proc.Apply()
	d.ledger.RememberProcessed(pm)

	ev := event.AcquireWalletChangedEvent()
	ev.Seq = seq
	ev.Ts = now
	ev.ClientID = ins.ClientID
	ev.AssetID = ins.AssetID
	ev.Amount = ins.Amount
	ev.Balance = d.ledger.Balance(ins.ClientID, ins.AssetID)
	ev.RecordID = op.RecordID
	d.submit(ev)

	d.reply(ins, domain.Response{
		MessageID: ins.ID,
		Status:    domain.StatusOK,
		RecordID:  op.RecordID,
		Sequence:  seq,
	})

	d.log.Info("cash operation processed",
		slog.String("id", ins.ID), slog.String("client", ins.ClientID),
		slog.String("asset", ins.AssetID), slog.Uint64("seq", seq))
}

// handleBalanceUpdate sets an authoritative absolute balance.
func (d *Dispatcher) handleBalanceUpdate(ins domain.Instruction) {
	now := d.now(ins)

	if err := d.validateAsset(ins.AssetID); err != nil {
		d.rejectWith(ins, err)
		return
	}

	old := d.ledger.Balance(ins.ClientID, ins.AssetID)

	proc := d.ledger.NewProcessor()
	if err := proc.PreProcessSet(ins.ClientID, ins.AssetID, ins.Amount); err != nil {
		d.rejectWith(ins, err)
		return
	}

	seq := d.sequencer.Next()
	bundle := &domain.PersistenceBundle{
		Sequence: seq,
		Wallets:  proc.WalletRows(),
		Processed: processedRow(domain.ProcessedMessage{
			MessageID: ins.ID, ClientID: ins.ClientID, Sequence: seq, Timestamp: now,
		}),
	}
	if err := d.coordinator.Commit(bundle); err != nil {
		d.reply(ins, domain.Response{
			MessageID: ins.ID, Status: domain.StatusRuntime, Reason: "unable to save balance",
		})
		return
	}

	proc.Apply()

	ev := event.AcquireWalletChangedEvent()
	ev.Seq = seq
	ev.Ts = now
	ev.ClientID = ins.ClientID
	ev.AssetID = ins.AssetID
	ev.Amount = ins.Amount.Sub(old)
	ev.Balance = ins.Amount
	d.submit(ev)

	d.reply(ins, domain.Response{MessageID: ins.ID, Status: domain.StatusOK, Sequence: seq})

	d.log.Info("balance update processed",
		slog.String("client", ins.ClientID), slog.String("asset", ins.AssetID),
		slog.String("balance", ins.Amount.String()), slog.Uint64("seq", seq))
}

// handleLimitOrder validates and rests a new limit order. The live book
// is touched only after the durable write succeeded, so a failed write
// leaves the book bit-identical.
func (d *Dispatcher) handleLimitOrder(ins domain.Instruction) {
	now := d.now(ins)

	pair, err := d.validateOrder(ins)
	if err != nil {
		d.rejectWith(ins, err)
		return
	}

	orderID := ins.OrderID
	if orderID == "" {
		orderID = uuid.NewString()
	}
	order := &domain.Order{
		ID:         orderID,
		ClientID:   ins.ClientID,
		Instrument: ins.Instrument,
		Side:       ins.Side,
		Price:      ins.Price,
		Volume:     ins.Volume,
		Status:     domain.OrderStatusActive,
		CreatedAt:  now,
	}

	seq := d.sequencer.Next()
	bundle := &domain.PersistenceBundle{
		Sequence:     seq,
		OrdersToSave: []domain.OrderRow{domain.OrderToRow(order)},
		Processed: processedRow(domain.ProcessedMessage{
			MessageID: ins.ID, ClientID: ins.ClientID,
			RecordID: order.ID, Sequence: seq, Timestamp: now,
		}),
	}
	if err := d.coordinator.Commit(bundle); err != nil {
		d.reply(ins, domain.Response{
			MessageID: ins.ID, Status: domain.StatusRuntime, Reason: "unable to save order",
		})
		return
	}

	d.books.Insert(order)
	d.observeMidPrice(pair, now)

	d.submit(event.OrderPlacedEvent{
		BaseEvent: event.BaseEvent{Seq: seq, Ts: now},
		Order:     *order,
	})
	d.publishSnapshot(ins.Instrument, seq, now)

	d.reply(ins, domain.Response{
		MessageID: ins.ID, Status: domain.StatusOK, RecordID: order.ID, Sequence: seq,
	})

	d.log.Info("limit order placed",
		slog.String("order", order.ID), slog.String("client", ins.ClientID),
		slog.String("instrument", ins.Instrument), slog.String("side", ins.Side.String()),
		slog.Uint64("seq", seq))
}

// handleLimitOrderCancel removes one resting order. Cancelling an
// unknown or already-removed order reports not-found without failing
// the loop.
func (d *Dispatcher) handleLimitOrderCancel(ins domain.Instruction) {
	now := d.now(ins)

	order, ok := d.books.Lookup(ins.OrderID)
	if !ok {
		d.rejectWith(ins, domain.Reject(domain.StatusOrderNotFound,
			fmt.Sprintf("order %s not found", ins.OrderID)))
		return
	}

	seq := d.sequencer.Next()
	bundle := &domain.PersistenceBundle{
		Sequence:       seq,
		OrdersToRemove: []string{order.ID},
		Processed: processedRow(domain.ProcessedMessage{
			MessageID: ins.ID, ClientID: ins.ClientID,
			RecordID: order.ID, Sequence: seq, Timestamp: now,
		}),
	}
	if err := d.coordinator.Commit(bundle); err != nil {
		d.reply(ins, domain.Response{
			MessageID: ins.ID, Status: domain.StatusRuntime, Reason: "unable to remove order",
		})
		return
	}

	cancelled, _ := d.books.Cancel(order.ID)
	if pair, ok := d.instruments[order.Instrument]; ok {
		d.observeMidPrice(pair, now)
	}

	d.submit(event.OrderCancelledEvent{
		BaseEvent: event.BaseEvent{Seq: seq, Ts: now},
		Orders:    []domain.Order{*cancelled},
	})
	d.publishSnapshot(order.Instrument, seq, now)

	d.reply(ins, domain.Response{
		MessageID: ins.ID, Status: domain.StatusOK, RecordID: order.ID, Sequence: seq,
	})
}

// handleMultiLimitOrderCancel removes every resting order of a client on
// one side of an instrument. All removals land in one bundle, and the
// published snapshot reflects the fully-cancelled book exactly once.
func (d *Dispatcher) handleMultiLimitOrderCancel(ins domain.Instruction) {
	now := d.now(ins)

	d.log.Debug("multi limit order cancel",
		slog.String("id", ins.ID), slog.String("client", ins.ClientID),
		slog.String("instrument", ins.Instrument), slog.String("side", ins.Side.String()))

	toCancel := d.books.Book(ins.Instrument).OrdersFor(ins.ClientID, ins.Side)
	if len(toCancel) == 0 {
		d.reply(ins, domain.Response{MessageID: ins.ID, Status: domain.StatusOK})
		return
	}

	ids := make([]string, len(toCancel))
	for i, o := range toCancel {
		ids[i] = o.ID
	}

	seq := d.sequencer.Next()
	bundle := &domain.PersistenceBundle{
		Sequence:       seq,
		OrdersToRemove: ids,
		Processed: processedRow(domain.ProcessedMessage{
			MessageID: ins.ID, ClientID: ins.ClientID, Sequence: seq, Timestamp: now,
		}),
	}
	if err := d.coordinator.Commit(bundle); err != nil {
		d.reply(ins, domain.Response{
			MessageID: ins.ID, Status: domain.StatusRuntime, Reason: "unable to remove orders",
		})
		return
	}

	cancelled := d.books.CancelAll(ins.ClientID, ins.Instrument, ins.Side)
	if pair, ok := d.instruments[ins.Instrument]; ok {
		d.observeMidPrice(pair, now)
	}

	orders := make([]domain.Order, len(cancelled))
	for i, o := range cancelled {
		orders[i] = *o
	}
	d.submit(event.OrderCancelledEvent{
		BaseEvent: event.BaseEvent{Seq: seq, Ts: now},
		Orders:    orders,
	})
	d.publishSnapshot(ins.Instrument, seq, now)

	d.reply(ins, domain.Response{MessageID: ins.ID, Status: domain.StatusOK, Sequence: seq})

	d.log.Info("multi limit order cancel processed",
		slog.String("client", ins.ClientID), slog.String("instrument", ins.Instrument),
		slog.Int("cancelled", len(cancelled)), slog.Uint64("seq", seq))
}

// validateAsset checks the asset exists and accepts operations.
func (d *Dispatcher) validateAsset(assetID string) error {
	asset, ok := d.assets[assetID]
	if !ok {
		return domain.Reject(domain.StatusUnknownAsset, fmt.Sprintf("unknown asset %s", assetID))
	}
	if !asset.Enabled {
		return domain.Reject(domain.StatusDisabledAsset, fmt.Sprintf("asset %s is disabled", assetID))
	}
	return nil
}

// validateOrder runs the business checks for a new limit order.
func (d *Dispatcher) validateOrder(ins domain.Instruction) (*domain.AssetPair, error) {
	pair, ok := d.instruments[ins.Instrument]
	if !ok {
		return nil, domain.Reject(domain.StatusUnknownAsset,
			fmt.Sprintf("unknown instrument %s", ins.Instrument))
	}
	if !ins.Price.IsPositive() {
		return nil, domain.Reject(domain.StatusInvalidPrice,
			fmt.Sprintf("price %s must be positive", ins.Price))
	}
	if !ins.Volume.IsPositive() || ins.Volume.LessThan(pair.MinVolume) {
		return nil, domain.Reject(domain.StatusTooSmallVolume,
			fmt.Sprintf("volume %s below minimum %s", ins.Volume, pair.MinVolume))
	}

	// Funds check: buys need quote for the notional, sells need base for
	// the volume. Funds are not reserved; orders do not cross here.
	if ins.Side == domain.Buy {
		need := ins.Price.Mul(ins.Volume)
		if d.ledger.Balance(ins.ClientID, pair.Quote).LessThan(need) {
			return nil, domain.Reject(domain.StatusNotEnoughFunds,
				fmt.Sprintf("client %s needs %s %s", ins.ClientID, need, pair.Quote))
		}
	} else {
		if d.ledger.Balance(ins.ClientID, pair.Base).LessThan(ins.Volume) {
			return nil, domain.Reject(domain.StatusNotEnoughFunds,
				fmt.Sprintf("client %s needs %s %s", ins.ClientID, ins.Volume, pair.Base))
		}
	}
	return pair, nil
}

// rejectWith turns a validation error into the originator's response.
func (d *Dispatcher) rejectWith(ins domain.Instruction, err error) {
	infra.GlobalMetrics.RecordRejection()
	status := domain.StatusOf(err)
	d.log.Info("instruction rejected",
		slog.String("id", ins.ID), slog.Int("status", int(status)),
		slog.String("reason", err.Error()))
	d.reply(ins, domain.Response{
		MessageID: ins.ID,
		Status:    status,
		Reason:    err.Error(),
	})
}

// observeMidPrice feeds the estimator whenever both sides of a book are
// quoted.
func (d *Dispatcher) observeMidPrice(pair *domain.AssetPair, now time.Time) {
	if mid, ok := d.books.Book(pair.ID).MidPrice(); ok {
		d.midPrices.Add(pair, mid, now)
	}
}

// publishSnapshot submits an immutable copy of the book for fan-out.
func (d *Dispatcher) publishSnapshot(instrument string, seq uint64, now time.Time) {
	d.submit(event.BookSnapshotEvent{
		BaseEvent: event.BaseEvent{Seq: seq, Ts: now},
		Snapshot:  d.books.Snapshot(instrument, now),
	})
}

func processedRow(pm domain.ProcessedMessage) *domain.ProcessedMessageRow {
	return &domain.ProcessedMessageRow{
		MessageID:  pm.MessageID,
		ClientID:   pm.ClientID,
		BusinessID: pm.BusinessID,
		RecordID:   pm.RecordID,
		Sequence:   pm.Sequence,
		Timestamp:  pm.Timestamp,
	}
}
