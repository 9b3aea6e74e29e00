package engine

import (
	"errors"
	"testing"
	"time"

	"matching_go/internal/book"
	"matching_go/internal/domain"
	"matching_go/internal/event"
	"matching_go/internal/ledger"
	"matching_go/internal/midprice"

	"github.com/shopspring/decimal"
)

// fakeStore records committed bundles and can be flipped into failure
// mode to exercise the rollback path.
type fakeStore struct {
	fail    bool
	bundles []*domain.PersistenceBundle
}

func (f *fakeStore) Commit(b *domain.PersistenceBundle) error {
	if f.fail {
		return errors.New("disk gone")
	}
	f.bundles = append(f.bundles, b)
	return nil
}

func newTestDispatcher(store DurableStore) (*Dispatcher, chan event.Event) {
	outbound := make(chan event.Event, 64)
	d := NewDispatcher(16, Deps{
		Ledger:      ledger.New(),
		Books:       book.NewEngine(),
		MidPrices:   midprice.NewHolder(time.Minute, midprice.DefaultMaxRecalculations),
		Sequencer:   NewSequencer(0),
		Coordinator: NewCoordinator(store, nil),
		Assets: map[string]domain.Asset{
			"USD": {ID: "USD", Enabled: true},
			"BTC": {ID: "BTC", Enabled: true},
			"XYZ": {ID: "XYZ", Enabled: false},
		},
		Instruments: map[string]*domain.AssetPair{
			"BTCUSD": {
				ID: "BTCUSD", Base: "BTC", Quote: "USD",
				Accuracy: 2, MinVolume: decimal.RequireFromString("0.01"),
			},
		},
		Outbound: outbound,
	})
	return d, outbound
}

func send(t *testing.T, d *Dispatcher, ins domain.Instruction) domain.Response {
	t.Helper()
	reply := make(chan domain.Response, 1)
	ins.Reply = reply
	d.dispatch(ins)
	select {
	case resp := <-reply:
		return resp
	default:
		t.Fatalf("no response for instruction %s", ins.ID)
		return domain.Response{}
	}
}

func cashOp(id, client, asset, amount, businessID string) domain.Instruction {
	return domain.Instruction{
		Kind:       domain.KindCashOperation,
		ID:         id,
		BusinessID: businessID,
		ClientID:   client,
		AssetID:    asset,
		Amount:     decimal.RequireFromString(amount),
		Timestamp:  time.Now(),
	}
}

func limitOrder(id, client, price, volume string, side domain.Side) domain.Instruction {
	return domain.Instruction{
		Kind:       domain.KindLimitOrder,
		ID:         id,
		ClientID:   client,
		Instrument: "BTCUSD",
		Side:       side,
		Price:      decimal.RequireFromString(price),
		Volume:     decimal.RequireFromString(volume),
		Timestamp:  time.Now(),
	}
}

func TestCashOperation_Deposit(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)

	resp := send(t, d, cashOp("m1", "c1", "USD", "100", "b1"))

	if resp.Status != domain.StatusOK {
		t.Fatalf("status = %d, want OK", resp.Status)
	}
	if resp.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", resp.Sequence)
	}
	if resp.RecordID == "" {
		t.Error("expected a record id")
	}
	if got := d.ledger.Balance("c1", "USD"); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("balance = %s, want 100", got)
	}
	if len(store.bundles) != 1 || len(store.bundles[0].Wallets) != 1 {
		t.Fatalf("expected one bundle with one wallet row, got %+v", store.bundles)
	}
}

func TestCashOperation_DuplicateBusinessID(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)

	first := send(t, d, cashOp("m1", "c1", "USD", "100", "b1"))
	second := send(t, d, cashOp("m2", "c1", "USD", "100", "b1"))

	if second.Status != domain.StatusOK {
		t.Fatalf("duplicate status = %d, want OK", second.Status)
	}
	if second.RecordID != first.RecordID || second.Sequence != first.Sequence {
		t.Errorf("duplicate response (%s, %d) differs from original (%s, %d)",
			second.RecordID, second.Sequence, first.RecordID, first.Sequence)
	}
	if got := d.ledger.Balance("c1", "USD"); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("balance = %s, want 100 (applied once)", got)
	}
	if len(store.bundles) != 1 {
		t.Errorf("expected a single durable write, got %d", len(store.bundles))
	}
}

func TestCashOperation_DuplicateWinsOverAssetValidation(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)

	first := send(t, d, cashOp("m1", "c1", "USD", "100", "b1"))
	if first.Status != domain.StatusOK {
		t.Fatalf("setup status = %d, want OK", first.Status)
	}

	// The asset gets disabled after the commit. A retry of the same
	// (client, business id) must still return the prior result, not a
	// fresh validation verdict.
	d.assets["USD"] = domain.Asset{ID: "USD", Enabled: false}

	retry := send(t, d, cashOp("m2", "c1", "USD", "100", "b1"))
	if retry.Status != domain.StatusOK {
		t.Fatalf("retry status = %d, want OK", retry.Status)
	}
	if retry.RecordID != first.RecordID || retry.Sequence != first.Sequence {
		t.Errorf("retry response (%s, %d) differs from original (%s, %d)",
			retry.RecordID, retry.Sequence, first.RecordID, first.Sequence)
	}
	if len(store.bundles) != 1 {
		t.Errorf("retry must not write, got %d bundles", len(store.bundles))
	}
}

func TestCashOperation_LowBalance(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)

	resp := send(t, d, cashOp("m1", "c1", "USD", "-50", "b1"))

	if resp.Status != domain.StatusLowBalance {
		t.Fatalf("status = %d, want %d", resp.Status, domain.StatusLowBalance)
	}
	if !d.ledger.Balance("c1", "USD").IsZero() {
		t.Error("rejected operation must not touch the balance")
	}
	if len(store.bundles) != 0 {
		t.Error("rejected operation must not reach the store")
	}
	if d.sequencer.Current() != 0 {
		t.Errorf("validation reject consumed sequence %d", d.sequencer.Current())
	}
}

func TestCashOperation_AssetChecks(t *testing.T) {
	d, _ := newTestDispatcher(&fakeStore{})

	if resp := send(t, d, cashOp("m1", "c1", "EUR", "10", "")); resp.Status != domain.StatusUnknownAsset {
		t.Errorf("unknown asset: status = %d, want %d", resp.Status, domain.StatusUnknownAsset)
	}
	if resp := send(t, d, cashOp("m2", "c1", "XYZ", "10", "")); resp.Status != domain.StatusDisabledAsset {
		t.Errorf("disabled asset: status = %d, want %d", resp.Status, domain.StatusDisabledAsset)
	}
}

func TestCashOperation_FailedWriteRollsBack(t *testing.T) {
	store := &fakeStore{fail: true}
	d, _ := newTestDispatcher(store)

	resp := send(t, d, cashOp("m1", "c1", "USD", "100", "b1"))

	if resp.Status != domain.StatusRuntime {
		t.Fatalf("status = %d, want %d", resp.Status, domain.StatusRuntime)
	}
	if !d.ledger.Balance("c1", "USD").IsZero() {
		t.Error("failed write must leave the balance untouched")
	}

	// The same business id must be retryable after the store recovers:
	// a failed write leaves no dedup record behind.
	store.fail = false
	retry := send(t, d, cashOp("m2", "c1", "USD", "100", "b1"))
	if retry.Status != domain.StatusOK {
		t.Fatalf("retry status = %d, want OK", retry.Status)
	}
	if got := d.ledger.Balance("c1", "USD"); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("balance after retry = %s, want 100", got)
	}
	// Sequence 1 was consumed by the failed attempt and skipped.
	if retry.Sequence != 2 {
		t.Errorf("retry sequence = %d, want 2", retry.Sequence)
	}
}

func TestBalanceUpdate_SetsAbsoluteValue(t *testing.T) {
	d, _ := newTestDispatcher(&fakeStore{})
	d.ledger.SeedWallet("c1", "USD", decimal.RequireFromString("40"))

	resp := send(t, d, domain.Instruction{
		Kind:      domain.KindBalanceUpdate,
		ID:        "m1",
		ClientID:  "c1",
		AssetID:   "USD",
		Amount:    decimal.RequireFromString("250"),
		Timestamp: time.Now(),
	})

	if resp.Status != domain.StatusOK {
		t.Fatalf("status = %d, want OK", resp.Status)
	}
	if got := d.ledger.Balance("c1", "USD"); !got.Equal(decimal.RequireFromString("250")) {
		t.Errorf("balance = %s, want 250", got)
	}
}

func TestLimitOrder_PlacedAndPersisted(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)
	d.ledger.SeedWallet("c1", "USD", decimal.RequireFromString("1000"))

	resp := send(t, d, limitOrder("m1", "c1", "100", "0.5", domain.Buy))

	if resp.Status != domain.StatusOK {
		t.Fatalf("status = %d, want OK", resp.Status)
	}
	if d.books.Book("BTCUSD").Size() != 1 {
		t.Error("order should rest in the book")
	}
	if len(store.bundles) != 1 || len(store.bundles[0].OrdersToSave) != 1 {
		t.Fatalf("expected one bundle with one order row, got %+v", store.bundles)
	}
	if _, ok := d.books.Lookup(resp.RecordID); !ok {
		t.Errorf("record id %s should resolve to the resting order", resp.RecordID)
	}
}

func TestLimitOrder_Validation(t *testing.T) {
	d, _ := newTestDispatcher(&fakeStore{})
	d.ledger.SeedWallet("c1", "USD", decimal.RequireFromString("100"))
	d.ledger.SeedWallet("c1", "BTC", decimal.RequireFromString("1"))

	cases := []struct {
		name string
		ins  domain.Instruction
		want domain.Status
	}{
		{"unknown instrument", domain.Instruction{
			Kind: domain.KindLimitOrder, ID: "m1", ClientID: "c1", Instrument: "ETHUSD",
			Price: decimal.RequireFromString("10"), Volume: decimal.RequireFromString("1"),
		}, domain.StatusUnknownAsset},
		{"zero price", limitOrder("m2", "c1", "0", "1", domain.Buy), domain.StatusInvalidPrice},
		{"volume below minimum", limitOrder("m3", "c1", "10", "0.001", domain.Buy), domain.StatusTooSmallVolume},
		{"buy without quote funds", limitOrder("m4", "c1", "100", "2", domain.Buy), domain.StatusNotEnoughFunds},
		{"sell without base funds", limitOrder("m5", "c1", "100", "2", domain.Sell), domain.StatusNotEnoughFunds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := send(t, d, tc.ins); resp.Status != tc.want {
				t.Errorf("status = %d, want %d", resp.Status, tc.want)
			}
		})
	}
	if d.books.Book("BTCUSD").Size() != 0 {
		t.Error("no rejected order may rest in the book")
	}
}

func TestLimitOrder_FailedWriteKeepsBookUntouched(t *testing.T) {
	store := &fakeStore{fail: true}
	d, _ := newTestDispatcher(store)
	d.ledger.SeedWallet("c1", "USD", decimal.RequireFromString("1000"))

	resp := send(t, d, limitOrder("m1", "c1", "100", "0.5", domain.Buy))

	if resp.Status != domain.StatusRuntime {
		t.Fatalf("status = %d, want %d", resp.Status, domain.StatusRuntime)
	}
	if d.books.Book("BTCUSD").Size() != 0 {
		t.Error("failed write must leave the book empty")
	}
}

func TestLimitOrderCancel(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)
	d.ledger.SeedWallet("c1", "USD", decimal.RequireFromString("1000"))

	placed := send(t, d, limitOrder("m1", "c1", "100", "0.5", domain.Buy))
	resp := send(t, d, domain.Instruction{
		Kind:      domain.KindLimitOrderCancel,
		ID:        "m2",
		ClientID:  "c1",
		OrderID:   placed.RecordID,
		Timestamp: time.Now(),
	})

	if resp.Status != domain.StatusOK {
		t.Fatalf("status = %d, want OK", resp.Status)
	}
	if d.books.Book("BTCUSD").Size() != 0 {
		t.Error("cancelled order still resting")
	}
	last := store.bundles[len(store.bundles)-1]
	if len(last.OrdersToRemove) != 1 || last.OrdersToRemove[0] != placed.RecordID {
		t.Errorf("removal bundle = %+v, want [%s]", last.OrdersToRemove, placed.RecordID)
	}

	again := send(t, d, domain.Instruction{
		Kind: domain.KindLimitOrderCancel, ID: "m3", ClientID: "c1", OrderID: placed.RecordID,
	})
	if again.Status != domain.StatusOrderNotFound {
		t.Errorf("second cancel status = %d, want %d", again.Status, domain.StatusOrderNotFound)
	}
}

func TestMultiLimitOrderCancel(t *testing.T) {
	store := &fakeStore{}
	d, outbound := newTestDispatcher(store)
	d.ledger.SeedWallet("c1", "USD", decimal.RequireFromString("10000"))
	d.ledger.SeedWallet("c1", "BTC", decimal.RequireFromString("10"))
	d.ledger.SeedWallet("c2", "USD", decimal.RequireFromString("10000"))

	for i, price := range []string{"100", "101", "102"} {
		send(t, d, limitOrder("b"+string(rune('1'+i)), "c1", price, "0.5", domain.Buy))
	}
	send(t, d, limitOrder("o1", "c2", "99", "0.5", domain.Buy))
	send(t, d, limitOrder("o2", "c1", "110", "0.5", domain.Sell))
	drain(outbound)

	resp := send(t, d, domain.Instruction{
		Kind:       domain.KindMultiLimitOrderCancel,
		ID:         "mc",
		ClientID:   "c1",
		Instrument: "BTCUSD",
		Side:       domain.Buy,
		Timestamp:  time.Now(),
	})

	if resp.Status != domain.StatusOK {
		t.Fatalf("status = %d, want OK", resp.Status)
	}
	if got := d.books.Book("BTCUSD").Size(); got != 2 {
		t.Errorf("remaining orders = %d, want 2 (other client's bid, own ask)", got)
	}
	last := store.bundles[len(store.bundles)-1]
	if len(last.OrdersToRemove) != 3 {
		t.Errorf("removal bundle holds %d ids, want 3", len(last.OrdersToRemove))
	}

	// The published snapshot must reflect the fully-cancelled book.
	snap, ok := lastSnapshot(outbound)
	if !ok {
		t.Fatal("expected a book snapshot event")
	}
	if got := snap.ClientOrders("c1"); got != 1 {
		t.Errorf("snapshot shows %d c1 orders, want 1 (the surviving ask)", got)
	}
}

func TestMultiLimitOrderCancel_NothingToCancel(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)

	resp := send(t, d, domain.Instruction{
		Kind:       domain.KindMultiLimitOrderCancel,
		ID:         "mc",
		ClientID:   "c1",
		Instrument: "BTCUSD",
		Side:       domain.Sell,
	})

	if resp.Status != domain.StatusOK {
		t.Fatalf("status = %d, want OK", resp.Status)
	}
	if len(store.bundles) != 0 {
		t.Error("empty cancellation must not reach the store")
	}
}

func TestDispatch_UnknownKind(t *testing.T) {
	d, _ := newTestDispatcher(&fakeStore{})

	resp := send(t, d, domain.Instruction{Kind: domain.Kind(99), ID: "m1"})

	if resp.Status != domain.StatusRuntime {
		t.Errorf("status = %d, want %d", resp.Status, domain.StatusRuntime)
	}
}

func TestSequence_MonotonicAcrossFailures(t *testing.T) {
	store := &fakeStore{}
	d, _ := newTestDispatcher(store)

	first := send(t, d, cashOp("m1", "c1", "USD", "10", ""))
	store.fail = true
	failed := send(t, d, cashOp("m2", "c1", "USD", "10", ""))
	store.fail = false
	third := send(t, d, cashOp("m3", "c1", "USD", "10", ""))

	if failed.Status != domain.StatusRuntime {
		t.Fatalf("middle instruction should have failed, got %d", failed.Status)
	}
	if first.Sequence != 1 || third.Sequence != 3 {
		t.Errorf("sequences = %d, %d; want 1, 3 (failed write skips its number)",
			first.Sequence, third.Sequence)
	}
	for i := 1; i < len(store.bundles); i++ {
		if store.bundles[i].Sequence <= store.bundles[i-1].Sequence {
			t.Errorf("persisted sequences not increasing: %d then %d",
				store.bundles[i-1].Sequence, store.bundles[i].Sequence)
		}
	}
}

func TestCashOperation_EmitsWalletEvent(t *testing.T) {
	d, outbound := newTestDispatcher(&fakeStore{})

	send(t, d, cashOp("m1", "c1", "USD", "100", "b1"))

	select {
	case ev := <-outbound:
		wc, ok := ev.(*event.WalletChangedEvent)
		if !ok {
			t.Fatalf("first event is %T, want *WalletChangedEvent", ev)
		}
		if wc.ClientID != "c1" || !wc.Balance.Equal(decimal.RequireFromString("100")) {
			t.Errorf("event = %+v", wc)
		}
		if wc.Seq != 1 {
			t.Errorf("event seq = %d, want 1", wc.Seq)
		}
	default:
		t.Fatal("no event published")
	}
}

func drain(ch chan event.Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func lastSnapshot(ch chan event.Event) (book.Snapshot, bool) {
	var snap book.Snapshot
	found := false
	for {
		select {
		case ev := <-ch:
			if s, ok := ev.(event.BookSnapshotEvent); ok {
				snap = s.Snapshot
				found = true
			}
		default:
			return snap, found
		}
	}
}
