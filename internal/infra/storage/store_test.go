package storage

import (
	"path/filepath"
	"testing"
	"time"

	"matching_go/internal/domain"

	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CommitAndRecover(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	bundle := &domain.PersistenceBundle{
		Sequence: 1,
		Wallets: []domain.WalletRow{
			{ClientID: "c1", AssetID: "USD", Balance: decimal.NewFromInt(100), UpdatedAt: now},
		},
		OrdersToSave: []domain.OrderRow{
			{ID: "o1", ClientID: "c1", Instrument: "BTCUSD", Side: 0,
				Price: decimal.NewFromInt(10), Volume: decimal.NewFromInt(1),
				Status: domain.OrderStatusActive, CreatedAt: now},
		},
		Processed: &domain.ProcessedMessageRow{
			MessageID: "m1", ClientID: "c1", BusinessID: "b1",
			RecordID: "r1", Sequence: 1, Timestamp: now,
		},
	}
	if err := s.Commit(bundle); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	seq, err := s.LastSequence()
	if err != nil || seq != 1 {
		t.Fatalf("LastSequence = %d, %v; want 1", seq, err)
	}

	wallets, err := s.LoadWallets()
	if err != nil || len(wallets) != 1 {
		t.Fatalf("LoadWallets = %v, %v", wallets, err)
	}
	if !wallets[0].Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("recovered balance = %s, want 100", wallets[0].Balance)
	}

	orders, err := s.LoadOrders()
	if err != nil || len(orders) != 1 || orders[0].ID != "o1" {
		t.Fatalf("LoadOrders = %v, %v", orders, err)
	}

	processed, err := s.LoadProcessed(now.Add(-time.Minute))
	if err != nil || len(processed) != 1 || processed[0].BusinessID != "b1" {
		t.Fatalf("LoadProcessed = %v, %v", processed, err)
	}
}

func TestStore_ReplaySameSequenceIsNoop(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	bundle := &domain.PersistenceBundle{
		Sequence: 5,
		Wallets: []domain.WalletRow{
			{ClientID: "c1", AssetID: "USD", Balance: decimal.NewFromInt(100), UpdatedAt: now},
		},
	}
	if err := s.Commit(bundle); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}

	// Replaying the same bundle must not double-apply.
	replay := &domain.PersistenceBundle{
		Sequence: 5,
		Wallets: []domain.WalletRow{
			{ClientID: "c1", AssetID: "USD", Balance: decimal.NewFromInt(999), UpdatedAt: now},
		},
	}
	if err := s.Commit(replay); err != nil {
		t.Fatalf("replay Commit should succeed as a no-op: %v", err)
	}

	wallets, _ := s.LoadWallets()
	if len(wallets) != 1 || !wallets[0].Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("replay changed persisted state: %+v", wallets)
	}
}

func TestStore_FailedCommitLeavesNoPartialWrite(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	first := &domain.PersistenceBundle{
		Sequence: 1,
		Processed: &domain.ProcessedMessageRow{
			MessageID: "m1", ClientID: "c1", Timestamp: now,
		},
	}
	if err := s.Commit(first); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	// Duplicate message id violates the primary key; the whole bundle
	// must roll back, including the wallet row before it.
	bad := &domain.PersistenceBundle{
		Sequence: 2,
		Wallets: []domain.WalletRow{
			{ClientID: "c9", AssetID: "USD", Balance: decimal.NewFromInt(1), UpdatedAt: now},
		},
		Processed: &domain.ProcessedMessageRow{
			MessageID: "m1", ClientID: "c1", Timestamp: now,
		},
	}
	if err := s.Commit(bad); err == nil {
		t.Fatal("expected commit failure on duplicate message id")
	}

	wallets, _ := s.LoadWallets()
	if len(wallets) != 0 {
		t.Errorf("partial write leaked from failed bundle: %+v", wallets)
	}
	seq, _ := s.LastSequence()
	if seq != 1 {
		t.Errorf("sequence advanced past a failed bundle: %d", seq)
	}
}

func TestStore_OrderRemoval(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	if err := s.Commit(&domain.PersistenceBundle{
		Sequence: 1,
		OrdersToSave: []domain.OrderRow{
			{ID: "o1", Status: domain.OrderStatusActive, CreatedAt: now,
				Price: decimal.NewFromInt(10), Volume: decimal.NewFromInt(1)},
			{ID: "o2", Status: domain.OrderStatusActive, CreatedAt: now,
				Price: decimal.NewFromInt(11), Volume: decimal.NewFromInt(1)},
		},
	}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := s.Commit(&domain.PersistenceBundle{
		Sequence:       2,
		OrdersToRemove: []string{"o1"},
	}); err != nil {
		t.Fatalf("removal Commit failed: %v", err)
	}

	orders, err := s.LoadOrders()
	if err != nil || len(orders) != 1 || orders[0].ID != "o2" {
		t.Fatalf("LoadOrders after removal = %v, %v", orders, err)
	}
}

func TestStore_PruneProcessed(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	if err := s.Commit(&domain.PersistenceBundle{
		Sequence: 1,
		Processed: &domain.ProcessedMessageRow{
			MessageID: "old", ClientID: "c1", Timestamp: now.Add(-2 * time.Hour),
		},
	}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := s.Commit(&domain.PersistenceBundle{
		Sequence: 2,
		Processed: &domain.ProcessedMessageRow{
			MessageID: "fresh", ClientID: "c1", Timestamp: now,
		},
	}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	n, err := s.PruneProcessed(now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("PruneProcessed = %d, %v; want 1", n, err)
	}

	rows, _ := s.LoadProcessed(time.Time{})
	if len(rows) != 1 || rows[0].MessageID != "fresh" {
		t.Errorf("unexpected rows after prune: %+v", rows)
	}
}
