package app

import (
	"fmt"
	"log/slog"
	"time"

	"matching_go/internal/book"
	"matching_go/internal/domain"
	"matching_go/internal/engine"
	"matching_go/internal/event"
	"matching_go/internal/infra"
	"matching_go/internal/infra/storage"
	"matching_go/internal/ledger"
	"matching_go/internal/midprice"
)

// Bootstrap orchestrates the application startup sequence: config,
// logger, durable store, then state recovery into a ready dispatcher.
type Bootstrap struct {
	Config    *infra.Config
	Store     *storage.Store
	Ledger    *ledger.Ledger
	Books     *book.Engine
	MidPrices *midprice.Holder
	Sequencer *engine.Sequencer
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB).
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping matching core...")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Store = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	return nil
}

// Recover rebuilds the full in-memory state from the durable store. The
// dispatcher must not accept instructions before this returns.
func (b *Bootstrap) Recover() error {
	b.Ledger = ledger.New()
	b.Books = book.NewEngine()
	b.MidPrices = midprice.NewHolder(
		b.Config.MidPriceRetention(), b.Config.Engine.MidPrice.MaxRecalculations)

	wallets, err := b.Store.LoadWallets()
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	for _, w := range wallets {
		b.Ledger.SeedWallet(w.ClientID, w.AssetID, w.Balance)
	}

	// Orders come back in arrival order so price-time priority inside
	// each level is reconstructed exactly.
	orders, err := b.Store.LoadOrders()
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	for _, row := range orders {
		b.Books.Insert(domain.RowToOrder(row))
	}

	// Samples are not persisted, so the window cannot survive a restart.
	// Seed each instrument from its recovered book instead: the current
	// mid is the best available estimate until fresh samples arrive.
	now := time.Now()
	for id, pair := range b.Config.InstrumentTable() {
		if mid, ok := b.Books.Book(id).MidPrice(); ok {
			b.MidPrices.Add(pair, mid, now)
		}
	}

	processed, err := b.Store.LoadProcessed(time.Now().Add(-b.Config.DedupRetention()))
	if err != nil {
		return fmt.Errorf("load processed messages: %w", err)
	}
	for _, pm := range processed {
		b.Ledger.RememberProcessed(domain.ProcessedMessage{
			MessageID:  pm.MessageID,
			ClientID:   pm.ClientID,
			BusinessID: pm.BusinessID,
			RecordID:   pm.RecordID,
			Sequence:   pm.Sequence,
			Timestamp:  pm.Timestamp,
		})
	}

	last, err := b.Store.LastSequence()
	if err != nil {
		return fmt.Errorf("load last sequence: %w", err)
	}
	b.Sequencer = engine.NewSequencer(last)

	slog.Info("✅ State recovered",
		slog.Int("wallets", len(wallets)),
		slog.Int("orders", len(orders)),
		slog.Int("dedup_records", len(processed)),
		slog.Uint64("last_sequence", last))
	return nil
}

// BuildDispatcher assembles the dispatcher from the recovered state.
func (b *Bootstrap) BuildDispatcher(outbound chan<- event.Event, log *slog.Logger) *engine.Dispatcher {
	return engine.NewDispatcher(b.Config.Engine.InboxSize, engine.Deps{
		Ledger:         b.Ledger,
		Books:          b.Books,
		MidPrices:      b.MidPrices,
		Sequencer:      b.Sequencer,
		Coordinator:    engine.NewCoordinator(b.Store, log),
		Assets:         b.Config.AssetTable(),
		Instruments:    b.Config.InstrumentTable(),
		Outbound:       outbound,
		DedupRetention: b.Config.DedupRetention(),
		Logger:         log,
	})
}
