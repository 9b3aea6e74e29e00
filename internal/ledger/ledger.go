// Package ledger owns the client balance state. All mutation goes through
// the single-writer dispatch loop; the ledger itself assumes no
// concurrent access.
package ledger

import (
	"fmt"
	"time"

	"matching_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Ledger maps clients to per-asset balances and keeps the in-memory dedup
// index of processed business ids.
type Ledger struct {
	wallets   map[string]*domain.Wallet
	processed map[string]domain.ProcessedMessage // clientID|businessID
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		wallets:   make(map[string]*domain.Wallet),
		processed: make(map[string]domain.ProcessedMessage),
	}
}

// Balance returns the committed balance for a (client, asset) pair.
// Unknown pairs are zero, not an error.
func (l *Ledger) Balance(clientID, assetID string) decimal.Decimal {
	w, ok := l.wallets[clientID]
	if !ok {
		return decimal.Zero
	}
	return w.Balance(assetID)
}

// CheckProcessed looks up a prior committed result for a business id.
func (l *Ledger) CheckProcessed(clientID, businessID string) (domain.ProcessedMessage, bool) {
	if businessID == "" {
		return domain.ProcessedMessage{}, false
	}
	pm, ok := l.processed[dedupKey(clientID, businessID)]
	return pm, ok
}

// RememberProcessed records a committed instruction in the dedup index.
func (l *Ledger) RememberProcessed(pm domain.ProcessedMessage) {
	if pm.BusinessID == "" {
		return
	}
	l.processed[dedupKey(pm.ClientID, pm.BusinessID)] = pm
}

// PruneProcessed drops dedup records older than the given bound. This
// narrows dedup coverage only; correctness of committed state is not
// affected.
func (l *Ledger) PruneProcessed(before time.Time) int {
	n := 0
	for k, pm := range l.processed {
		if pm.Timestamp.Before(before) {
			delete(l.processed, k)
			n++
		}
	}
	return n
}

// SeedWallet installs a recovered balance without going through the
// pre-process/apply cycle. Recovery only.
func (l *Ledger) SeedWallet(clientID, assetID string, balance decimal.Decimal) {
	w, ok := l.wallets[clientID]
	if !ok {
		w = domain.NewWallet(clientID)
		l.wallets[clientID] = w
	}
	w.Balances[assetID] = balance
}

// NewProcessor starts a pre-commit/apply cycle over this ledger.
func (l *Ledger) NewProcessor() *Processor {
	return &Processor{
		ledger:  l,
		pending: make(map[string]map[string]decimal.Decimal),
	}
}

func dedupKey(clientID, businessID string) string {
	return clientID + "|" + businessID
}

// Processor computes resulting balances for a set of wallet operations
// without committing them. Apply publishes the pending state into the
// live ledger and must only be called after the persistence coordinator
// confirmed the durable write. Dropping the processor without Apply is
// the rollback path: no live state was touched.
type Processor struct {
	ledger  *Ledger
	pending map[string]map[string]decimal.Decimal // client -> asset -> new balance
}

// PreProcess validates and stages the given operations. A resulting
// negative balance rejects the whole batch with the low-balance status.
func (p *Processor) PreProcess(ops []domain.WalletOperation) error {
	for _, op := range ops {
		current := p.pendingBalance(op.ClientID, op.AssetID)
		next := current.Add(op.Amount)
		if next.IsNegative() {
			return domain.Reject(domain.StatusLowBalance,
				fmt.Sprintf("client %s asset %s: balance %s, delta %s",
					op.ClientID, op.AssetID, current, op.Amount))
		}
		p.stage(op.ClientID, op.AssetID, next)
	}
	return nil
}

// PreProcessSet stages an authoritative balance value (balance update
// instruction), bypassing the delta arithmetic.
func (p *Processor) PreProcessSet(clientID, assetID string, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return domain.Reject(domain.StatusLowBalance,
			fmt.Sprintf("client %s asset %s: negative balance %s", clientID, assetID, balance))
	}
	p.stage(clientID, assetID, balance)
	return nil
}

// WalletRows returns the staged balances as persistence rows for the
// commit bundle.
func (p *Processor) WalletRows() []domain.WalletRow {
	now := time.Now()
	rows := make([]domain.WalletRow, 0, len(p.pending))
	for clientID, assets := range p.pending {
		for assetID, balance := range assets {
			rows = append(rows, domain.WalletRow{
				ClientID:  clientID,
				AssetID:   assetID,
				Balance:   balance,
				UpdatedAt: now,
			})
		}
	}
	return rows
}

// Apply publishes the staged balances into the live ledger.
func (p *Processor) Apply() {
	for clientID, assets := range p.pending {
		w, ok := p.ledger.wallets[clientID]
		if !ok {
			w = domain.NewWallet(clientID)
			p.ledger.wallets[clientID] = w
		}
		for assetID, balance := range assets {
			w.Balances[assetID] = balance
		}
	}
	p.pending = make(map[string]map[string]decimal.Decimal)
}

// pendingBalance reads through to the committed balance for anything not
// yet staged in this processor.
func (p *Processor) pendingBalance(clientID, assetID string) decimal.Decimal {
	if assets, ok := p.pending[clientID]; ok {
		if b, ok := assets[assetID]; ok {
			return b
		}
	}
	return p.ledger.Balance(clientID, assetID)
}

func (p *Processor) stage(clientID, assetID string, balance decimal.Decimal) {
	assets, ok := p.pending[clientID]
	if !ok {
		assets = make(map[string]decimal.Decimal)
		p.pending[clientID] = assets
	}
	assets[assetID] = balance
}

// Snapshot returns a copy of all committed balances, for state dumps and
// read-only consumers.
func (l *Ledger) Snapshot() map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal, len(l.wallets))
	for clientID, w := range l.wallets {
		assets := make(map[string]decimal.Decimal, len(w.Balances))
		for assetID, b := range w.Balances {
			assets[assetID] = b
		}
		out[clientID] = assets
	}
	return out
}
