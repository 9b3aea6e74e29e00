package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds per-asset balances for a single client.
// Created on first touch, never deleted. Mutated only by the ledger
// under the single-writer dispatch loop.
type Wallet struct {
	ClientID string                     `json:"client_id"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

// NewWallet creates an empty wallet for a client.
func NewWallet(clientID string) *Wallet {
	return &Wallet{
		ClientID: clientID,
		Balances: make(map[string]decimal.Decimal),
	}
}

// Balance returns the balance for an asset. Absence means zero, not an error.
func (w *Wallet) Balance(assetID string) decimal.Decimal {
	return w.Balances[assetID]
}

// WalletOperation is an immutable signed balance delta produced by a
// handler and consumed by the ledger. It is never persisted standalone,
// only as part of a commit bundle.
type WalletOperation struct {
	RecordID   string          `json:"record_id"` // matching-engine operation id
	ClientID   string          `json:"client_id"`
	AssetID    string          `json:"asset_id"`
	Amount     decimal.Decimal `json:"amount"` // signed delta
	BusinessID string          `json:"business_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ProcessedMessage is the dedup record written with every committed
// instruction. A repeated (client, business id) pair returns the prior
// result instead of re-applying.
type ProcessedMessage struct {
	MessageID  string    `json:"message_id"`
	ClientID   string    `json:"client_id"`
	BusinessID string    `json:"business_id,omitempty"`
	RecordID   string    `json:"record_id"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
}
