package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletRow is the persisted form of one (client, asset) balance.
type WalletRow struct {
	ClientID  string          `gorm:"primaryKey" json:"client_id"`
	AssetID   string          `gorm:"primaryKey" json:"asset_id"`
	Balance   decimal.Decimal `gorm:"type:numeric" json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (WalletRow) TableName() string { return "wallets" }

// OrderRow is the persisted form of a resting order.
type OrderRow struct {
	ID         string          `gorm:"primaryKey" json:"id"`
	ClientID   string          `gorm:"index" json:"client_id"`
	Instrument string          `gorm:"index" json:"instrument"`
	Side       int8            `json:"side"`
	Price      decimal.Decimal `gorm:"type:numeric" json:"price"`
	Volume     decimal.Decimal `gorm:"type:numeric" json:"volume"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (OrderRow) TableName() string { return "orders" }

// ProcessedMessageRow is the persisted dedup record. Rows older than the
// retention horizon may be pruned; that narrows dedup coverage only.
type ProcessedMessageRow struct {
	MessageID  string    `gorm:"primaryKey" json:"message_id"`
	ClientID   string    `json:"client_id"`
	BusinessID string    `gorm:"index:idx_processed_business" json:"business_id"`
	RecordID   string    `json:"record_id"`
	Sequence   uint64    `json:"sequence"`
	Timestamp  time.Time `gorm:"index" json:"timestamp"`
}

func (ProcessedMessageRow) TableName() string { return "processed_messages" }

// SequenceRow stores the last persisted sequence number. Single row.
type SequenceRow struct {
	ID        uint8  `gorm:"primaryKey" json:"id"`
	Value     uint64 `json:"value"`
	UpdatedAt time.Time
}

func (SequenceRow) TableName() string { return "sequence" }

// PersistenceBundle is the atomic unit of durability: either every part
// is written, or none is. In-memory state must not advance past a bundle
// that failed to persist.
type PersistenceBundle struct {
	Sequence       uint64
	Wallets        []WalletRow
	OrdersToSave   []OrderRow
	OrdersToRemove []string // order ids
	Processed      *ProcessedMessageRow
}

// IsEmpty reports whether the bundle would write nothing beyond the
// sequence number.
func (b *PersistenceBundle) IsEmpty() bool {
	return len(b.Wallets) == 0 &&
		len(b.OrdersToSave) == 0 &&
		len(b.OrdersToRemove) == 0 &&
		b.Processed == nil
}

// OrderToRow converts a domain order to its persisted form.
func OrderToRow(o *Order) OrderRow {
	return OrderRow{
		ID:         o.ID,
		ClientID:   o.ClientID,
		Instrument: o.Instrument,
		Side:       int8(o.Side),
		Price:      o.Price,
		Volume:     o.Volume,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt,
	}
}

// RowToOrder converts a persisted order back to the domain form.
func RowToOrder(r OrderRow) *Order {
	return &Order{
		ID:         r.ID,
		ClientID:   r.ClientID,
		Instrument: r.Instrument,
		Side:       Side(r.Side),
		Price:      r.Price,
		Volume:     r.Volume,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
	}
}
