// Package event defines the outgoing events submitted after an
// instruction reaches the APPLIED state. Submission is fire-and-forget;
// delivery guarantees belong to the publisher.
package event

import (
	"time"

	"matching_go/internal/book"
	"matching_go/internal/domain"

	"github.com/shopspring/decimal"
)

// Type defines the type of event.
type Type uint16

const (
	EvWalletChanged Type = iota + 1
	EvOrderPlaced
	EvOrderCancelled
	EvBookSnapshot
)

func (t Type) String() string {
	switch t {
	case EvWalletChanged:
		return "WALLET_CHANGED"
	case EvOrderPlaced:
		return "ORDER_PLACED"
	case EvOrderCancelled:
		return "ORDER_CANCELLED"
	case EvBookSnapshot:
		return "BOOK_SNAPSHOT"
	default:
		return "UNKNOWN"
	}
}

// Event is the interface for all outgoing events.
type Event interface {
	GetSeq() uint64
	GetTs() time.Time
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64    `json:"seq"`
	Ts  time.Time `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64   { return e.Seq }
func (e BaseEvent) GetTs() time.Time { return e.Ts }

// WalletChangedEvent describes one committed balance change.
type WalletChangedEvent struct {
	BaseEvent
	ClientID string          `json:"client_id"`
	AssetID  string          `json:"asset_id"`
	Amount   decimal.Decimal `json:"amount"`
	Balance  decimal.Decimal `json:"balance"`
	RecordID string          `json:"record_id"`
}

func (e WalletChangedEvent) GetType() Type { return EvWalletChanged }

// OrderPlacedEvent describes a committed order insertion.
type OrderPlacedEvent struct {
	BaseEvent
	Order domain.Order `json:"order"`
}

func (e OrderPlacedEvent) GetType() Type { return EvOrderPlaced }

// OrderCancelledEvent describes one or many committed cancellations.
type OrderCancelledEvent struct {
	BaseEvent
	Orders []domain.Order `json:"orders"`
}

func (e OrderCancelledEvent) GetType() Type { return EvOrderCancelled }

// BookSnapshotEvent carries an immutable order book copy for fan-out.
type BookSnapshotEvent struct {
	BaseEvent
	Snapshot book.Snapshot `json:"snapshot"`
}

func (e BookSnapshotEvent) GetType() Type { return EvBookSnapshot }
