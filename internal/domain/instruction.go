package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies an instruction type. The set is closed; the dispatcher
// rejects anything else without crashing the loop.
type Kind uint8

const (
	KindCashOperation Kind = iota + 1
	KindBalanceUpdate
	KindLimitOrder
	KindLimitOrderCancel
	KindMultiLimitOrderCancel
)

func (k Kind) String() string {
	switch k {
	case KindCashOperation:
		return "CASH_OPERATION"
	case KindBalanceUpdate:
		return "BALANCE_UPDATE"
	case KindLimitOrder:
		return "LIMIT_ORDER"
	case KindLimitOrderCancel:
		return "LIMIT_ORDER_CANCEL"
	case KindMultiLimitOrderCancel:
		return "MULTI_LIMIT_ORDER_CANCEL"
	default:
		return "UNKNOWN"
	}
}

// Status codes reported back to the instruction originator.
type Status int

const (
	StatusOK               Status = 0
	StatusLowBalance       Status = 401
	StatusAlreadyProcessed Status = 402
	StatusDisabledAsset    Status = 403
	StatusUnknownAsset     Status = 410
	StatusNotEnoughFunds   Status = 412
	StatusOrderNotFound    Status = 415
	StatusTooSmallVolume   Status = 418
	StatusInvalidFee       Status = 419
	StatusInvalidPrice     Status = 420
	StatusDuplicate        Status = 430
	StatusRuntime          Status = 500
)

// Instruction is one inbound message pulled from the queue. Fields beyond
// Kind/ID/ClientID are populated depending on the kind.
type Instruction struct {
	Kind       Kind
	ID         string // message id
	BusinessID string // caller-supplied idempotency key (cash operations)
	ClientID   string

	AssetID    string          // cash operation / balance update
	Amount     decimal.Decimal // signed delta, or absolute balance for updates
	Instrument string          // order instructions
	Side       Side
	Price      decimal.Decimal
	Volume     decimal.Decimal
	OrderID    string // cancel

	Timestamp time.Time

	// Reply receives exactly one response per instruction. Must be
	// buffered by the originator; a full channel drops the response.
	Reply chan<- Response
}

// Response is the per-instruction result delivered to the originator.
type Response struct {
	MessageID string `json:"message_id"`
	Status    Status `json:"status"`
	Reason    string `json:"reason,omitempty"`
	RecordID  string `json:"record_id,omitempty"` // cash operations / order ids
	Sequence  uint64 `json:"sequence,omitempty"`
}
