package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order in the book.
type Side int8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

const (
	OrderStatusActive    = "ACTIVE"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusFilled    = "FILLED"
)

// Order is a resting limit order. Identity is immutable once created;
// remaining volume and status are the only mutable fields, and only the
// order book engine mutates them.
type Order struct {
	ID         string          `json:"id"`
	ClientID   string          `json:"client_id"`
	Instrument string          `json:"instrument"`
	Side       Side            `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"` // remaining volume
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}
