package book

import (
	"time"

	"matching_go/internal/domain"
)

// Engine owns all order books, one per instrument, plus a process-wide
// order id index for cancellation routing.
type Engine struct {
	books map[string]*OrderBook
	byID  map[string]*OrderBook // order id -> owning book
}

// NewEngine creates an empty order book engine.
func NewEngine() *Engine {
	return &Engine{
		books: make(map[string]*OrderBook),
		byID:  make(map[string]*OrderBook),
	}
}

// Book returns the order book for an instrument, creating it on first
// touch.
func (e *Engine) Book(instrument string) *OrderBook {
	b, ok := e.books[instrument]
	if !ok {
		b = NewOrderBook(instrument)
		e.books[instrument] = b
	}
	return b
}

// Insert places an order into its instrument's book.
func (e *Engine) Insert(o *domain.Order) {
	b := e.Book(o.Instrument)
	b.Insert(o)
	e.byID[o.ID] = b
}

// Cancel removes an order by id from whichever book holds it.
// Idempotent: cancelling an unknown or already-removed id reports
// not-found.
func (e *Engine) Cancel(orderID string) (*domain.Order, bool) {
	b, ok := e.byID[orderID]
	if !ok {
		return nil, false
	}
	o, ok := b.Cancel(orderID)
	if ok {
		delete(e.byID, orderID)
	}
	return o, ok
}

// Lookup finds a resting order by id across all books.
func (e *Engine) Lookup(orderID string) (*domain.Order, bool) {
	b, ok := e.byID[orderID]
	if !ok {
		return nil, false
	}
	return b.Lookup(orderID)
}

// CancelAll removes every resting order for a client/instrument/side.
func (e *Engine) CancelAll(clientID, instrument string, side domain.Side) []*domain.Order {
	b := e.Book(instrument)
	cancelled := b.CancelAll(clientID, side)
	for _, o := range cancelled {
		delete(e.byID, o.ID)
	}
	return cancelled
}

// Snapshot returns an immutable copy of one instrument's book.
func (e *Engine) Snapshot(instrument string, now time.Time) Snapshot {
	return e.Book(instrument).Snapshot(now)
}

// OpenOrders returns the number of resting orders across all books.
func (e *Engine) OpenOrders() int {
	return len(e.byID)
}
