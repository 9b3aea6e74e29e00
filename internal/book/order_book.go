// Package book owns the per-instrument order collections. Single-writer
// and deterministic; the dispatch loop is the only mutator.
package book

import (
	"time"

	"matching_go/internal/domain"

	"github.com/shopspring/decimal"
)

// OrderBook holds the resting orders of one instrument: bids descending,
// asks ascending, FIFO within a price level (price-time priority).
type OrderBook struct {
	Instrument string

	bids []*priceLevel // best (highest) first
	asks []*priceLevel // best (lowest) first
	byID map[string]*domain.Order
}

// priceLevel is a FIFO of orders at a single price.
type priceLevel struct {
	price  decimal.Decimal
	orders []*domain.Order
}

func (p *priceLevel) totalVolume() decimal.Decimal {
	total := decimal.Zero
	for _, o := range p.orders {
		total = total.Add(o.Volume)
	}
	return total
}

// NewOrderBook creates an empty book for an instrument.
func NewOrderBook(instrument string) *OrderBook {
	return &OrderBook{
		Instrument: instrument,
		byID:       make(map[string]*domain.Order),
	}
}

// Insert places an order at the end of its price level, creating the
// level at its price-ordered position if needed.
func (b *OrderBook) Insert(o *domain.Order) {
	levels := &b.asks
	better := func(a, p decimal.Decimal) bool { return a.LessThan(p) }
	if o.Side == domain.Buy {
		levels = &b.bids
		better = func(a, p decimal.Decimal) bool { return a.GreaterThan(p) }
	}

	i := 0
	for ; i < len(*levels); i++ {
		lvl := (*levels)[i]
		if lvl.price.Equal(o.Price) {
			lvl.orders = append(lvl.orders, o)
			b.byID[o.ID] = o
			return
		}
		if better(o.Price, lvl.price) {
			break
		}
	}

	lvl := &priceLevel{price: o.Price, orders: []*domain.Order{o}}
	*levels = append(*levels, nil)
	copy((*levels)[i+1:], (*levels)[i:])
	(*levels)[i] = lvl
	b.byID[o.ID] = o
}

// Cancel removes an order by id. Idempotent: a missing id reports
// not-found instead of failing.
func (b *OrderBook) Cancel(orderID string) (*domain.Order, bool) {
	o, ok := b.byID[orderID]
	if !ok {
		return nil, false
	}
	b.remove(o)
	o.Status = domain.OrderStatusCancelled
	return o, true
}

// CancelAll removes every resting order of a client on one side. All
// removals happen before any snapshot is taken, so a snapshot never
// observes a partially-cancelled book.
func (b *OrderBook) CancelAll(clientID string, side domain.Side) []*domain.Order {
	levels := b.asks
	if side == domain.Buy {
		levels = b.bids
	}

	var cancelled []*domain.Order
	for _, lvl := range levels {
		for _, o := range lvl.orders {
			if o.ClientID == clientID {
				cancelled = append(cancelled, o)
			}
		}
	}
	for _, o := range cancelled {
		b.remove(o)
		o.Status = domain.OrderStatusCancelled
	}
	return cancelled
}

// OrdersFor lists a client's resting orders on one side without removing
// them.
func (b *OrderBook) OrdersFor(clientID string, side domain.Side) []*domain.Order {
	levels := b.asks
	if side == domain.Buy {
		levels = b.bids
	}
	var out []*domain.Order
	for _, lvl := range levels {
		for _, o := range lvl.orders {
			if o.ClientID == clientID {
				out = append(out, o)
			}
		}
	}
	return out
}

// Lookup returns a resting order by id.
func (b *OrderBook) Lookup(orderID string) (*domain.Order, bool) {
	o, ok := b.byID[orderID]
	return o, ok
}

// BestBid returns the highest bid price.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.bids) == 0 {
		return decimal.Zero, false
	}
	return b.bids[0].price, true
}

// BestAsk returns the lowest ask price.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.asks) == 0 {
		return decimal.Zero, false
	}
	return b.asks[0].price, true
}

// MidPrice returns the midpoint of best bid and best ask, if both exist.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// Size returns the number of resting orders.
func (b *OrderBook) Size() int {
	return len(b.byID)
}

// WalkBids visits bid orders in priority order (highest price first,
// FIFO within a level). Read-only.
func (b *OrderBook) WalkBids(fn func(*domain.Order) bool) {
	walk(b.bids, fn)
}

// WalkAsks visits ask orders in priority order (lowest price first).
func (b *OrderBook) WalkAsks(fn func(*domain.Order) bool) {
	walk(b.asks, fn)
}

func walk(levels []*priceLevel, fn func(*domain.Order) bool) {
	for _, lvl := range levels {
		for _, o := range lvl.orders {
			if !fn(o) {
				return
			}
		}
	}
}

// Snapshot returns an immutable value copy of the book. Mutating the live
// book afterwards never changes the snapshot's contents.
func (b *OrderBook) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Instrument: b.Instrument,
		Time:       now,
		Bids:       copyLevels(b.bids),
		Asks:       copyLevels(b.asks),
	}
}

func copyLevels(levels []*priceLevel) []LevelSnapshot {
	out := make([]LevelSnapshot, 0, len(levels))
	for _, lvl := range levels {
		ls := LevelSnapshot{
			Price:       lvl.price,
			TotalVolume: lvl.totalVolume(),
			Orders:      make([]domain.Order, len(lvl.orders)),
		}
		for i, o := range lvl.orders {
			ls.Orders[i] = *o
		}
		out = append(out, ls)
	}
	return out
}

func (b *OrderBook) remove(o *domain.Order) {
	levels := &b.asks
	if o.Side == domain.Buy {
		levels = &b.bids
	}
	for i, lvl := range *levels {
		if !lvl.price.Equal(o.Price) {
			continue
		}
		for j, cur := range lvl.orders {
			if cur.ID == o.ID {
				lvl.orders = append(lvl.orders[:j], lvl.orders[j+1:]...)
				break
			}
		}
		if len(lvl.orders) == 0 {
			*levels = append((*levels)[:i], (*levels)[i+1:]...)
		}
		break
	}
	delete(b.byID, o.ID)
}

// Snapshot is a point-in-time copy of a book for external publication.
type Snapshot struct {
	Instrument string          `json:"instrument"`
	Time       time.Time       `json:"time"`
	Bids       []LevelSnapshot `json:"bids"`
	Asks       []LevelSnapshot `json:"asks"`
}

// LevelSnapshot is one price level of a snapshot.
type LevelSnapshot struct {
	Price       decimal.Decimal `json:"price"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	Orders      []domain.Order  `json:"orders"`
}

// ClientOrders counts a client's orders across both sides of a snapshot.
func (s Snapshot) ClientOrders(clientID string) int {
	n := 0
	for _, side := range [][]LevelSnapshot{s.Bids, s.Asks} {
		for _, lvl := range side {
			for _, o := range lvl.Orders {
				if o.ClientID == clientID {
					n++
				}
			}
		}
	}
	return n
}
