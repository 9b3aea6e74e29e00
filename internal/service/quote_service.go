// Package service holds the query-side read models. They are fed from
// the outbound event stream and never touch hotpath state directly.
package service

import (
	"context"
	"sort"
	"sync"

	"matching_go/internal/book"
	"matching_go/internal/event"

	"github.com/shopspring/decimal"
)

// QuoteService maintains the latest book snapshots and balances as seen
// by external consumers. It plugs into the outbound worker as a sink, so
// its view is always a committed (possibly slightly stale) one.
type QuoteService struct {
	mu        sync.RWMutex
	snapshots map[string]book.Snapshot
	balances  map[string]map[string]decimal.Decimal
	lastSeq   uint64
}

// NewQuoteService creates an empty read model.
func NewQuoteService() *QuoteService {
	return &QuoteService{
		snapshots: make(map[string]book.Snapshot),
		balances:  make(map[string]map[string]decimal.Decimal),
	}
}

// Publish consumes one committed event. Field values are copied here;
// the event itself may be recycled once this returns.
func (s *QuoteService) Publish(_ context.Context, ev event.Event, _ []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq := ev.GetSeq(); seq > s.lastSeq {
		s.lastSeq = seq
	}

	switch e := ev.(type) {
	case event.BookSnapshotEvent:
		s.snapshots[e.Snapshot.Instrument] = e.Snapshot
	case *event.WalletChangedEvent:
		assets, ok := s.balances[e.ClientID]
		if !ok {
			assets = make(map[string]decimal.Decimal)
			s.balances[e.ClientID] = assets
		}
		assets[e.AssetID] = e.Balance
	}
	return nil
}

// Close implements the sink interface. Nothing to release.
func (s *QuoteService) Close() error {
	return nil
}

// BookSnapshot returns the latest published snapshot for an instrument.
func (s *QuoteService) BookSnapshot(instrument string) (book.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[instrument]
	return snap, ok
}

// Balance returns the last published balance for a (client, asset) pair.
// Unknown pairs are zero.
func (s *QuoteService) Balance(clientID, assetID string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if assets, ok := s.balances[clientID]; ok {
		if b, ok := assets[assetID]; ok {
			return b
		}
	}
	return decimal.Zero
}

// Instruments returns the instruments with a published snapshot, sorted
// for consistent ordering.
func (s *QuoteService) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastSequence returns the highest event sequence seen by this read
// model. Consumers can use it to gauge staleness.
func (s *QuoteService) LastSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}
