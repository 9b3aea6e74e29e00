package engine

import (
	"log/slog"

	"matching_go/internal/domain"
	"matching_go/internal/infra"
)

// Sequencer hands out the process-wide sequence numbers: strictly
// increasing, never reused. Monotonicity is guaranteed, density is not.
// A number consumed by an instruction whose durable write failed is
// simply skipped.
type Sequencer struct {
	next uint64
}

// NewSequencer resumes counting after the last persisted value.
func NewSequencer(lastPersisted uint64) *Sequencer {
	return &Sequencer{next: lastPersisted + 1}
}

// Next returns a fresh sequence number.
func (s *Sequencer) Next() uint64 {
	v := s.next
	s.next++
	return v
}

// Current returns the last value handed out.
func (s *Sequencer) Current() uint64 {
	return s.next - 1
}

// DurableStore is the boundary to the durable backend. Commit must be
// atomic over the whole bundle and idempotent under retry for a given
// sequence number.
type DurableStore interface {
	Commit(b *domain.PersistenceBundle) error
}

// Coordinator gates every state transition on the durable write. Handlers
// pre-apply in memory, hand the resulting bundle here, and only make
// their mutations visible after Commit returns nil.
type Coordinator struct {
	store DurableStore
	log   *slog.Logger
}

// NewCoordinator wires the coordinator to a store. A nil store disables
// durability (tests, dry runs); every commit then succeeds immediately.
func NewCoordinator(store DurableStore, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: store, log: log}
}

// Commit performs the atomic durable write for one instruction. Bundles
// carrying nothing beyond the sequence number are not written.
func (c *Coordinator) Commit(b *domain.PersistenceBundle) error {
	if c.store == nil || b.IsEmpty() {
		return nil
	}
	if err := c.store.Commit(b); err != nil {
		infra.GlobalMetrics.RecordCommitFailure()
		c.log.Error("durable write failed",
			slog.Uint64("seq", b.Sequence), slog.Any("error", err))
		return &domain.PersistenceError{Err: err}
	}
	return nil
}
