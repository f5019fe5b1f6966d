// Package syncer keeps the local projections converged with the ledger: a
// lock-guarded subscription registry, a jittered polling scheduler, and the
// per-market read, decode, derive, persist, notify pipeline.
package syncer

import (
	"sync"

	"github.com/plp-labs/marketsync/internal/domain"
)

// entry is the registry's per-market state.
type entry struct {
	positions map[domain.Address]struct{}
	lastSlot  uint64

	// running guards against overlapping ticks for the same market when a
	// sync outlives the scheduler interval.
	running bool
}

// Registry is the set of markets the sync manager tracks, plus the
// position accounts registered under each. All methods are safe for
// concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[domain.Address]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[domain.Address]*entry)}
}

// Subscribe adds a market. It is idempotent and reports whether the market
// was newly added.
func (r *Registry) Subscribe(market domain.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[market]; ok {
		return false
	}
	r.entries[market] = &entry{positions: make(map[domain.Address]struct{})}
	return true
}

// Unsubscribe removes a market and its registered positions. It reports
// whether the market was present. A sync already in flight for the market
// discards its result when it finds the entry gone.
func (r *Registry) Unsubscribe(market domain.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[market]; !ok {
		return false
	}
	delete(r.entries, market)
	return true
}

// Contains reports whether the market is subscribed.
func (r *Registry) Contains(market domain.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[market]
	return ok
}

// RegisterPosition records a position account under a subscribed market so
// the batch refresh picks it up. It returns ErrNotFound when the market is
// not subscribed.
func (r *Registry) RegisterPosition(market, position domain.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[market]
	if !ok {
		return domain.ErrNotFound
	}
	e.positions[position] = struct{}{}
	return nil
}

// Markets returns a snapshot of the subscribed market addresses.
func (r *Registry) Markets() []domain.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Address, 0, len(r.entries))
	for m := range r.entries {
		out = append(out, m)
	}
	return out
}

// Positions returns a snapshot of the position accounts registered under a
// market.
func (r *Registry) Positions(market domain.Address) []domain.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[market]
	if !ok {
		return nil
	}
	out := make([]domain.Address, 0, len(e.positions))
	for p := range e.positions {
		out = append(out, p)
	}
	return out
}

// Len returns the number of subscribed markets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// LastSlot returns the slot observed on the market's most recent completed
// sync, or zero when unknown.
func (r *Registry) LastSlot(market domain.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[market]; ok {
		return e.lastSlot
	}
	return 0
}

// setLastSlot records the slot of a completed sync. A no-op when the
// market was unsubscribed mid-flight.
func (r *Registry) setLastSlot(market domain.Address, slot uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[market]; ok && slot > e.lastSlot {
		e.lastSlot = slot
	}
}

// tryBegin marks the market's sync as in flight. It returns false when the
// market is not subscribed or a sync is already running for it.
func (r *Registry) tryBegin(market domain.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[market]
	if !ok || e.running {
		return false
	}
	e.running = true
	return true
}

// end clears the in-flight mark set by tryBegin.
func (r *Registry) end(market domain.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[market]; ok {
		e.running = false
	}
}
