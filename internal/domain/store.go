package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketProjectionStore persists market cache records. Upsert is
// last-writer-wins keyed by address: the ledger is the single writer of
// truth, so a local write only ever moves a record toward the ledger's
// current value.
type MarketProjectionStore interface {
	// Upsert writes the projection, including its derived fields and
	// notification markers, as one logical write.
	Upsert(ctx context.Context, p MarketProjection) error
	Get(ctx context.Context, addr Address) (MarketProjection, error)
	ListActive(ctx context.Context, opts ListOpts) ([]MarketProjection, error)
	ListAll(ctx context.Context, opts ListOpts) ([]MarketProjection, error)
	// ListResolvedBefore returns terminal projections whose last sync is
	// older than the cutoff, for cold archival.
	ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]MarketProjection, error)
	Count(ctx context.Context) (int64, error)
}

// PositionProjectionStore persists position cache records.
type PositionProjectionStore interface {
	Upsert(ctx context.Context, p PositionProjection) error
	Get(ctx context.Context, addr Address) (PositionProjection, error)
	// GetByOwner looks a position up by its (market, owner) pair, the key
	// claim-path callers hold.
	GetByOwner(ctx context.Context, market, owner Address) (PositionProjection, error)
	ListByMarket(ctx context.Context, market Address) ([]PositionProjection, error)
	// MarkClaimed sets the claimed flag (and optionally the account-closed
	// marker) on an existing projection. The flag is monotonic; the store
	// never clears it.
	MarkClaimed(ctx context.Context, addr Address, accountClosed bool) error
	// CountHolders returns the number of distinct yes-side and no-side
	// holders for a market, the presentation rollup recomputed each tick.
	CountHolders(ctx context.Context, market Address) (yes int, no int, err error)
}

// TransitionEventStore persists the history of emitted transition events,
// both for operator inspection and for cold archival.
type TransitionEventStore interface {
	Insert(ctx context.Context, ev TransitionEvent) error
	ListByMarket(ctx context.Context, market Address, opts ListOpts) ([]TransitionEvent, error)
	ListBefore(ctx context.Context, cutoff time.Time) ([]TransitionEvent, error)
}
