package domain

import (
	"context"
	"time"
)

// MarketCache is the hot read-side cache in front of the projection store,
// used by listing and dashboard callers. Values are eventually consistent
// hints; claim-gating decisions never read from here.
type MarketCache interface {
	Set(ctx context.Context, p MarketProjection) error
	Get(ctx context.Context, addr Address) (MarketProjection, error)
	SetListing(ctx context.Context, ps []MarketProjection) error
	GetListing(ctx context.Context) ([]MarketProjection, error)
	Invalidate(ctx context.Context, addr Address) error
}

// LockManager provides distributed locking, used to collapse concurrent
// claim-eligibility checks for the same position across replicas.
type LockManager interface {
	// Acquire obtains the lock or returns ErrLockHeld. The returned unlock
	// function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// TransitionSink receives abstract transition events. Delivery guarantees
// beyond "called at least once per unique transition" are the sink's
// responsibility; the notifier guarantees it will not call a sink twice for
// the same (market, kind) transition across ticks.
type TransitionSink interface {
	Emit(ctx context.Context, ev TransitionEvent) error
	// Name returns a short identifier for logs ("stream", "telegram", ...).
	Name() string
}
