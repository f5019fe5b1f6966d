// Package reconcile guards the claim path: before a payout is allowed, the
// position's cached claimed flag is verified against the ledger directly,
// with the ledger always winning.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/plp-labs/marketsync/internal/codec"
	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/observability"
)

const defaultLockTTL = 10 * time.Second

// Reconciler performs claim-eligibility verification. Concurrent checks
// for the same position collapse through singleflight in-process and,
// when a lock manager is configured, through a distributed lock across
// replicas.
type Reconciler struct {
	gateway   domain.LedgerGateway
	positions domain.PositionProjectionStore
	locks     domain.LockManager // optional
	metrics   *observability.Metrics
	logger    *slog.Logger
	lockTTL   time.Duration

	group singleflight.Group
}

// New creates a Reconciler. locks may be nil for single-replica
// deployments.
func New(
	gateway domain.LedgerGateway,
	positions domain.PositionProjectionStore,
	locks domain.LockManager,
	metrics *observability.Metrics,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		gateway:   gateway,
		positions: positions,
		locks:     locks,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "reconciler")),
		lockTTL:   defaultLockTTL,
	}
}

type checkResult struct {
	eligible bool
	position *domain.PositionProjection
}

// VerifyClaimEligibility decides whether the owner's position on the given
// market may proceed to claim.
//
// The cached claimed flag is trusted when true: it is monotonic, so a true
// value can never be stale in the dangerous direction. When the cache says
// unclaimed, the ledger is read directly and wins:
//
//   - the account is gone: the ledger reclaimed it at payout, so the claim
//     already happened. The projection is marked claimed and closed, and
//     the check returns ineligible without error.
//   - the ledger says claimed while the cache said unclaimed: the cache is
//     corrected, the conflict is logged and counted, and the check returns
//     ineligible without error. Callers see the corrected projection, never
//     the lag.
//   - the ledger is unreachable: fail closed. An eligible claim delayed is
//     recoverable, a double payout is not.
//
// A position never registered with the sync manager returns ErrNotFound.
func (r *Reconciler) VerifyClaimEligibility(ctx context.Context, market, owner domain.Address) (bool, *domain.PositionProjection, error) {
	key := market.String() + ":" + owner.String()

	v, err, _ := r.group.Do(key, func() (any, error) {
		if r.locks != nil {
			unlock, err := r.locks.Acquire(ctx, "claim:"+key, r.lockTTL)
			if err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					return nil, fmt.Errorf("reconcile: claim check for %s already running: %w", key, err)
				}
				// Lock backend down: proceed without it rather than
				// blocking claims entirely. Singleflight still guards
				// this process.
				r.logger.WarnContext(ctx, "lock acquire failed, proceeding unlocked",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
			} else {
				defer unlock()
			}
		}
		return r.check(ctx, market, owner)
	})
	if err != nil {
		return false, nil, err
	}

	res := v.(checkResult)
	return res.eligible, res.position, nil
}

func (r *Reconciler) check(ctx context.Context, market, owner domain.Address) (checkResult, error) {
	cached, err := r.positions.GetByOwner(ctx, market, owner)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.metrics.ReconcileChecks.WithLabelValues(observability.OutcomeNotFound).Inc()
			return checkResult{}, fmt.Errorf("reconcile: no position for %s on %s: %w", owner, market, domain.ErrNotFound)
		}
		return checkResult{}, fmt.Errorf("reconcile: load position for %s on %s: %w", owner, market, err)
	}

	// A true claimed flag is monotonic and therefore always safe to trust.
	if cached.Record.Claimed || cached.AccountClosed {
		r.metrics.ReconcileChecks.WithLabelValues(observability.OutcomeIneligible).Inc()
		return checkResult{position: &cached}, nil
	}

	info, err := r.gateway.GetAccount(ctx, cached.Address)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The ledger closes the position account when the payout is
			// taken, so a missing account means the claim already
			// happened. Record the terminal state; never delete.
			if mErr := r.positions.MarkClaimed(ctx, cached.Address, true); mErr != nil {
				r.logger.ErrorContext(ctx, "failed to record closed position",
					slog.String("position", cached.Address.String()),
					slog.String("error", mErr.Error()),
				)
			}
			r.logger.InfoContext(ctx, "position account closed on ledger, treating as claimed",
				slog.String("position", cached.Address.String()),
			)
			cached.Record.Claimed = true
			cached.AccountClosed = true
			r.metrics.ReconcileChecks.WithLabelValues(observability.OutcomeIneligible).Inc()
			return checkResult{position: &cached}, nil
		}

		// Fail closed on transport trouble.
		r.metrics.ReconcileChecks.WithLabelValues(observability.OutcomeUnavailable).Inc()
		return checkResult{}, fmt.Errorf("reconcile: verify position %s: %w", cached.Address, err)
	}

	rec, err := codec.DecodePosition(info.Data)
	if err != nil {
		r.metrics.ReconcileChecks.WithLabelValues(observability.OutcomeUnavailable).Inc()
		return checkResult{}, fmt.Errorf("reconcile: decode position %s: %w", cached.Address, err)
	}

	fresh := domain.PositionProjection{
		Address:      cached.Address,
		Record:       rec,
		LastSlot:     info.Slot,
		LastSyncedAt: time.Now().UTC(),
		CreatedAt:    cached.CreatedAt,
	}
	if err := r.positions.Upsert(ctx, fresh); err != nil {
		r.logger.WarnContext(ctx, "position refresh persist failed",
			slog.String("position", cached.Address.String()),
			slog.String("error", err.Error()),
		)
	}

	if rec.Claimed {
		// The cache lagged the ledger in the dangerous direction.
		r.metrics.StaleConflicts.Inc()
		r.metrics.ReconcileChecks.WithLabelValues(observability.OutcomeConflict).Inc()
		r.logger.WarnContext(ctx, "cache said unclaimed but ledger says claimed",
			slog.String("position", cached.Address.String()),
			slog.Uint64("cache_slot", cached.LastSlot),
			slog.Uint64("ledger_slot", info.Slot),
		)
		return checkResult{position: &fresh}, nil
	}

	r.metrics.ReconcileChecks.WithLabelValues(observability.OutcomeEligible).Inc()
	return checkResult{eligible: true, position: &fresh}, nil
}
