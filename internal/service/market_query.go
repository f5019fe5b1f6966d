// Package service exposes the read side of the projections: listing and
// dashboard queries served redis-first with postgres as the authority.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/observability"
)

const defaultStaleThreshold = 2 * time.Minute

// MarketQuery serves market and position reads. Cache failures are never
// fatal: the store is always consulted on a miss and the cache is
// back-filled best effort.
type MarketQuery struct {
	markets   domain.MarketProjectionStore
	positions domain.PositionProjectionStore
	events    domain.TransitionEventStore
	cache     domain.MarketCache // optional
	metrics   *observability.Metrics
	logger    *slog.Logger

	staleThreshold time.Duration
}

// NewMarketQuery creates a MarketQuery. cache may be nil; staleThreshold
// of zero uses the default.
func NewMarketQuery(
	markets domain.MarketProjectionStore,
	positions domain.PositionProjectionStore,
	events domain.TransitionEventStore,
	cache domain.MarketCache,
	metrics *observability.Metrics,
	logger *slog.Logger,
	staleThreshold time.Duration,
) *MarketQuery {
	if staleThreshold <= 0 {
		staleThreshold = defaultStaleThreshold
	}
	return &MarketQuery{
		markets:        markets,
		positions:      positions,
		events:         events,
		cache:          cache,
		metrics:        metrics,
		logger:         logger.With(slog.String("component", "market_query")),
		staleThreshold: staleThreshold,
	}
}

// GetMarket returns one market projection, cache first with store
// fallback. A stale projection is still served; staleness only logs.
func (q *MarketQuery) GetMarket(ctx context.Context, addr domain.Address) (domain.MarketProjection, error) {
	if q.cache != nil {
		p, err := q.cache.Get(ctx, addr)
		if err == nil {
			q.metrics.CacheReads.WithLabelValues(observability.CacheHit).Inc()
			q.noteStaleness(ctx, p)
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			q.logger.WarnContext(ctx, "cache read failed, falling back to store",
				slog.String("market", addr.String()),
				slog.String("error", err.Error()),
			)
		}
		q.metrics.CacheReads.WithLabelValues(observability.CacheMiss).Inc()
	}

	p, err := q.markets.Get(ctx, addr)
	if err != nil {
		return domain.MarketProjection{}, fmt.Errorf("service: get market %s: %w", addr, err)
	}

	if q.cache != nil {
		if cacheErr := q.cache.Set(ctx, p); cacheErr != nil {
			q.logger.WarnContext(ctx, "cache backfill failed",
				slog.String("market", addr.String()),
				slog.String("error", cacheErr.Error()),
			)
		}
	}

	q.noteStaleness(ctx, p)
	return p, nil
}

// ListActive returns the active-market listing, cache first. The cached
// listing is only used for unpaginated reads; paginated queries go to the
// store directly.
func (q *MarketQuery) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error) {
	if q.cache != nil && opts.Offset == 0 && opts.Limit == 0 {
		ps, err := q.cache.GetListing(ctx)
		if err == nil {
			q.metrics.CacheReads.WithLabelValues(observability.CacheHit).Inc()
			return ps, nil
		}
		q.metrics.CacheReads.WithLabelValues(observability.CacheMiss).Inc()
	}

	ps, err := q.markets.ListActive(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list active markets: %w", err)
	}

	if q.cache != nil && opts.Offset == 0 && opts.Limit == 0 {
		if cacheErr := q.cache.SetListing(ctx, ps); cacheErr != nil {
			q.logger.WarnContext(ctx, "listing backfill failed", slog.String("error", cacheErr.Error()))
		}
	}
	return ps, nil
}

// ListAll returns every projection, for admin surfaces.
func (q *MarketQuery) ListAll(ctx context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error) {
	ps, err := q.markets.ListAll(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list markets: %w", err)
	}
	return ps, nil
}

// Count returns the number of tracked markets.
func (q *MarketQuery) Count(ctx context.Context) (int64, error) {
	n, err := q.markets.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: count markets: %w", err)
	}
	return n, nil
}

// GetPosition returns the owner's position on a market.
func (q *MarketQuery) GetPosition(ctx context.Context, market, owner domain.Address) (domain.PositionProjection, error) {
	p, err := q.positions.GetByOwner(ctx, market, owner)
	if err != nil {
		return domain.PositionProjection{}, fmt.Errorf("service: get position for %s on %s: %w", owner, market, err)
	}
	return p, nil
}

// ListPositions returns every tracked position on a market.
func (q *MarketQuery) ListPositions(ctx context.Context, market domain.Address) ([]domain.PositionProjection, error) {
	ps, err := q.positions.ListByMarket(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("service: list positions for %s: %w", market, err)
	}
	return ps, nil
}

// ListTransitions returns a market's emitted transition history.
func (q *MarketQuery) ListTransitions(ctx context.Context, market domain.Address, opts domain.ListOpts) ([]domain.TransitionEvent, error) {
	evs, err := q.events.ListByMarket(ctx, market, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list transitions for %s: %w", market, err)
	}
	return evs, nil
}

// Dashboard bundles everything one market detail page needs.
type Dashboard struct {
	Market      domain.MarketProjection     `json:"market"`
	Positions   []domain.PositionProjection `json:"positions"`
	Transitions []domain.TransitionEvent    `json:"transitions"`
}

// GetDashboard assembles the market detail view in one call.
func (q *MarketQuery) GetDashboard(ctx context.Context, market domain.Address) (Dashboard, error) {
	p, err := q.GetMarket(ctx, market)
	if err != nil {
		return Dashboard{}, err
	}
	positions, err := q.ListPositions(ctx, market)
	if err != nil {
		return Dashboard{}, err
	}
	events, err := q.ListTransitions(ctx, market, domain.ListOpts{Limit: 20})
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Market: p, Positions: positions, Transitions: events}, nil
}

// noteStaleness logs when a served projection is older than the threshold.
// The value is still returned; staleness is diagnostic, not gating.
func (q *MarketQuery) noteStaleness(ctx context.Context, p domain.MarketProjection) {
	now := time.Now().UTC()
	if p.StaleSince(now, q.staleThreshold) {
		q.logger.WarnContext(ctx, "serving stale projection",
			slog.String("market", p.Address.String()),
			slog.Duration("age", now.Sub(p.LastSyncedAt)),
		)
	}
}
