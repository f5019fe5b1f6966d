package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/observability"
)

// SyncMode runs the sync manager and the observability listener.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sync mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.resubscribe(ctx, deps); err != nil {
		return fmt.Errorf("sync mode: %w", err)
	}

	g.Go(func() error {
		return deps.Manager.Run(ctx)
	})

	a.startObservability(ctx, g, deps)

	return g.Wait()
}

// ArchiveMode runs only the cold-storage archiver. The sync loop, cache,
// and notification sinks stay idle.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: s3 storage is not configured")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
	})

	a.startObservability(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the sync manager plus, when enabled, the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.resubscribe(ctx, deps); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g.Go(func() error {
		return deps.Manager.Run(ctx)
	})

	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration)
		})
	}

	a.startObservability(ctx, g, deps)

	return g.Wait()
}

// resubscribe restores the subscription set from the projection store so a
// restart picks up every market it was tracking, along with the positions
// registered under each.
func (a *App) resubscribe(ctx context.Context, deps *Dependencies) error {
	markets, err := deps.Markets.ListAll(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("resubscribe: list markets: %w", err)
	}

	var positions int
	for _, m := range markets {
		if err := deps.Manager.Subscribe(ctx, m.Address); err != nil {
			return fmt.Errorf("resubscribe %s: %w", m.Address, err)
		}
		held, err := deps.Positions.ListByMarket(ctx, m.Address)
		if err != nil {
			return fmt.Errorf("resubscribe %s: list positions: %w", m.Address, err)
		}
		for _, p := range held {
			if err := deps.Manager.RegisterPosition(ctx, m.Address, p.Address); err != nil {
				a.logger.WarnContext(ctx, "position re-registration failed",
					slog.String("market", m.Address.String()),
					slog.String("position", p.Address.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			positions++
		}
	}

	a.logger.InfoContext(ctx, "subscriptions restored",
		slog.Int("markets", len(markets)),
		slog.Int("positions", positions),
	)
	return nil
}

// startObservability adds the /metrics and /healthz listener to the group
// when enabled.
func (a *App) startObservability(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	srv := observability.NewServer(a.cfg.Metrics.Addr, deps.Pingers, a.logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}
