package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plp-labs/marketsync/internal/domain"
)

// EventStore implements domain.TransitionEventStore using PostgreSQL. It
// also satisfies domain.TransitionSink, so the notifier can treat the
// durable event log as just another delivery target.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Insert appends one transition event to the history.
func (s *EventStore) Insert(ctx context.Context, ev domain.TransitionEvent) error {
	const query = `
		INSERT INTO transition_events (id, market, kind, resolution, phase, slot, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Market.String(), string(ev.Kind),
		int16(ev.Resolution), int16(ev.Phase), int64(ev.Slot), ev.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transition event %s: %w", ev.ID, err)
	}
	return nil
}

// Emit implements domain.TransitionSink.
func (s *EventStore) Emit(ctx context.Context, ev domain.TransitionEvent) error {
	return s.Insert(ctx, ev)
}

// Name implements domain.TransitionSink.
func (s *EventStore) Name() string {
	return "postgres"
}

// ListByMarket returns a market's emitted transitions, newest first.
func (s *EventStore) ListByMarket(ctx context.Context, market domain.Address, opts domain.ListOpts) ([]domain.TransitionEvent, error) {
	const query = `
		SELECT id, market, kind, resolution, phase, slot, occurred_at
		FROM transition_events
		WHERE market = $1
		ORDER BY occurred_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, market.String(), listLimit(opts), opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transition events for %s: %w", market, err)
	}
	defer rows.Close()
	return collectTransitionEvents(rows)
}

// ListBefore returns events older than the cutoff, for cold archival.
func (s *EventStore) ListBefore(ctx context.Context, cutoff time.Time) ([]domain.TransitionEvent, error) {
	const query = `
		SELECT id, market, kind, resolution, phase, slot, occurred_at
		FROM transition_events
		WHERE occurred_at < $1
		ORDER BY occurred_at ASC`

	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transition events before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return collectTransitionEvents(rows)
}

func collectTransitionEvents(rows pgx.Rows) ([]domain.TransitionEvent, error) {
	var out []domain.TransitionEvent
	for rows.Next() {
		var (
			ev                domain.TransitionEvent
			market, kind      string
			resolution, phase int16
			slot              int64
		)
		if err := rows.Scan(&ev.ID, &market, &kind, &resolution, &phase, &slot, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transition event: %w", err)
		}
		addr, err := domain.ParseAddress(market)
		if err != nil {
			return nil, err
		}
		ev.Market = addr
		ev.Kind = domain.TransitionKind(kind)
		ev.Resolution = domain.Resolution(resolution)
		ev.Phase = domain.Phase(phase)
		ev.Slot = uint64(slot)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate transition events: %w", err)
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.TransitionEventStore = (*EventStore)(nil)
	_ domain.TransitionSink       = (*EventStore)(nil)
)
