package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plp-labs/marketsync/internal/domain"
)

// PositionStore implements domain.PositionProjectionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionColumns = `
	address, market, owner, yes_shares, no_shares, total_invested,
	claimed, account_closed, last_slot, last_synced_at, created_at`

// Upsert writes a position projection. The claimed flag and the
// account-closed marker are monotonic: the store ORs them with the
// existing row so no write path can ever flip them back to false.
func (s *PositionStore) Upsert(ctx context.Context, p domain.PositionProjection) error {
	const query = `
		INSERT INTO position_projections (
			address, market, owner, yes_shares, no_shares, total_invested,
			claimed, account_closed, last_slot, last_synced_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			market         = EXCLUDED.market,
			owner          = EXCLUDED.owner,
			yes_shares     = EXCLUDED.yes_shares,
			no_shares      = EXCLUDED.no_shares,
			total_invested = EXCLUDED.total_invested,
			claimed        = position_projections.claimed OR EXCLUDED.claimed,
			account_closed = position_projections.account_closed OR EXCLUDED.account_closed,
			last_slot      = EXCLUDED.last_slot,
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at     = NOW()`

	lastSynced := p.LastSyncedAt
	if lastSynced.IsZero() {
		lastSynced = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		p.Address.String(), p.Record.Market.String(), p.Record.User.String(),
		int64(p.Record.YesShares), int64(p.Record.NoShares),
		int64(p.Record.TotalInvested),
		p.Record.Claimed, p.AccountClosed,
		int64(p.LastSlot), lastSynced,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position projection %s: %w", p.Address, err)
	}
	return nil
}

// Get retrieves a position projection by account address.
func (s *PositionStore) Get(ctx context.Context, addr domain.Address) (domain.PositionProjection, error) {
	query := `SELECT ` + positionColumns + ` FROM position_projections WHERE address = $1`
	p, err := scanPositionProjection(s.pool.QueryRow(ctx, query, addr.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionProjection{}, domain.ErrNotFound
		}
		return domain.PositionProjection{}, fmt.Errorf("postgres: get position projection %s: %w", addr, err)
	}
	return p, nil
}

// GetByOwner looks a position up by its (market, owner) pair.
func (s *PositionStore) GetByOwner(ctx context.Context, market, owner domain.Address) (domain.PositionProjection, error) {
	query := `SELECT ` + positionColumns + ` FROM position_projections WHERE market = $1 AND owner = $2`
	p, err := scanPositionProjection(s.pool.QueryRow(ctx, query, market.String(), owner.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionProjection{}, domain.ErrNotFound
		}
		return domain.PositionProjection{}, fmt.Errorf("postgres: get position for %s on %s: %w", owner, market, err)
	}
	return p, nil
}

// ListByMarket returns every position projection for a market.
func (s *PositionStore) ListByMarket(ctx context.Context, market domain.Address) ([]domain.PositionProjection, error) {
	query := `SELECT ` + positionColumns + ` FROM position_projections WHERE market = $1 ORDER BY address`
	rows, err := s.pool.Query(ctx, query, market.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", market, err)
	}
	defer rows.Close()

	var out []domain.PositionProjection
	for rows.Next() {
		p, err := scanPositionProjection(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position projection: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate position projections: %w", err)
	}
	return out, nil
}

// MarkClaimed sets the monotonic claimed flag, and the account-closed
// marker when the ledger reported the account gone.
func (s *PositionStore) MarkClaimed(ctx context.Context, addr domain.Address, accountClosed bool) error {
	const query = `
		UPDATE position_projections
		SET claimed = TRUE,
		    account_closed = account_closed OR $2,
		    updated_at = NOW()
		WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, addr.String(), accountClosed)
	if err != nil {
		return fmt.Errorf("postgres: mark position %s claimed: %w", addr, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark position %s claimed: %w", addr, domain.ErrNotFound)
	}
	return nil
}

// CountHolders returns the distinct yes-side and no-side holder counts for
// a market.
func (s *PositionStore) CountHolders(ctx context.Context, market domain.Address) (int, int, error) {
	const query = `
		SELECT
			COUNT(*) FILTER (WHERE yes_shares > 0),
			COUNT(*) FILTER (WHERE no_shares > 0)
		FROM position_projections
		WHERE market = $1`

	var yes, no int
	if err := s.pool.QueryRow(ctx, query, market.String()).Scan(&yes, &no); err != nil {
		return 0, 0, fmt.Errorf("postgres: count holders for %s: %w", market, err)
	}
	return yes, no, nil
}

func scanPositionProjection(row pgx.Row) (domain.PositionProjection, error) {
	var (
		p                      domain.PositionProjection
		address, market, owner string
		yesShares, noShares    int64
		invested, lastSlot     int64
	)

	err := row.Scan(
		&address, &market, &owner, &yesShares, &noShares, &invested,
		&p.Record.Claimed, &p.AccountClosed, &lastSlot, &p.LastSyncedAt,
		&p.CreatedAt,
	)
	if err != nil {
		return domain.PositionProjection{}, err
	}

	if p.Address, err = domain.ParseAddress(address); err != nil {
		return domain.PositionProjection{}, err
	}
	if p.Record.Market, err = domain.ParseAddress(market); err != nil {
		return domain.PositionProjection{}, err
	}
	if p.Record.User, err = domain.ParseAddress(owner); err != nil {
		return domain.PositionProjection{}, err
	}

	p.Record.YesShares = uint64(yesShares)
	p.Record.NoShares = uint64(noShares)
	p.Record.TotalInvested = uint64(invested)
	p.LastSlot = uint64(lastSlot)

	return p, nil
}

// Compile-time interface check.
var _ domain.PositionProjectionStore = (*PositionStore)(nil)
