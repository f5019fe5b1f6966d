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

// MarketStore implements domain.MarketProjectionStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketColumns = `
	address, founder, metadata_cid, target_pool, pool_balance,
	yes_pool, no_pool, total_yes_shares, total_no_shares, expiry_time,
	phase, resolution, token_mint, platform_tokens_allocated,
	platform_tokens_claimed, yes_voter_tokens_allocated, treasury,
	layout_version, is_expired, is_resolved, pool_progress_pct,
	leading_side, yes_holders, no_holders, notified_resolution,
	notified_phase, notified_target_reached, last_slot, last_synced_at,
	created_at`

// Upsert writes a market projection as one logical write: decoded fields,
// derived fields, and notification markers together, so a retried tick can
// never observe data without its markers. Monotonic fields (the claimed
// flag and the markers) only ever move forward, even if a caller hands in
// an older snapshot.
func (s *MarketStore) Upsert(ctx context.Context, p domain.MarketProjection) error {
	const query = `
		INSERT INTO market_projections (
			address, founder, metadata_cid, target_pool, pool_balance,
			yes_pool, no_pool, total_yes_shares, total_no_shares, expiry_time,
			phase, resolution, token_mint, platform_tokens_allocated,
			platform_tokens_claimed, yes_voter_tokens_allocated, treasury,
			layout_version, is_expired, is_resolved, pool_progress_pct,
			leading_side, yes_holders, no_holders, notified_resolution,
			notified_phase, notified_target_reached, last_slot, last_synced_at,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, NOW(), NOW()
		)
		ON CONFLICT (address) DO UPDATE SET
			founder                    = EXCLUDED.founder,
			metadata_cid               = EXCLUDED.metadata_cid,
			target_pool                = EXCLUDED.target_pool,
			pool_balance               = EXCLUDED.pool_balance,
			yes_pool                   = EXCLUDED.yes_pool,
			no_pool                    = EXCLUDED.no_pool,
			total_yes_shares           = EXCLUDED.total_yes_shares,
			total_no_shares            = EXCLUDED.total_no_shares,
			expiry_time                = EXCLUDED.expiry_time,
			phase                      = EXCLUDED.phase,
			resolution                 = EXCLUDED.resolution,
			token_mint                 = EXCLUDED.token_mint,
			platform_tokens_allocated  = EXCLUDED.platform_tokens_allocated,
			platform_tokens_claimed    = market_projections.platform_tokens_claimed OR EXCLUDED.platform_tokens_claimed,
			yes_voter_tokens_allocated = EXCLUDED.yes_voter_tokens_allocated,
			treasury                   = EXCLUDED.treasury,
			layout_version             = EXCLUDED.layout_version,
			is_expired                 = EXCLUDED.is_expired,
			is_resolved                = EXCLUDED.is_resolved,
			pool_progress_pct          = EXCLUDED.pool_progress_pct,
			leading_side               = EXCLUDED.leading_side,
			yes_holders                = EXCLUDED.yes_holders,
			no_holders                 = EXCLUDED.no_holders,
			notified_resolution        = GREATEST(market_projections.notified_resolution, EXCLUDED.notified_resolution),
			notified_phase             = GREATEST(market_projections.notified_phase, EXCLUDED.notified_phase),
			notified_target_reached    = market_projections.notified_target_reached OR EXCLUDED.notified_target_reached,
			last_slot                  = EXCLUDED.last_slot,
			last_synced_at             = EXCLUDED.last_synced_at,
			updated_at                 = NOW()`

	var tokenMint *string
	if p.Record.TokenMint != nil {
		s := p.Record.TokenMint.String()
		tokenMint = &s
	}

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	lastSynced := p.LastSyncedAt
	if lastSynced.IsZero() {
		lastSynced = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		p.Address.String(), p.Record.Founder.String(), p.Record.MetadataCID,
		int64(p.Record.TargetPool), int64(p.Record.PoolBalance),
		int64(p.Record.YesPool), int64(p.Record.NoPool),
		int64(p.Record.TotalYesShares), int64(p.Record.TotalNoShares),
		p.Record.ExpiryTime,
		int16(p.Record.Phase), int16(p.Record.Resolution),
		tokenMint,
		int64(p.Record.PlatformTokensAllocated), p.Record.PlatformTokensClaimed,
		int64(p.Record.YesVoterTokensAllocated), p.Record.Treasury.String(),
		int16(p.Record.LayoutVersion),
		p.IsExpired, p.IsResolved, p.PoolProgressPct,
		p.LeadingSide, p.YesHolders, p.NoHolders,
		int16(p.NotifiedResolution), int16(p.NotifiedPhase), p.NotifiedTargetReached,
		int64(p.LastSlot), lastSynced, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market projection %s: %w", p.Address, err)
	}
	return nil
}

// Get retrieves a market projection by address. It returns
// domain.ErrNotFound when no projection exists.
func (s *MarketStore) Get(ctx context.Context, addr domain.Address) (domain.MarketProjection, error) {
	query := `SELECT ` + marketColumns + ` FROM market_projections WHERE address = $1`
	p, err := scanMarketProjection(s.pool.QueryRow(ctx, query, addr.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketProjection{}, domain.ErrNotFound
		}
		return domain.MarketProjection{}, fmt.Errorf("postgres: get market projection %s: %w", addr, err)
	}
	return p, nil
}

// ListActive returns unresolved markets ordered by expiry.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error) {
	query := `SELECT ` + marketColumns + `
		FROM market_projections
		WHERE NOT is_resolved
		ORDER BY expiry_time ASC
		LIMIT $1 OFFSET $2`
	return s.list(ctx, query, listLimit(opts), opts.Offset)
}

// ListAll returns every market projection, most recently synced first.
func (s *MarketStore) ListAll(ctx context.Context, opts domain.ListOpts) ([]domain.MarketProjection, error) {
	query := `SELECT ` + marketColumns + `
		FROM market_projections
		ORDER BY last_synced_at DESC
		LIMIT $1 OFFSET $2`
	return s.list(ctx, query, listLimit(opts), opts.Offset)
}

// ListResolvedBefore returns terminal projections last synced before the
// cutoff, for cold archival.
func (s *MarketStore) ListResolvedBefore(ctx context.Context, cutoff time.Time) ([]domain.MarketProjection, error) {
	query := `SELECT ` + marketColumns + `
		FROM market_projections
		WHERE is_resolved AND last_synced_at < $1
		ORDER BY last_synced_at ASC`
	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: list resolved markets: %w", err)
	}
	defer rows.Close()
	return collectMarketProjections(rows)
}

// Count returns the number of market projections.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM market_projections`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count market projections: %w", err)
	}
	return n, nil
}

func (s *MarketStore) list(ctx context.Context, query string, args ...any) ([]domain.MarketProjection, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list market projections: %w", err)
	}
	defer rows.Close()
	return collectMarketProjections(rows)
}

func collectMarketProjections(rows pgx.Rows) ([]domain.MarketProjection, error) {
	var out []domain.MarketProjection
	for rows.Next() {
		p, err := scanMarketProjection(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market projection: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate market projections: %w", err)
	}
	return out, nil
}

func scanMarketProjection(row pgx.Row) (domain.MarketProjection, error) {
	var (
		p                                    domain.MarketProjection
		address, founder, treasury           string
		tokenMint                            *string
		targetPool, poolBalance              int64
		yesPool, noPool                      int64
		yesShares, noShares                  int64
		platformAllocated, yesVoterAllocated int64
		phase, resolution, layoutVersion     int16
		notifiedResolution, notifiedPhase    int16
		lastSlot                             int64
	)

	err := row.Scan(
		&address, &founder, &p.Record.MetadataCID, &targetPool, &poolBalance,
		&yesPool, &noPool, &yesShares, &noShares, &p.Record.ExpiryTime,
		&phase, &resolution, &tokenMint, &platformAllocated,
		&p.Record.PlatformTokensClaimed, &yesVoterAllocated, &treasury,
		&layoutVersion, &p.IsExpired, &p.IsResolved, &p.PoolProgressPct,
		&p.LeadingSide, &p.YesHolders, &p.NoHolders, &notifiedResolution,
		&notifiedPhase, &p.NotifiedTargetReached, &lastSlot, &p.LastSyncedAt,
		&p.CreatedAt,
	)
	if err != nil {
		return domain.MarketProjection{}, err
	}

	if p.Address, err = domain.ParseAddress(address); err != nil {
		return domain.MarketProjection{}, err
	}
	if p.Record.Founder, err = domain.ParseAddress(founder); err != nil {
		return domain.MarketProjection{}, err
	}
	if treasury != "" {
		if p.Record.Treasury, err = domain.ParseAddress(treasury); err != nil {
			return domain.MarketProjection{}, err
		}
	}
	if tokenMint != nil && *tokenMint != "" {
		mint, err := domain.ParseAddress(*tokenMint)
		if err != nil {
			return domain.MarketProjection{}, err
		}
		p.Record.TokenMint = &mint
	}

	p.Record.TargetPool = uint64(targetPool)
	p.Record.PoolBalance = uint64(poolBalance)
	p.Record.YesPool = uint64(yesPool)
	p.Record.NoPool = uint64(noPool)
	p.Record.TotalYesShares = uint64(yesShares)
	p.Record.TotalNoShares = uint64(noShares)
	p.Record.Phase = domain.Phase(phase)
	p.Record.Resolution = domain.Resolution(resolution)
	p.Record.LayoutVersion = uint8(layoutVersion)
	p.NotifiedResolution = domain.Resolution(notifiedResolution)
	p.NotifiedPhase = domain.Phase(notifiedPhase)
	p.LastSlot = uint64(lastSlot)

	return p, nil
}

func listLimit(opts domain.ListOpts) int {
	if opts.Limit <= 0 {
		return 100
	}
	return opts.Limit
}

// Compile-time interface check.
var _ domain.MarketProjectionStore = (*MarketStore)(nil)
