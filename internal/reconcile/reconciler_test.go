package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plp-labs/marketsync/internal/codec"
	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/observability"
)

var (
	testMarket = domain.MustAddress("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	testOwner  = domain.MustAddress("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	testPos    = domain.MustAddress("7S3P4HxJpyyigGzodYwHtCxZyUQe9JiBMHyRWXArAaKv")
)

type fakeGateway struct {
	mu       sync.Mutex
	accounts map[domain.Address]domain.AccountInfo
	err      error
	calls    int
}

func (g *fakeGateway) GetAccount(_ context.Context, addr domain.Address) (domain.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return domain.AccountInfo{}, g.err
	}
	info, ok := g.accounts[addr]
	if !ok {
		return domain.AccountInfo{}, domain.ErrNotFound
	}
	return info, nil
}

func (g *fakeGateway) GetAccounts(_ context.Context, _ []domain.Address) (map[domain.Address]domain.AccountInfo, error) {
	return nil, nil
}

type fakePositions struct {
	mu          sync.Mutex
	projections map[domain.Address]domain.PositionProjection
}

func (s *fakePositions) Upsert(_ context.Context, p domain.PositionProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.projections[p.Address]; ok {
		p.Record.Claimed = p.Record.Claimed || prev.Record.Claimed
		p.AccountClosed = p.AccountClosed || prev.AccountClosed
	}
	s.projections[p.Address] = p
	return nil
}

func (s *fakePositions) Get(_ context.Context, addr domain.Address) (domain.PositionProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projections[addr]
	if !ok {
		return domain.PositionProjection{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePositions) GetByOwner(_ context.Context, market, owner domain.Address) (domain.PositionProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projections {
		if p.Record.Market == market && p.Record.User == owner {
			return p, nil
		}
	}
	return domain.PositionProjection{}, domain.ErrNotFound
}

func (s *fakePositions) ListByMarket(_ context.Context, _ domain.Address) ([]domain.PositionProjection, error) {
	return nil, nil
}

func (s *fakePositions) MarkClaimed(_ context.Context, addr domain.Address, accountClosed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projections[addr]
	if !ok {
		return domain.ErrNotFound
	}
	p.Record.Claimed = true
	p.AccountClosed = p.AccountClosed || accountClosed
	s.projections[addr] = p
	return nil
}

func (s *fakePositions) CountHolders(_ context.Context, _ domain.Address) (int, int, error) {
	return 0, 0, nil
}

type fakeLocks struct {
	err      error
	acquired int
}

func (l *fakeLocks) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func() {}, nil
}

func newTestReconciler(locks domain.LockManager) (*Reconciler, *fakeGateway, *fakePositions) {
	gateway := &fakeGateway{accounts: make(map[domain.Address]domain.AccountInfo)}
	positions := &fakePositions{projections: make(map[domain.Address]domain.PositionProjection)}
	r := New(gateway, positions, locks,
		observability.NewMetrics(prometheus.NewRegistry()),
		slog.New(slog.DiscardHandler),
	)
	return r, gateway, positions
}

func unclaimedRecord() domain.PositionRecord {
	return domain.PositionRecord{
		User:          testOwner,
		Market:        testMarket,
		YesShares:     50,
		TotalInvested: 2_000_000,
	}
}

func seedCache(positions *fakePositions, rec domain.PositionRecord, closed bool) {
	positions.projections[testPos] = domain.PositionProjection{
		Address:       testPos,
		Record:        rec,
		AccountClosed: closed,
		LastSlot:      100,
	}
}

func TestEligibleWhenLedgerConfirmsUnclaimed(t *testing.T) {
	r, gateway, positions := newTestReconciler(nil)
	seedCache(positions, unclaimedRecord(), false)
	gateway.accounts[testPos] = domain.AccountInfo{Data: codec.EncodePosition(unclaimedRecord()), Slot: 200}

	eligible, p, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.NoError(t, err)
	assert.True(t, eligible)
	require.NotNil(t, p)
	assert.False(t, p.Record.Claimed)

	// The direct read refreshed the projection.
	stored, err := positions.Get(context.Background(), testPos)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), stored.LastSlot)
}

func TestCachedClaimedIsTrustedWithoutLedgerRead(t *testing.T) {
	r, gateway, positions := newTestReconciler(nil)
	rec := unclaimedRecord()
	rec.Claimed = true
	seedCache(positions, rec, false)

	eligible, p, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.NoError(t, err)
	assert.False(t, eligible)
	require.NotNil(t, p)
	assert.True(t, p.Record.Claimed)
	assert.Equal(t, 0, gateway.calls, "a monotonic true flag needs no verification")
}

func TestClosedAccountMeansAlreadyClaimed(t *testing.T) {
	r, _, positions := newTestReconciler(nil)
	seedCache(positions, unclaimedRecord(), false)
	// No ledger account: it was reclaimed at payout.

	eligible, p, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.NoError(t, err, "a closed account is a normal terminal state, not an error")
	assert.False(t, eligible)
	require.NotNil(t, p)
	assert.True(t, p.Record.Claimed)
	assert.True(t, p.AccountClosed)

	// The terminal state is persisted, never deleted.
	stored, err := positions.Get(context.Background(), testPos)
	require.NoError(t, err)
	assert.True(t, stored.Record.Claimed)
	assert.True(t, stored.AccountClosed)
}

func TestStaleCacheCorrectedFromLedger(t *testing.T) {
	gateway := &fakeGateway{accounts: make(map[domain.Address]domain.AccountInfo)}
	positions := &fakePositions{projections: make(map[domain.Address]domain.PositionProjection)}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := New(gateway, positions, nil, metrics, slog.New(slog.DiscardHandler))
	seedCache(positions, unclaimedRecord(), false)

	ledgerRec := unclaimedRecord()
	ledgerRec.Claimed = true
	gateway.accounts[testPos] = domain.AccountInfo{Data: codec.EncodePosition(ledgerRec), Slot: 300}

	// The conflict is resolved internally: the caller sees only the
	// corrected, ineligible projection.
	eligible, p, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.NoError(t, err)
	assert.False(t, eligible)
	require.NotNil(t, p)
	assert.True(t, p.Record.Claimed)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StaleConflicts), "conflict surfaced to operators")

	stored, err := positions.Get(context.Background(), testPos)
	require.NoError(t, err)
	assert.True(t, stored.Record.Claimed, "cache corrected toward the ledger")
}

func TestFailClosedOnLedgerOutage(t *testing.T) {
	r, gateway, positions := newTestReconciler(nil)
	seedCache(positions, unclaimedRecord(), false)
	gateway.err = domain.ErrLedgerUnavailable

	eligible, _, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.ErrorIs(t, err, domain.ErrLedgerUnavailable)
	assert.False(t, eligible, "never eligible while the ledger is unreachable")

	// The cached flag stays untouched.
	stored, err := positions.Get(context.Background(), testPos)
	require.NoError(t, err)
	assert.False(t, stored.Record.Claimed)
}

func TestUnknownPositionReturnsNotFound(t *testing.T) {
	r, _, _ := newTestReconciler(nil)

	eligible, p, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, eligible)
	assert.Nil(t, p)
}

func TestDistributedLockHeldRefusesCheck(t *testing.T) {
	r, gateway, positions := newTestReconciler(&fakeLocks{err: domain.ErrLockHeld})
	seedCache(positions, unclaimedRecord(), false)
	gateway.accounts[testPos] = domain.AccountInfo{Data: codec.EncodePosition(unclaimedRecord()), Slot: 200}

	_, _, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, 0, gateway.calls)
}

func TestLockBackendOutageDoesNotBlockClaims(t *testing.T) {
	r, gateway, positions := newTestReconciler(&fakeLocks{err: domain.ErrLedgerUnavailable})
	seedCache(positions, unclaimedRecord(), false)
	gateway.accounts[testPos] = domain.AccountInfo{Data: codec.EncodePosition(unclaimedRecord()), Slot: 200}

	eligible, _, err := r.VerifyClaimEligibility(context.Background(), testMarket, testOwner)
	require.NoError(t, err)
	assert.True(t, eligible, "lock backend trouble degrades to singleflight only")
}
