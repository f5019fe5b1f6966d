package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/observability"
)

var testMarket = domain.MustAddress("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")

type fakeCache struct {
	mu       sync.Mutex
	byAddr   map[domain.Address]domain.MarketProjection
	listing  []domain.MarketProjection
	hasList  bool
	getErr   error
	setCalls int
}

func newFakeCache() *fakeCache {
	return &fakeCache{byAddr: make(map[domain.Address]domain.MarketProjection)}
}

func (c *fakeCache) Set(_ context.Context, p domain.MarketProjection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byAddr[p.Address] = p
	c.setCalls++
	return nil
}

func (c *fakeCache) Get(_ context.Context, addr domain.Address) (domain.MarketProjection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return domain.MarketProjection{}, c.getErr
	}
	p, ok := c.byAddr[addr]
	if !ok {
		return domain.MarketProjection{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *fakeCache) SetListing(_ context.Context, ps []domain.MarketProjection) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing = ps
	c.hasList = true
	return nil
}

func (c *fakeCache) GetListing(_ context.Context) ([]domain.MarketProjection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasList {
		return nil, domain.ErrNotFound
	}
	return c.listing, nil
}

func (c *fakeCache) Invalidate(_ context.Context, addr domain.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byAddr, addr)
	c.hasList = false
	return nil
}

type fakeMarkets struct {
	projections map[domain.Address]domain.MarketProjection
	getCalls    int
}

func (s *fakeMarkets) Upsert(_ context.Context, p domain.MarketProjection) error {
	s.projections[p.Address] = p
	return nil
}

func (s *fakeMarkets) Get(_ context.Context, addr domain.Address) (domain.MarketProjection, error) {
	s.getCalls++
	p, ok := s.projections[addr]
	if !ok {
		return domain.MarketProjection{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeMarkets) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.MarketProjection, error) {
	var out []domain.MarketProjection
	for _, p := range s.projections {
		if !p.IsResolved {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeMarkets) ListAll(_ context.Context, _ domain.ListOpts) ([]domain.MarketProjection, error) {
	var out []domain.MarketProjection
	for _, p := range s.projections {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeMarkets) ListResolvedBefore(_ context.Context, _ time.Time) ([]domain.MarketProjection, error) {
	return nil, nil
}

func (s *fakeMarkets) Count(_ context.Context) (int64, error) {
	return int64(len(s.projections)), nil
}

type stubPositions struct{}

func (stubPositions) Upsert(context.Context, domain.PositionProjection) error { return nil }
func (stubPositions) Get(context.Context, domain.Address) (domain.PositionProjection, error) {
	return domain.PositionProjection{}, domain.ErrNotFound
}
func (stubPositions) GetByOwner(context.Context, domain.Address, domain.Address) (domain.PositionProjection, error) {
	return domain.PositionProjection{}, domain.ErrNotFound
}
func (stubPositions) ListByMarket(context.Context, domain.Address) ([]domain.PositionProjection, error) {
	return nil, nil
}
func (stubPositions) MarkClaimed(context.Context, domain.Address, bool) error { return nil }
func (stubPositions) CountHolders(context.Context, domain.Address) (int, int, error) {
	return 0, 0, nil
}

type stubEvents struct{}

func (stubEvents) Insert(context.Context, domain.TransitionEvent) error { return nil }
func (stubEvents) ListByMarket(context.Context, domain.Address, domain.ListOpts) ([]domain.TransitionEvent, error) {
	return nil, nil
}
func (stubEvents) ListBefore(context.Context, time.Time) ([]domain.TransitionEvent, error) {
	return nil, nil
}

func newTestQuery(cache domain.MarketCache) (*MarketQuery, *fakeMarkets) {
	markets := &fakeMarkets{projections: make(map[domain.Address]domain.MarketProjection)}
	q := NewMarketQuery(markets, stubPositions{}, stubEvents{}, cache,
		observability.NewMetrics(prometheus.NewRegistry()),
		slog.New(slog.DiscardHandler), 0)
	return q, markets
}

func TestGetMarketCacheHitSkipsStore(t *testing.T) {
	cache := newFakeCache()
	q, markets := newTestQuery(cache)

	p := domain.MarketProjection{Address: testMarket, LastSyncedAt: time.Now()}
	require.NoError(t, cache.Set(context.Background(), p))
	cache.setCalls = 0

	got, err := q.GetMarket(context.Background(), testMarket)
	require.NoError(t, err)
	assert.Equal(t, testMarket, got.Address)
	assert.Equal(t, 0, markets.getCalls)
}

func TestGetMarketMissFallsBackAndBackfills(t *testing.T) {
	cache := newFakeCache()
	q, markets := newTestQuery(cache)

	p := domain.MarketProjection{Address: testMarket, LastSyncedAt: time.Now()}
	markets.projections[testMarket] = p

	got, err := q.GetMarket(context.Background(), testMarket)
	require.NoError(t, err)
	assert.Equal(t, testMarket, got.Address)
	assert.Equal(t, 1, markets.getCalls)
	assert.Equal(t, 1, cache.setCalls, "store read back-fills the cache")
}

func TestGetMarketCacheErrorIsNotFatal(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	q, markets := newTestQuery(cache)

	markets.projections[testMarket] = domain.MarketProjection{Address: testMarket, LastSyncedAt: time.Now()}

	got, err := q.GetMarket(context.Background(), testMarket)
	require.NoError(t, err)
	assert.Equal(t, testMarket, got.Address)
}

func TestGetMarketStaleStillServed(t *testing.T) {
	q, markets := newTestQuery(nil)

	// Last synced an hour ago: well past the threshold.
	markets.projections[testMarket] = domain.MarketProjection{
		Address:      testMarket,
		LastSyncedAt: time.Now().Add(-time.Hour),
	}

	got, err := q.GetMarket(context.Background(), testMarket)
	require.NoError(t, err, "staleness is diagnostic, never gating")
	assert.Equal(t, testMarket, got.Address)
}

func TestGetMarketUnknown(t *testing.T) {
	q, _ := newTestQuery(nil)
	_, err := q.GetMarket(context.Background(), testMarket)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListActiveUsesCachedListing(t *testing.T) {
	cache := newFakeCache()
	q, markets := newTestQuery(cache)

	markets.projections[testMarket] = domain.MarketProjection{Address: testMarket}

	// First read misses and back-fills.
	first, err := q.ListActive(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.True(t, cache.hasList)

	// Second read is served from the cache even if the store empties.
	markets.projections = map[domain.Address]domain.MarketProjection{}
	second, err := q.ListActive(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestListActivePaginatedBypassesCache(t *testing.T) {
	cache := newFakeCache()
	cache.listing = []domain.MarketProjection{{Address: testMarket}}
	cache.hasList = true
	q, _ := newTestQuery(cache)

	got, err := q.ListActive(context.Background(), domain.ListOpts{Limit: 10, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, got, "paginated reads go straight to the store")
}
