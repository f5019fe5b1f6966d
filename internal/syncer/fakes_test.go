package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/plp-labs/marketsync/internal/domain"
)

// fakeGateway serves accounts from an in-memory map. A non-nil err makes
// every call fail as a transport error.
type fakeGateway struct {
	mu       sync.Mutex
	accounts map[domain.Address]domain.AccountInfo
	err      error
	getCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{accounts: make(map[domain.Address]domain.AccountInfo)}
}

func (g *fakeGateway) setAccount(addr domain.Address, data []byte, slot uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accounts[addr] = domain.AccountInfo{Data: data, Slot: slot}
}

func (g *fakeGateway) remove(addr domain.Address) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.accounts, addr)
}

func (g *fakeGateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getCalls
}

func (g *fakeGateway) GetAccount(_ context.Context, addr domain.Address) (domain.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	if g.err != nil {
		return domain.AccountInfo{}, g.err
	}
	info, ok := g.accounts[addr]
	if !ok {
		return domain.AccountInfo{}, domain.ErrNotFound
	}
	return info, nil
}

func (g *fakeGateway) GetAccounts(_ context.Context, addrs []domain.Address) (map[domain.Address]domain.AccountInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	out := make(map[domain.Address]domain.AccountInfo)
	for _, addr := range addrs {
		if info, ok := g.accounts[addr]; ok {
			out[addr] = info
		}
	}
	return out, nil
}

var _ domain.LedgerGateway = (*fakeGateway)(nil)

// fakeMarketStore is an in-memory MarketProjectionStore. A non-nil err
// fails every read and write.
type fakeMarketStore struct {
	mu          sync.Mutex
	projections map[domain.Address]domain.MarketProjection
	err         error
}

func newFakeMarketStore() *fakeMarketStore {
	return &fakeMarketStore{projections: make(map[domain.Address]domain.MarketProjection)}
}

func (s *fakeMarketStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeMarketStore) Upsert(_ context.Context, p domain.MarketProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.projections[p.Address] = p
	return nil
}

func (s *fakeMarketStore) Get(_ context.Context, addr domain.Address) (domain.MarketProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.MarketProjection{}, s.err
	}
	p, ok := s.projections[addr]
	if !ok {
		return domain.MarketProjection{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeMarketStore) ListActive(_ context.Context, _ domain.ListOpts) ([]domain.MarketProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MarketProjection
	for _, p := range s.projections {
		if !p.IsResolved {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) ListAll(_ context.Context, _ domain.ListOpts) ([]domain.MarketProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MarketProjection
	for _, p := range s.projections {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeMarketStore) ListResolvedBefore(_ context.Context, cutoff time.Time) ([]domain.MarketProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MarketProjection
	for _, p := range s.projections {
		if p.IsResolved && p.LastSyncedAt.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeMarketStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.projections)), nil
}

var _ domain.MarketProjectionStore = (*fakeMarketStore)(nil)

// fakePositionStore is an in-memory PositionProjectionStore with the same
// monotonic claimed/closed semantics as the SQL store.
type fakePositionStore struct {
	mu          sync.Mutex
	projections map[domain.Address]domain.PositionProjection
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{projections: make(map[domain.Address]domain.PositionProjection)}
}

func (s *fakePositionStore) Upsert(_ context.Context, p domain.PositionProjection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.projections[p.Address]; ok {
		p.Record.Claimed = p.Record.Claimed || prev.Record.Claimed
		p.AccountClosed = p.AccountClosed || prev.AccountClosed
		p.CreatedAt = prev.CreatedAt
	}
	s.projections[p.Address] = p
	return nil
}

func (s *fakePositionStore) Get(_ context.Context, addr domain.Address) (domain.PositionProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projections[addr]
	if !ok {
		return domain.PositionProjection{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakePositionStore) GetByOwner(_ context.Context, market, owner domain.Address) (domain.PositionProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.projections {
		if p.Record.Market == market && p.Record.User == owner {
			return p, nil
		}
	}
	return domain.PositionProjection{}, domain.ErrNotFound
}

func (s *fakePositionStore) ListByMarket(_ context.Context, market domain.Address) ([]domain.PositionProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PositionProjection
	for _, p := range s.projections {
		if p.Record.Market == market {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakePositionStore) MarkClaimed(_ context.Context, addr domain.Address, accountClosed bool) error {
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

func (s *fakePositionStore) CountHolders(_ context.Context, market domain.Address) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var yes, no int
	for _, p := range s.projections {
		if p.Record.Market != market {
			continue
		}
		if p.Record.YesShares > 0 {
			yes++
		}
		if p.Record.NoShares > 0 {
			no++
		}
	}
	return yes, no, nil
}

var _ domain.PositionProjectionStore = (*fakePositionStore)(nil)

// captureSink records every emitted event; err, when set, fails the next
// emit and then clears itself.
type captureSink struct {
	mu     sync.Mutex
	events []domain.TransitionEvent
	err    error
}

func (c *captureSink) Emit(_ context.Context, ev domain.TransitionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		err := c.err
		c.err = nil
		return err
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) kinds() []domain.TransitionKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.TransitionKind, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.Kind
	}
	return out
}

var _ domain.TransitionSink = (*captureSink)(nil)
