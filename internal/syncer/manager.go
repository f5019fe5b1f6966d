package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plp-labs/marketsync/internal/codec"
	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/notify"
	"github.com/plp-labs/marketsync/internal/observability"
)

const (
	defaultInterval       = 15 * time.Second
	defaultJitterFraction = 0.2
	defaultMaxConcurrent  = 8
	defaultStaleThreshold = 2 * time.Minute

	// listingLimit bounds the active-market listing pushed into the hot
	// cache each tick.
	listingLimit = 500

	hintBuffer = 64
)

// Config tunes the sync scheduler.
type Config struct {
	// Interval is the base polling period.
	Interval time.Duration

	// JitterFraction spreads ticks by ±Interval*JitterFraction so replicas
	// do not stampede the RPC endpoint in lockstep.
	JitterFraction float64

	// MaxConcurrent bounds the per-tick worker pool.
	MaxConcurrent int

	// StaleThreshold is the projection age that trips the staleness
	// diagnostic. Stale values are still served.
	StaleThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.JitterFraction < 0 || c.JitterFraction >= 1 {
		c.JitterFraction = defaultJitterFraction
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaultStaleThreshold
	}
	return c
}

// Deps collects the manager's collaborators.
type Deps struct {
	Gateway    domain.LedgerGateway
	Subscriber domain.LedgerSubscriber // optional change-hint source
	Markets    domain.MarketProjectionStore
	Positions  domain.PositionProjectionStore
	Cache      domain.MarketCache // optional hot cache
	Notifier   *notify.Notifier
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// Manager runs the sync loop: on every tick it refreshes each subscribed
// market and its registered positions from the ledger, persists the
// projection (markers included) in one upsert, and dispatches any detected
// transitions.
type Manager struct {
	cfg      Config
	gateway  domain.LedgerGateway
	sub      domain.LedgerSubscriber
	markets  domain.MarketProjectionStore
	posStore domain.PositionProjectionStore
	cache    domain.MarketCache
	notifier *notify.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger

	registry *Registry
	hints    chan domain.Address

	watchMu  sync.Mutex
	runCtx   context.Context
	watchers map[domain.Address]context.CancelFunc
}

// NewManager creates a Manager. Deps.Subscriber and Deps.Cache may be nil;
// everything else is required.
func NewManager(cfg Config, deps Deps) *Manager {
	return &Manager{
		cfg:      cfg.withDefaults(),
		gateway:  deps.Gateway,
		sub:      deps.Subscriber,
		markets:  deps.Markets,
		posStore: deps.Positions,
		cache:    deps.Cache,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger.With(slog.String("component", "syncer")),
		registry: NewRegistry(),
		hints:    make(chan domain.Address, hintBuffer),
		watchers: make(map[domain.Address]context.CancelFunc),
	}
}

// Registry exposes the subscription registry for read-side callers.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Subscribe starts tracking a market. It is idempotent; re-subscribing an
// already-tracked market is a no-op. A newly added market is primed with
// an immediate sync so its projection exists before the first tick.
func (m *Manager) Subscribe(ctx context.Context, market domain.Address) error {
	if !m.registry.Subscribe(market) {
		m.logger.DebugContext(ctx, "market already subscribed", slog.String("market", market.String()))
		return nil
	}

	m.metrics.SubscribedMarkets.Set(float64(m.registry.Len()))
	m.logger.InfoContext(ctx, "market subscribed", slog.String("market", market.String()))
	m.startWatcher(market)
	m.runOne(ctx, market)
	return nil
}

// Unsubscribe stops tracking a market. The durable projection is retained;
// only the hot-cache entry is invalidated. A sync already in flight for
// the market discards its result.
func (m *Manager) Unsubscribe(ctx context.Context, market domain.Address) {
	if !m.registry.Unsubscribe(market) {
		return
	}

	m.metrics.SubscribedMarkets.Set(float64(m.registry.Len()))
	m.stopWatcher(market)
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, market); err != nil {
			m.logger.WarnContext(ctx, "cache invalidation failed",
				slog.String("market", market.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	m.logger.InfoContext(ctx, "market unsubscribed", slog.String("market", market.String()))
}

// RegisterPosition records a position account under a subscribed market and
// refreshes it immediately. Registration happens right after the position
// is opened on the ledger, so a not-yet-visible account is not an error.
func (m *Manager) RegisterPosition(ctx context.Context, market, position domain.Address) error {
	if err := m.registry.RegisterPosition(market, position); err != nil {
		return fmt.Errorf("syncer: register position %s: market %s not subscribed: %w", position, market, err)
	}

	info, err := m.gateway.GetAccount(ctx, position)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.logger.DebugContext(ctx, "position not visible yet", slog.String("position", position.String()))
			return nil
		}
		m.logger.WarnContext(ctx, "initial position fetch failed, next tick retries",
			slog.String("position", position.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	m.upsertPosition(ctx, position, info, time.Now().UTC())
	return nil
}

// Run drives the scheduler until ctx is cancelled. Change hints from the
// subscriber trigger an early refresh of a single market; the jittered
// ticker remains the source of truth for convergence.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("sync manager starting",
		slog.Duration("interval", m.cfg.Interval),
		slog.Float64("jitter_fraction", m.cfg.JitterFraction),
		slog.Int("max_concurrent", m.cfg.MaxConcurrent),
	)

	m.setRunCtx(ctx)
	for _, market := range m.registry.Markets() {
		m.startWatcher(market)
	}

	timer := time.NewTimer(m.jittered())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync manager stopped")
			return ctx.Err()
		case market := <-m.hints:
			m.runOne(ctx, market)
		case <-timer.C:
			m.tick(ctx)
			timer.Reset(m.jittered())
		}
	}
}

// tick refreshes every subscribed market through a bounded worker pool,
// then rebuilds the listing cache and the staleness gauge.
func (m *Manager) tick(ctx context.Context) {
	start := time.Now()

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.MaxConcurrent)
	for _, market := range m.registry.Markets() {
		g.Go(func() error {
			m.runOne(ctx, market)
			return nil
		})
	}
	_ = g.Wait()

	m.refreshListing(ctx)
	m.metrics.SyncTicks.Inc()
	m.metrics.SyncTickDuration.Observe(time.Since(start).Seconds())
}

// runOne syncs a single market unless one is already in flight for it.
func (m *Manager) runOne(ctx context.Context, market domain.Address) {
	if !m.registry.tryBegin(market) {
		m.metrics.MarketSyncs.WithLabelValues(observability.OutcomeSkipped).Inc()
		return
	}
	defer m.registry.end(market)

	if err := m.syncMarket(ctx, market); err != nil {
		m.logger.WarnContext(ctx, "market sync failed, projection unchanged",
			slog.String("market", market.String()),
			slog.String("error", err.Error()),
		)
	}
}

// syncMarket is the per-market pipeline: fetch, decode, refresh positions,
// derive, detect transitions, persist, dispatch. Any failure before the
// upsert leaves the previous projection untouched.
func (m *Manager) syncMarket(ctx context.Context, market domain.Address) error {
	now := time.Now().UTC()

	info, err := m.gateway.GetAccount(ctx, market)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			m.metrics.MarketSyncs.WithLabelValues(observability.OutcomeNotFound).Inc()
			m.logger.WarnContext(ctx, "market account missing from ledger",
				slog.String("market", market.String()),
			)
			return nil
		}
		m.metrics.MarketSyncs.WithLabelValues(observability.OutcomeGatewayError).Inc()
		return fmt.Errorf("syncer: fetch market %s: %w", market, err)
	}

	rec, err := codec.DecodeMarket(info.Data)
	if err != nil {
		m.metrics.MarketSyncs.WithLabelValues(observability.OutcomeDecodeError).Inc()
		return fmt.Errorf("syncer: decode market %s: %w", market, err)
	}

	prev, err := m.markets.Get(ctx, market)
	firstSight := errors.Is(err, domain.ErrNotFound)
	if err != nil && !firstSight {
		m.metrics.MarketSyncs.WithLabelValues(observability.OutcomeStoreError).Inc()
		return fmt.Errorf("syncer: load projection %s: %w", market, err)
	}

	curr := domain.MarketProjection{
		Address:      market,
		Record:       rec,
		LastSlot:     info.Slot,
		LastSyncedAt: now,
		CreatedAt:    now,
	}
	if !firstSight {
		curr.CreatedAt = prev.CreatedAt
		curr.NotifiedResolution = prev.NotifiedResolution
		curr.NotifiedPhase = prev.NotifiedPhase
		curr.NotifiedTargetReached = prev.NotifiedTargetReached
	}

	m.refreshPositions(ctx, market, now)

	yes, no, err := m.posStore.CountHolders(ctx, market)
	if err != nil {
		m.logger.WarnContext(ctx, "holder count failed, keeping previous",
			slog.String("market", market.String()),
			slog.String("error", err.Error()),
		)
		yes, no = prev.YesHolders, prev.NoHolders
	}
	curr.YesHolders, curr.NoHolders = yes, no

	derive(&curr, now)
	events := notify.Detect(&curr, firstSight, now)

	// Unsubscribed while this sync was in flight: discard the result.
	if !m.registry.Contains(market) {
		return nil
	}

	if err := m.markets.Upsert(ctx, curr); err != nil {
		m.metrics.MarketSyncs.WithLabelValues(observability.OutcomeStoreError).Inc()
		return fmt.Errorf("syncer: persist projection %s: %w", market, err)
	}
	if m.cache != nil {
		if err := m.cache.Set(ctx, curr); err != nil {
			m.logger.WarnContext(ctx, "cache write failed",
				slog.String("market", market.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	// Markers are already persisted, so a dispatch failure here can drop a
	// chat message but never duplicate one.
	if len(events) > 0 {
		for _, ev := range events {
			m.metrics.TransitionsEmitted.WithLabelValues(string(ev.Kind)).Inc()
		}
		if err := m.notifier.Dispatch(ctx, events); err != nil {
			m.logger.ErrorContext(ctx, "transition dispatch incomplete",
				slog.String("market", market.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	m.registry.setLastSlot(market, info.Slot)
	m.metrics.MarketSyncs.WithLabelValues(observability.OutcomeOK).Inc()
	return nil
}

// refreshPositions batch-fetches the market's registered position accounts
// and upserts each decodable one. Accounts absent from the ledger are left
// alone; the reconciler owns the closed-account equivalence.
func (m *Manager) refreshPositions(ctx context.Context, market domain.Address, now time.Time) {
	addrs := m.registry.Positions(market)
	if len(addrs) == 0 {
		return
	}

	infos, err := m.gateway.GetAccounts(ctx, addrs)
	if err != nil {
		m.metrics.PositionSyncs.WithLabelValues(observability.OutcomeGatewayError).Inc()
		m.logger.WarnContext(ctx, "position refresh skipped this tick",
			slog.String("market", market.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, addr := range addrs {
		info, ok := infos[addr]
		if !ok {
			m.metrics.PositionSyncs.WithLabelValues(observability.OutcomeNotFound).Inc()
			continue
		}
		m.upsertPosition(ctx, addr, info, now)
	}
}

func (m *Manager) upsertPosition(ctx context.Context, addr domain.Address, info domain.AccountInfo, now time.Time) {
	rec, err := codec.DecodePosition(info.Data)
	if err != nil {
		m.metrics.PositionSyncs.WithLabelValues(observability.OutcomeDecodeError).Inc()
		m.logger.ErrorContext(ctx, "position decode failed, previous value retained",
			slog.String("position", addr.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	p := domain.PositionProjection{
		Address:      addr,
		Record:       rec,
		LastSlot:     info.Slot,
		LastSyncedAt: now,
	}
	if err := m.posStore.Upsert(ctx, p); err != nil {
		m.metrics.PositionSyncs.WithLabelValues(observability.OutcomeStoreError).Inc()
		m.logger.WarnContext(ctx, "position persist failed",
			slog.String("position", addr.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	m.metrics.PositionSyncs.WithLabelValues(observability.OutcomeOK).Inc()
}

// refreshListing rebuilds the hot listing cache from the store and updates
// the staleness gauge.
func (m *Manager) refreshListing(ctx context.Context) {
	active, err := m.markets.ListActive(ctx, domain.ListOpts{Limit: listingLimit})
	if err != nil {
		m.logger.WarnContext(ctx, "listing refresh failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	stale := 0
	for _, p := range active {
		if p.StaleSince(now, m.cfg.StaleThreshold) {
			stale++
		}
	}
	m.metrics.StaleProjections.Set(float64(stale))

	if m.cache == nil {
		return
	}
	if err := m.cache.SetListing(ctx, active); err != nil {
		m.logger.WarnContext(ctx, "listing cache write failed", slog.String("error", err.Error()))
	}
}

// jittered returns the next tick delay: Interval spread uniformly by
// ±Interval*JitterFraction.
func (m *Manager) jittered() time.Duration {
	if m.cfg.JitterFraction == 0 {
		return m.cfg.Interval
	}
	span := float64(m.cfg.Interval) * m.cfg.JitterFraction
	offset := (rand.Float64()*2 - 1) * span
	return time.Duration(float64(m.cfg.Interval) + offset)
}

func (m *Manager) setRunCtx(ctx context.Context) {
	m.watchMu.Lock()
	m.runCtx = ctx
	m.watchMu.Unlock()
}

// startWatcher subscribes to account-change hints for the market when a
// subscriber is configured and Run has started.
func (m *Manager) startWatcher(market domain.Address) {
	if m.sub == nil {
		return
	}

	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.runCtx == nil {
		return
	}
	if _, ok := m.watchers[market]; ok {
		return
	}

	ctx, cancel := context.WithCancel(m.runCtx)
	m.watchers[market] = cancel
	go m.watch(ctx, market)
}

func (m *Manager) stopWatcher(market domain.Address) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()

	if cancel, ok := m.watchers[market]; ok {
		cancel()
		delete(m.watchers, market)
	}
}

// watch forwards change hints into the scheduler. Hints are best effort: a
// full channel drops the hint and the next tick converges anyway.
func (m *Manager) watch(ctx context.Context, market domain.Address) {
	ch, err := m.sub.SubscribeAccount(ctx, market)
	if err != nil {
		m.logger.Warn("change hints unavailable, polling only",
			slog.String("market", market.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case m.hints <- market:
			default:
			}
		}
	}
}
