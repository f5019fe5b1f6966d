package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plp-labs/marketsync/internal/domain"
	"github.com/plp-labs/marketsync/internal/observability"
)

type memBlob struct {
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (m *memBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = buf
	return nil
}

func (m *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type fixedMarkets struct {
	resolved []domain.MarketProjection
}

func (s fixedMarkets) Upsert(context.Context, domain.MarketProjection) error { return nil }
func (s fixedMarkets) Get(context.Context, domain.Address) (domain.MarketProjection, error) {
	return domain.MarketProjection{}, domain.ErrNotFound
}
func (s fixedMarkets) ListActive(context.Context, domain.ListOpts) ([]domain.MarketProjection, error) {
	return nil, nil
}
func (s fixedMarkets) ListAll(context.Context, domain.ListOpts) ([]domain.MarketProjection, error) {
	return nil, nil
}
func (s fixedMarkets) ListResolvedBefore(context.Context, time.Time) ([]domain.MarketProjection, error) {
	return s.resolved, nil
}
func (s fixedMarkets) Count(context.Context) (int64, error) { return 0, nil }

type fixedEvents struct {
	events []domain.TransitionEvent
}

func (s fixedEvents) Insert(context.Context, domain.TransitionEvent) error { return nil }
func (s fixedEvents) ListByMarket(context.Context, domain.Address, domain.ListOpts) ([]domain.TransitionEvent, error) {
	return nil, nil
}
func (s fixedEvents) ListBefore(context.Context, time.Time) ([]domain.TransitionEvent, error) {
	return s.events, nil
}

func newTestArchiver(markets []domain.MarketProjection, events []domain.TransitionEvent) (*Archiver, *memBlob) {
	blob := newMemBlob()
	a := NewArchiver(blob, blob,
		fixedMarkets{resolved: markets},
		fixedEvents{events: events},
		30*24*time.Hour,
		observability.NewMetrics(prometheus.NewRegistry()),
		slog.New(slog.DiscardHandler),
	)
	return a, blob
}

func TestArchiveResolvedMarkets(t *testing.T) {
	market := domain.MustAddress("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	a, blob := newTestArchiver([]domain.MarketProjection{
		{Address: market, IsResolved: true},
		{Address: market, IsResolved: true},
	}, nil)

	n, err := a.ArchiveResolvedMarkets(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, ok := blob.objects["archive/markets/2026-08.jsonl"]
	require.True(t, ok, "archive partitioned by cutoff month")
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	assert.Len(t, lines, 2, "one JSON line per record")
	assert.Contains(t, string(lines[0]), market.String())
}

func TestArchiveTransitions(t *testing.T) {
	market := domain.MustAddress("4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T")
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	a, blob := newTestArchiver(nil, []domain.TransitionEvent{
		{ID: "ev-1", Market: market, Kind: domain.TransitionMarketResolved},
	})

	n, err := a.ArchiveTransitions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	data, ok := blob.objects["archive/transitions/2026-08.jsonl"]
	require.True(t, ok)
	assert.True(t, strings.Contains(string(data), "market_resolved"))
}

func TestArchiveNothingToDo(t *testing.T) {
	a, blob := newTestArchiver(nil, nil)

	require.NoError(t, a.ArchiveAll(context.Background(), time.Now()))
	assert.Empty(t, blob.objects, "no upload when nothing matches the cutoff")
}
