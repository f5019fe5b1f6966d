package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/plp-labs/marketsync/internal/domain"
)

func TestPoolProgress(t *testing.T) {
	tests := []struct {
		name    string
		target  uint64
		balance uint64
		want    float64
	}{
		{"empty", 5_000_000_000, 0, 0},
		{"partial", 5_000_000_000, 4_500_000_000, 90},
		{"exact", 5_000_000_000, 5_000_000_000, 100},
		{"overfunded caps", 5_000_000_000, 5_100_000_000, 100},
		{"zero target", 0, 1_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := domain.MarketRecord{TargetPool: tt.target, PoolBalance: tt.balance}
			assert.InDelta(t, tt.want, poolProgress(rec), 0.001)
		})
	}
}

func TestLeadingSide(t *testing.T) {
	assert.Equal(t, "yes", leadingSide(domain.MarketRecord{TotalYesShares: 2, TotalNoShares: 1}))
	assert.Equal(t, "no", leadingSide(domain.MarketRecord{TotalYesShares: 1, TotalNoShares: 2}))
	assert.Equal(t, "tie", leadingSide(domain.MarketRecord{TotalYesShares: 3, TotalNoShares: 3}))
	assert.Equal(t, "tie", leadingSide(domain.MarketRecord{}))
}

func TestDeriveFlags(t *testing.T) {
	now := time.Now()

	p := domain.MarketProjection{Record: domain.MarketRecord{
		ExpiryTime: now.Add(-time.Hour).Unix(),
		Resolution: domain.ResolutionRefund,
	}}
	derive(&p, now)
	assert.True(t, p.IsExpired)
	assert.True(t, p.IsResolved)

	q := domain.MarketProjection{Record: domain.MarketRecord{
		ExpiryTime: now.Add(time.Hour).Unix(),
	}}
	derive(&q, now)
	assert.False(t, q.IsExpired)
	assert.False(t, q.IsResolved)
}
