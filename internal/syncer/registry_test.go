package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plp-labs/marketsync/internal/domain"
)

func TestRegistrySubscribeIdempotent(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Subscribe(testMarket))
	assert.False(t, r.Subscribe(testMarket))
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Contains(testMarket))
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(testMarket)
	require.NoError(t, r.RegisterPosition(testMarket, testPos))

	assert.True(t, r.Unsubscribe(testMarket))
	assert.False(t, r.Unsubscribe(testMarket))
	assert.False(t, r.Contains(testMarket))
	assert.Nil(t, r.Positions(testMarket))
}

func TestRegistryRegisterPositionRequiresMarket(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterPosition(testMarket, testPos)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistryPositionsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(testMarket)
	require.NoError(t, r.RegisterPosition(testMarket, testPos))
	require.NoError(t, r.RegisterPosition(testMarket, testPos)) // duplicate collapses

	assert.Len(t, r.Positions(testMarket), 1)
}

func TestRegistryTickGuard(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(testMarket)

	assert.True(t, r.tryBegin(testMarket))
	assert.False(t, r.tryBegin(testMarket), "overlapping sync refused")
	r.end(testMarket)
	assert.True(t, r.tryBegin(testMarket))
}

func TestRegistryTickGuardUnknownMarket(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.tryBegin(testMarket))
}

func TestRegistryLastSlotMonotonic(t *testing.T) {
	r := NewRegistry()
	r.Subscribe(testMarket)

	r.setLastSlot(testMarket, 100)
	r.setLastSlot(testMarket, 90) // older slot ignored
	assert.Equal(t, uint64(100), r.LastSlot(testMarket))

	r.setLastSlot(testMarket, 110)
	assert.Equal(t, uint64(110), r.LastSlot(testMarket))
}
