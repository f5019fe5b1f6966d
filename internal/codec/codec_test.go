package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plp-labs/marketsync/internal/domain"
)

func fixtureMarket() domain.MarketRecord {
	var founder, treasury, mint domain.Address
	for i := range founder {
		founder[i] = byte(i + 1)
		treasury[i] = byte(0xA0 + i%16)
		mint[i] = byte(0x40 + i)
	}
	return domain.MarketRecord{
		Founder:                 founder,
		MetadataCID:             "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		TargetPool:              5_000_000_000,
		PoolBalance:             4_500_000_000,
		YesPool:                 1_000_000_000,
		NoPool:                  1_000_000_000,
		TotalYesShares:          120,
		TotalNoShares:           80,
		ExpiryTime:              1_735_689_600,
		Phase:                   domain.PhasePrediction,
		Resolution:              domain.ResolutionUnresolved,
		TokenMint:               &mint,
		PlatformTokensAllocated: 20_000_000,
		PlatformTokensClaimed:   true,
		YesVoterTokensAllocated: 650_000_000,
		Treasury:                treasury,
		LayoutVersion:           2,
	}
}

func fixturePosition() domain.PositionRecord {
	var user, market domain.Address
	user[0], market[0] = 0x11, 0x22
	return domain.PositionRecord{
		User:          user,
		Market:        market,
		YesShares:     42,
		NoShares:      0,
		TotalInvested: 250_000_000,
		Claimed:       false,
	}
}

func TestDecodeMarketRoundTrip(t *testing.T) {
	want := fixtureMarket()

	got, err := DecodeMarket(EncodeMarket(want))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestDecodeMarketLegacyDefaults(t *testing.T) {
	rec := fixtureMarket()
	// A legacy record carries only the mandatory prefix; with a two-byte
	// metadata pointer the body after the discriminator is exactly 96 bytes.
	rec.MetadataCID = "Qm"

	buf := EncodeMarketLegacy(rec)
	require.Equal(t, 96, len(buf)-discriminatorLen)

	got, err := DecodeMarket(buf)
	require.NoError(t, err)

	assert.Equal(t, rec.Founder, got.Founder)
	assert.Equal(t, rec.TargetPool, got.TargetPool)
	assert.Equal(t, rec.PoolBalance, got.PoolBalance)
	assert.Equal(t, rec.Phase, got.Phase)
	assert.Equal(t, rec.Resolution, got.Resolution)

	// Every extended field decodes to its documented default.
	assert.Nil(t, got.TokenMint)
	assert.Zero(t, got.PlatformTokensAllocated)
	assert.False(t, got.PlatformTokensClaimed)
	assert.Zero(t, got.YesVoterTokensAllocated)
	assert.Equal(t, domain.ZeroAddress, got.Treasury)
	assert.Zero(t, got.LayoutVersion)
}

func TestDecodeMarketAllLegacyLengths(t *testing.T) {
	// Any truncation point at or beyond the legacy boundary must decode
	// without error; the partially present extended fields fall back to
	// defaults.
	full := EncodeMarket(fixtureMarket())
	legacyLen := len(EncodeMarketLegacy(fixtureMarket()))

	for n := legacyLen; n <= len(full); n++ {
		_, err := DecodeMarket(full[:n])
		require.NoErrorf(t, err, "length %d", n)
	}
}

func TestDecodeMarketTruncatedMandatory(t *testing.T) {
	legacy := EncodeMarketLegacy(fixtureMarket())

	for n := 0; n < len(legacy); n++ {
		_, err := DecodeMarket(legacy[:n])
		require.Errorf(t, err, "length %d", n)
		assert.ErrorIsf(t, err, domain.ErrMalformedRecord, "length %d", n)
	}
}

func TestDecodeMarketPartialTreasuryDefaultsToZero(t *testing.T) {
	full := EncodeMarket(fixtureMarket())
	// Cut mid-way through the treasury identity: the partial field must
	// read as absent, not as garbage.
	cut := len(full) - 1 - domain.AddressLen/2

	got, err := DecodeMarket(full[:cut])
	require.NoError(t, err)
	assert.Equal(t, domain.ZeroAddress, got.Treasury)
	assert.Zero(t, got.LayoutVersion)
}

func TestDecodeMarketIgnoresDiscriminatorContents(t *testing.T) {
	buf := EncodeMarket(fixtureMarket())
	for i := 0; i < discriminatorLen; i++ {
		buf[i] = 0xFF
	}

	_, err := DecodeMarket(buf)
	assert.NoError(t, err)
}

func TestDecodeMarketCorruptStringLength(t *testing.T) {
	rec := fixtureMarket()
	buf := EncodeMarketLegacy(rec)
	// Overwrite the metadata length prefix with a value larger than the
	// remaining buffer.
	buf[discriminatorLen+domain.AddressLen] = 0xFF
	buf[discriminatorLen+domain.AddressLen+1] = 0xFF

	_, err := DecodeMarket(buf)
	assert.ErrorIs(t, err, domain.ErrMalformedRecord)
}

func TestDecodePositionRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*domain.PositionRecord)
	}{
		{"yes side unclaimed", func(p *domain.PositionRecord) {}},
		{"no side", func(p *domain.PositionRecord) {
			p.YesShares, p.NoShares = 0, 99
		}},
		{"claimed", func(p *domain.PositionRecord) {
			p.Claimed = true
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := fixturePosition()
			tt.mod(&want)

			got, err := DecodePosition(EncodePosition(want))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestDecodePositionTruncated(t *testing.T) {
	buf := EncodePosition(fixturePosition())
	// The trailing bump byte is optional; everything before the claimed
	// flag is mandatory.
	mandatory := len(buf) - 1

	for n := 0; n < mandatory; n++ {
		_, err := DecodePosition(buf[:n])
		assert.ErrorIsf(t, err, domain.ErrMalformedRecord, "length %d", n)
	}

	_, err := DecodePosition(buf[:mandatory])
	assert.NoError(t, err)
}

func TestPositionSide(t *testing.T) {
	p := fixturePosition()
	assert.Equal(t, "yes", p.Side())

	p.YesShares, p.NoShares = 0, 7
	assert.Equal(t, "no", p.Side())

	p.NoShares = 0
	assert.Equal(t, "", p.Side())
}
