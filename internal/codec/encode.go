package codec

import (
	"encoding/binary"

	"github.com/plp-labs/marketsync/internal/domain"
)

// Encoding is the exact inverse of decoding and exists for test fixtures
// only: production writes happen exclusively through ledger transactions,
// outside this system.

// EncodeMarket encodes a market record in the full (v2) layout, including
// the discriminator prefix.
func EncodeMarket(rec domain.MarketRecord) []byte {
	buf := EncodeMarketLegacy(rec)

	if rec.TokenMint != nil {
		buf = append(buf, 1)
		buf = append(buf, rec.TokenMint[:]...)
	} else {
		buf = append(buf, 0)
	}
	buf = appendU64(buf, rec.PlatformTokensAllocated)
	buf = appendBool(buf, rec.PlatformTokensClaimed)
	buf = appendU64(buf, rec.YesVoterTokensAllocated)
	buf = append(buf, rec.Treasury[:]...)
	buf = append(buf, rec.LayoutVersion)

	return buf
}

// EncodeMarketLegacy encodes only the mandatory prefix fields, producing a
// record as minted before the extended layout existed.
func EncodeMarketLegacy(rec domain.MarketRecord) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, marketDiscriminator[:]...)
	buf = append(buf, rec.Founder[:]...)
	buf = appendString(buf, rec.MetadataCID)
	buf = appendU64(buf, rec.TargetPool)
	buf = appendU64(buf, rec.PoolBalance)
	buf = appendU64(buf, rec.YesPool)
	buf = appendU64(buf, rec.NoPool)
	buf = appendU64(buf, rec.TotalYesShares)
	buf = appendU64(buf, rec.TotalNoShares)
	buf = appendU64(buf, uint64(rec.ExpiryTime))
	buf = append(buf, byte(rec.Phase), byte(rec.Resolution))
	return buf
}

// EncodePosition encodes a position record, including the discriminator
// prefix and the trailing PDA bump byte the program appends.
func EncodePosition(rec domain.PositionRecord) []byte {
	buf := make([]byte, 0, 104)
	buf = append(buf, positionDiscriminator[:]...)
	buf = append(buf, rec.User[:]...)
	buf = append(buf, rec.Market[:]...)
	buf = appendU64(buf, rec.YesShares)
	buf = appendU64(buf, rec.NoShares)
	buf = appendU64(buf, rec.TotalInvested)
	buf = appendBool(buf, rec.Claimed)
	buf = append(buf, 0) // bump
	return buf
}

func appendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}
