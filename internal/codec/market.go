package codec

import (
	"fmt"

	"github.com/plp-labs/marketsync/internal/domain"
)

// DecodeMarket decodes a market account buffer.
//
// The mandatory prefix runs from the founder identity through the
// resolution byte; a buffer too short for any of those fields returns
// ErrMalformedRecord. Everything after the resolution byte is the extended
// layout and decodes to documented defaults when absent, so legacy records
// never fail to decode.
func DecodeMarket(data []byte) (domain.MarketRecord, error) {
	var rec domain.MarketRecord

	if len(data) < discriminatorLen {
		return rec, fmt.Errorf("codec: market: buffer shorter than discriminator: %w", domain.ErrMalformedRecord)
	}
	r := &byteReader{buf: data, off: discriminatorLen}

	var ok bool
	if rec.Founder, ok = r.address(); !ok {
		return rec, malformedMarket("founder")
	}
	if rec.MetadataCID, ok = r.str(); !ok {
		return rec, malformedMarket("metadata_cid")
	}
	if rec.TargetPool, ok = r.u64(); !ok {
		return rec, malformedMarket("target_pool")
	}
	if rec.PoolBalance, ok = r.u64(); !ok {
		return rec, malformedMarket("pool_balance")
	}
	if rec.YesPool, ok = r.u64(); !ok {
		return rec, malformedMarket("yes_pool")
	}
	if rec.NoPool, ok = r.u64(); !ok {
		return rec, malformedMarket("no_pool")
	}
	if rec.TotalYesShares, ok = r.u64(); !ok {
		return rec, malformedMarket("total_yes_shares")
	}
	if rec.TotalNoShares, ok = r.u64(); !ok {
		return rec, malformedMarket("total_no_shares")
	}
	if rec.ExpiryTime, ok = r.i64(); !ok {
		return rec, malformedMarket("expiry_time")
	}
	var b byte
	if b, ok = r.u8(); !ok {
		return rec, malformedMarket("phase")
	}
	rec.Phase = domain.Phase(b)
	if b, ok = r.u8(); !ok {
		return rec, malformedMarket("resolution")
	}
	rec.Resolution = domain.Resolution(b)

	// Extended layout. Each field beyond this boundary may be absent in
	// older records; the first truncated field ends decoding with defaults
	// for everything that follows.
	if rec.TokenMint, ok = r.optionAddress(); !ok {
		return rec, nil
	}
	if rec.PlatformTokensAllocated, ok = r.u64(); !ok {
		return rec, nil
	}
	if b, ok = r.u8(); !ok {
		return rec, nil
	}
	rec.PlatformTokensClaimed = b != 0
	if rec.YesVoterTokensAllocated, ok = r.u64(); !ok {
		return rec, nil
	}
	if rec.Treasury, ok = r.address(); !ok {
		rec.Treasury = domain.ZeroAddress
		return rec, nil
	}
	if rec.LayoutVersion, ok = r.u8(); !ok {
		return rec, nil
	}

	return rec, nil
}

func malformedMarket(field string) error {
	return fmt.Errorf("codec: market: truncated at %s: %w", field, domain.ErrMalformedRecord)
}
