package codec

import (
	"fmt"

	"github.com/plp-labs/marketsync/internal/domain"
)

// DecodePosition decodes a position account buffer. Every field through
// the claimed flag is mandatory; the trailing PDA bump byte the ledger
// program appends is ignored.
func DecodePosition(data []byte) (domain.PositionRecord, error) {
	var rec domain.PositionRecord

	if len(data) < discriminatorLen {
		return rec, fmt.Errorf("codec: position: buffer shorter than discriminator: %w", domain.ErrMalformedRecord)
	}
	r := &byteReader{buf: data, off: discriminatorLen}

	var ok bool
	if rec.User, ok = r.address(); !ok {
		return rec, malformedPosition("user")
	}
	if rec.Market, ok = r.address(); !ok {
		return rec, malformedPosition("market")
	}
	if rec.YesShares, ok = r.u64(); !ok {
		return rec, malformedPosition("yes_shares")
	}
	if rec.NoShares, ok = r.u64(); !ok {
		return rec, malformedPosition("no_shares")
	}
	if rec.TotalInvested, ok = r.u64(); !ok {
		return rec, malformedPosition("total_invested")
	}
	var b byte
	if b, ok = r.u8(); !ok {
		return rec, malformedPosition("claimed")
	}
	rec.Claimed = b != 0

	return rec, nil
}

func malformedPosition(field string) error {
	return fmt.Errorf("codec: position: truncated at %s: %w", field, domain.ErrMalformedRecord)
}
