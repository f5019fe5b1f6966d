package domain

import "time"

// PositionRecord is the decoded form of an on-ledger position account: one
// participant's stake in one market.
type PositionRecord struct {
	// User is the wallet that owns the position.
	User Address

	// Market is the market this position belongs to.
	Market Address

	// YesShares and NoShares are plain counters, not tokens. The ledger
	// program enforces one side per wallet, so at most one is non-zero.
	YesShares uint64
	NoShares  uint64

	// TotalInvested is the total capital the user put in, used for refunds.
	TotalInvested uint64

	// Claimed records whether the payout has been taken. Monotonic: once
	// true it never legitimately becomes false again.
	Claimed bool
}

// Side returns "yes" or "no" for the side this position holds, or "" for
// an empty position.
func (p PositionRecord) Side() string {
	switch {
	case p.YesShares > 0:
		return "yes"
	case p.NoShares > 0:
		return "no"
	default:
		return ""
	}
}

// PositionProjection is the local cache record for one position account.
//
// A position account the ledger closes is the terminal signal that payout
// already happened: the projection is kept with Claimed=true and
// AccountClosed=true rather than deleted. That equivalence is applied by
// the reconciler, never re-derived at call sites.
type PositionProjection struct {
	Address Address
	Record  PositionRecord

	// AccountClosed is set when the ledger reports the account gone.
	AccountClosed bool

	LastSlot     uint64
	LastSyncedAt time.Time
	CreatedAt    time.Time
}
