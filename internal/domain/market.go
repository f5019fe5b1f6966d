package domain

import "time"

// Phase is a market's lifecycle stage, independent of resolution. Markets
// trade in the prediction phase until the target pool is reached, after
// which the founder may extend them into the funding phase.
type Phase uint8

const (
	PhasePrediction Phase = iota
	PhaseFunding
)

// String returns the lowercase phase name used in logs and projections.
func (p Phase) String() string {
	switch p {
	case PhasePrediction:
		return "prediction"
	case PhaseFunding:
		return "funding"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known phase value.
func (p Phase) Valid() bool {
	return p == PhasePrediction || p == PhaseFunding
}

// Resolution is a market's terminal outcome once decided. All non-zero
// values are terminal: a resolved market never becomes unresolved again.
type Resolution uint8

const (
	ResolutionUnresolved Resolution = iota
	ResolutionYesWins
	ResolutionNoWins
	ResolutionRefund
)

// String returns the lowercase resolution name used in logs and events.
func (r Resolution) String() string {
	switch r {
	case ResolutionUnresolved:
		return "unresolved"
	case ResolutionYesWins:
		return "yes_wins"
	case ResolutionNoWins:
		return "no_wins"
	case ResolutionRefund:
		return "refund"
	default:
		return "unknown"
	}
}

// Terminal reports whether r is a terminal resolution state.
func (r Resolution) Terminal() bool {
	return r != ResolutionUnresolved
}

// Valid reports whether r is a known resolution value.
func (r Resolution) Valid() bool {
	return r <= ResolutionRefund
}

// MarketRecord is the decoded form of an on-ledger market account.
//
// Fields up to and including Resolution are mandatory in every account
// version. Everything after is the extended (v2) layout: records minted
// before those fields existed decode them to their documented defaults
// (zero / false / ZeroAddress) and remain decodable forever.
type MarketRecord struct {
	// Founder is the wallet that created the market.
	Founder Address

	// MetadataCID is the content-addressed pointer to the market's
	// off-ledger metadata document.
	MetadataCID string

	// TargetPool is the capital target in lamports.
	TargetPool uint64

	// PoolBalance is the capital currently held by the market.
	PoolBalance uint64

	// YesPool and NoPool are the two-sided AMM reserve balances.
	YesPool uint64
	NoPool  uint64

	// TotalYesShares and TotalNoShares are the outstanding share counts
	// used to determine the winning side at expiry.
	TotalYesShares uint64
	TotalNoShares  uint64

	// ExpiryTime is the unix timestamp (seconds) when trading stops.
	ExpiryTime int64

	Phase      Phase
	Resolution Resolution

	// --- extended (v2) fields; absent in legacy records ---

	// TokenMint is the launched-asset identifier, set after a YesWins
	// resolution once the token has been created. May arrive on a later
	// sync than the resolution itself.
	TokenMint *Address

	// PlatformTokensAllocated is the platform's token allocation.
	PlatformTokensAllocated uint64

	// PlatformTokensClaimed records whether the platform allocation has
	// been claimed. Monotonic: once true it never legitimately resets.
	PlatformTokensClaimed bool

	// YesVoterTokensAllocated is the allocation distributed pro rata to
	// yes-side holders.
	YesVoterTokensAllocated uint64

	// Treasury is the platform treasury address.
	Treasury Address

	// LayoutVersion is the account layout marker written by the migration
	// instruction; 0 for legacy records.
	LayoutVersion uint8
}

// Expired reports whether the market's trading window has passed at the
// given instant.
func (m MarketRecord) Expired(now time.Time) bool {
	return m.ExpiryTime > 0 && now.Unix() >= m.ExpiryTime
}

// MarketProjection is the local cache record for one market account: the
// decoded ledger state plus sync metadata, derived presentation fields,
// and the notification markers that make transition emission exactly-once.
//
// Projections are written only by the sync manager and the reconciler and
// are never deleted while the market is reachable from the ledger; a
// closed account leaves a terminal projection, not a missing one.
type MarketProjection struct {
	Address Address
	Record  MarketRecord

	// Derived fields, recomputed on every sync tick.
	IsExpired       bool
	IsResolved      bool
	PoolProgressPct float64 // capped at 100
	LeadingSide     string  // "yes", "no", or "tie" by outstanding shares
	YesHolders      int
	NoHolders       int

	// Notification markers. Persisted in the same upsert as the record
	// data so a re-discovered transition cannot be emitted twice.
	NotifiedResolution    Resolution
	NotifiedPhase         Phase
	NotifiedTargetReached bool

	// LastSlot is the ledger slot observed on the most recent sync.
	LastSlot uint64

	LastSyncedAt time.Time
	CreatedAt    time.Time
}

// StaleSince reports whether the projection has not been refreshed within
// the given threshold. Used only as a diagnostic signal for operators; a
// stale projection is still served for non-gating reads.
func (p MarketProjection) StaleSince(now time.Time, threshold time.Duration) bool {
	return threshold > 0 && !p.LastSyncedAt.IsZero() && now.Sub(p.LastSyncedAt) > threshold
}
