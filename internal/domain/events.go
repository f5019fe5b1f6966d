package domain

import "time"

// TransitionKind identifies a notifiable state transition detected between
// two consecutive projections of the same market.
type TransitionKind string

const (
	// TransitionMarketResolved fires once when the resolution moves from
	// unresolved to any terminal value.
	TransitionMarketResolved TransitionKind = "market_resolved"

	// TransitionFundingPhaseEntered fires once when the phase moves from
	// prediction to funding.
	TransitionFundingPhaseEntered TransitionKind = "funding_phase_entered"

	// TransitionPoolTargetReached fires once when the pool balance first
	// crosses the target threshold.
	TransitionPoolTargetReached TransitionKind = "pool_target_reached"
)

// TransitionEvent is the abstract event handed to downstream collaborators
// (notification and chat fan-out) when a market transition is detected.
// Each (market, kind) pair is emitted at most once per transition.
type TransitionEvent struct {
	ID         string         `json:"id"`
	Market     Address        `json:"market"`
	Kind       TransitionKind `json:"kind"`
	Resolution Resolution     `json:"resolution,omitempty"` // set for market_resolved
	Phase      Phase          `json:"phase"`
	Slot       uint64         `json:"slot"`
	OccurredAt time.Time      `json:"occurred_at"`
}
