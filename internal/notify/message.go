package notify

import (
	"fmt"

	"github.com/plp-labs/marketsync/internal/domain"
)

// formatEvent renders a transition event as a (title, body) pair shared by
// the chat sinks. Addresses are shortened to keep chat messages readable;
// the full address is always available in the event log.
func formatEvent(ev domain.TransitionEvent) (string, string) {
	market := shortAddress(ev.Market)

	switch ev.Kind {
	case domain.TransitionMarketResolved:
		return "Market resolved",
			fmt.Sprintf("Market %s resolved as %s at slot %d.", market, ev.Resolution, ev.Slot)
	case domain.TransitionFundingPhaseEntered:
		return "Funding phase entered",
			fmt.Sprintf("Market %s moved into the funding phase at slot %d.", market, ev.Slot)
	case domain.TransitionPoolTargetReached:
		return "Pool target reached",
			fmt.Sprintf("Market %s reached its pool target at slot %d.", market, ev.Slot)
	default:
		return string(ev.Kind),
			fmt.Sprintf("Market %s: %s at slot %d.", market, ev.Kind, ev.Slot)
	}
}

func shortAddress(a domain.Address) string {
	s := a.String()
	if len(s) <= 12 {
		return s
	}
	return s[:6] + ".." + s[len(s)-4:]
}
