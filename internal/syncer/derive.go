package syncer

import (
	"time"

	"github.com/plp-labs/marketsync/internal/domain"
)

// derive recomputes the presentation fields from the decoded record. It
// never writes into the record itself; the ledger's resolution byte stays
// authoritative even when the share majority suggests a different outcome.
func derive(p *domain.MarketProjection, now time.Time) {
	p.IsExpired = p.Record.Expired(now)
	p.IsResolved = p.Record.Resolution.Terminal()
	p.PoolProgressPct = poolProgress(p.Record)
	p.LeadingSide = leadingSide(p.Record)
}

// poolProgress returns the funding progress as a percentage, capped at 100
// so an overfunded pool never renders past full.
func poolProgress(rec domain.MarketRecord) float64 {
	if rec.TargetPool == 0 {
		return 0
	}
	pct := float64(rec.PoolBalance) / float64(rec.TargetPool) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// leadingSide reports which side holds the share majority right now. At
// expiry the ledger resolves by the same majority rule, so this doubles as
// the projected winner for unresolved markets.
func leadingSide(rec domain.MarketRecord) string {
	switch {
	case rec.TotalYesShares > rec.TotalNoShares:
		return "yes"
	case rec.TotalNoShares > rec.TotalYesShares:
		return "no"
	default:
		return "tie"
	}
}
