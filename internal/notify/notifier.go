// Package notify detects market state transitions between consecutive
// projections and fans the resulting events out to all configured sinks
// (postgres event log, redis stream, Telegram, Discord). Notification
// markers on the projection make each (market, kind) transition fire at
// most once.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/plp-labs/marketsync/internal/domain"
)

// eventID builds a deterministic event identifier so re-emitting after a
// partial dispatch stays idempotent in the durable log.
func eventID(market domain.Address, kind domain.TransitionKind) string {
	return market.String() + ":" + string(kind)
}

// Detect compares the projection's record against its notification markers
// and returns the transitions that have not yet been announced. It advances
// the markers on curr in place; the caller persists curr (markers included)
// before dispatching, so a crash between persist and dispatch can suppress
// a chat message but never duplicate one.
//
// When firstSight is true the markers are initialized from the current
// record without emitting: discovering a market mid-life is not a
// transition.
func Detect(curr *domain.MarketProjection, firstSight bool, now time.Time) []domain.TransitionEvent {
	if firstSight {
		curr.NotifiedResolution = curr.Record.Resolution
		curr.NotifiedPhase = curr.Record.Phase
		curr.NotifiedTargetReached = targetReached(curr.Record)
		return nil
	}

	var events []domain.TransitionEvent

	if curr.Record.Resolution.Terminal() && !curr.NotifiedResolution.Terminal() {
		events = append(events, domain.TransitionEvent{
			ID:         eventID(curr.Address, domain.TransitionMarketResolved),
			Market:     curr.Address,
			Kind:       domain.TransitionMarketResolved,
			Resolution: curr.Record.Resolution,
			Phase:      curr.Record.Phase,
			Slot:       curr.LastSlot,
			OccurredAt: now,
		})
		curr.NotifiedResolution = curr.Record.Resolution
	}

	if curr.Record.Phase == domain.PhaseFunding && curr.NotifiedPhase != domain.PhaseFunding {
		events = append(events, domain.TransitionEvent{
			ID:         eventID(curr.Address, domain.TransitionFundingPhaseEntered),
			Market:     curr.Address,
			Kind:       domain.TransitionFundingPhaseEntered,
			Phase:      curr.Record.Phase,
			Slot:       curr.LastSlot,
			OccurredAt: now,
		})
		curr.NotifiedPhase = domain.PhaseFunding
	}

	if targetReached(curr.Record) && !curr.NotifiedTargetReached {
		events = append(events, domain.TransitionEvent{
			ID:         eventID(curr.Address, domain.TransitionPoolTargetReached),
			Market:     curr.Address,
			Kind:       domain.TransitionPoolTargetReached,
			Phase:      curr.Record.Phase,
			Slot:       curr.LastSlot,
			OccurredAt: now,
		})
		curr.NotifiedTargetReached = true
	}

	return events
}

func targetReached(rec domain.MarketRecord) bool {
	return rec.TargetPool > 0 && rec.PoolBalance >= rec.TargetPool
}

// Notifier dispatches transition events to one or more sinks. A single
// sink failure does not prevent delivery to the remaining sinks.
type Notifier struct {
	sinks  []domain.TransitionSink
	logger *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given sinks.
func NewNotifier(logger *slog.Logger, sinks ...domain.TransitionSink) *Notifier {
	return &Notifier{
		sinks:  sinks,
		logger: logger.With(slog.String("component", "notifier")),
	}
}

// Dispatch delivers every event to every sink, collecting failures into a
// combined error.
func (n *Notifier) Dispatch(ctx context.Context, events []domain.TransitionEvent) error {
	if len(events) == 0 || len(n.sinks) == 0 {
		return nil
	}

	var errs []string
	for _, ev := range events {
		for _, s := range n.sinks {
			if err := s.Emit(ctx, ev); err != nil {
				n.logger.ErrorContext(ctx, "sink failed",
					slog.String("sink", s.Name()),
					slog.String("event", ev.ID),
					slog.String("error", err.Error()),
				)
				errs = append(errs, fmt.Sprintf("%s/%s: %v", s.Name(), ev.Kind, err))
				continue
			}
			n.logger.DebugContext(ctx, "transition delivered",
				slog.String("sink", s.Name()),
				slog.String("event", ev.ID),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d delivery failure(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
