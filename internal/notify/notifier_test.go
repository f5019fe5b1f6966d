package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plp-labs/marketsync/internal/domain"
)

func testProjection(t *testing.T) domain.MarketProjection {
	t.Helper()
	addr, err := domain.ParseAddress("11111111111111111111111111111111")
	require.NoError(t, err)
	return domain.MarketProjection{
		Address: addr,
		Record: domain.MarketRecord{
			TargetPool:  5_000_000_000,
			PoolBalance: 1_000_000_000,
			Phase:       domain.PhasePrediction,
			Resolution:  domain.ResolutionUnresolved,
		},
		LastSlot: 42,
	}
}

func TestDetectFirstSightEmitsNothing(t *testing.T) {
	p := testProjection(t)
	p.Record.Resolution = domain.ResolutionYesWins
	p.Record.Phase = domain.PhaseFunding
	p.Record.PoolBalance = p.Record.TargetPool

	events := Detect(&p, true, time.Now())

	assert.Empty(t, events)
	assert.Equal(t, domain.ResolutionYesWins, p.NotifiedResolution)
	assert.Equal(t, domain.PhaseFunding, p.NotifiedPhase)
	assert.True(t, p.NotifiedTargetReached)
}

func TestDetectResolutionFiresOnce(t *testing.T) {
	p := testProjection(t)
	p.Record.Resolution = domain.ResolutionNoWins

	events := Detect(&p, false, time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, domain.TransitionMarketResolved, events[0].Kind)
	assert.Equal(t, domain.ResolutionNoWins, events[0].Resolution)
	assert.Equal(t, uint64(42), events[0].Slot)

	// A later tick re-observes the same resolved record. The marker,
	// advanced above, suppresses a duplicate.
	events = Detect(&p, false, time.Now())
	assert.Empty(t, events)
}

func TestDetectFundingPhaseFiresOnce(t *testing.T) {
	p := testProjection(t)
	p.Record.Phase = domain.PhaseFunding

	events := Detect(&p, false, time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, domain.TransitionFundingPhaseEntered, events[0].Kind)

	events = Detect(&p, false, time.Now())
	assert.Empty(t, events)
}

func TestDetectTargetReached(t *testing.T) {
	p := testProjection(t)

	// Below target: nothing fires.
	events := Detect(&p, false, time.Now())
	assert.Empty(t, events)

	// Crossing the target fires exactly once, even when the balance keeps
	// climbing on later ticks.
	p.Record.PoolBalance = 5_100_000_000
	events = Detect(&p, false, time.Now())
	require.Len(t, events, 1)
	assert.Equal(t, domain.TransitionPoolTargetReached, events[0].Kind)

	p.Record.PoolBalance = 6_000_000_000
	events = Detect(&p, false, time.Now())
	assert.Empty(t, events)
}

func TestDetectZeroTargetNeverFires(t *testing.T) {
	p := testProjection(t)
	p.Record.TargetPool = 0
	p.Record.PoolBalance = 1

	events := Detect(&p, false, time.Now())
	assert.Empty(t, events)
}

func TestDetectMultipleTransitionsInOneTick(t *testing.T) {
	p := testProjection(t)
	p.Record.Resolution = domain.ResolutionYesWins
	p.Record.Phase = domain.PhaseFunding
	p.Record.PoolBalance = p.Record.TargetPool

	events := Detect(&p, false, time.Now())
	require.Len(t, events, 3)

	kinds := map[domain.TransitionKind]bool{}
	for _, ev := range events {
		kinds[ev.Kind] = true
	}
	assert.True(t, kinds[domain.TransitionMarketResolved])
	assert.True(t, kinds[domain.TransitionFundingPhaseEntered])
	assert.True(t, kinds[domain.TransitionPoolTargetReached])
}

func TestDetectDeterministicEventIDs(t *testing.T) {
	p1 := testProjection(t)
	p1.Record.Resolution = domain.ResolutionYesWins
	p2 := testProjection(t)
	p2.Record.Resolution = domain.ResolutionYesWins

	ev1 := Detect(&p1, false, time.Now())
	ev2 := Detect(&p2, false, time.Now())
	require.Len(t, ev1, 1)
	require.Len(t, ev2, 1)

	// Same market, same transition: same ID, so the durable event log can
	// deduplicate a re-dispatch.
	assert.Equal(t, ev1[0].ID, ev2[0].ID)
}

type recordingSink struct {
	name   string
	events []domain.TransitionEvent
	err    error
}

func (r *recordingSink) Emit(_ context.Context, ev domain.TransitionEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) Name() string { return r.name }

func TestDispatchDeliversToAllSinks(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	n := NewNotifier(logger, a, b)

	p := testProjection(t)
	p.Record.Resolution = domain.ResolutionRefund
	events := Detect(&p, false, time.Now())

	require.NoError(t, n.Dispatch(context.Background(), events))
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestDispatchContinuesPastFailingSink(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	bad := &recordingSink{name: "bad", err: errors.New("webhook down")}
	good := &recordingSink{name: "good"}
	n := NewNotifier(logger, bad, good)

	p := testProjection(t)
	p.Record.Phase = domain.PhaseFunding
	events := Detect(&p, false, time.Now())

	err := n.Dispatch(context.Background(), events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad/funding_phase_entered")
	assert.Len(t, good.events, 1, "healthy sink still receives the event")
}

func TestDispatchNoSinksNoError(t *testing.T) {
	n := NewNotifier(slog.New(slog.DiscardHandler))
	p := testProjection(t)
	p.Record.Phase = domain.PhaseFunding
	events := Detect(&p, false, time.Now())
	require.NoError(t, n.Dispatch(context.Background(), events))
}
