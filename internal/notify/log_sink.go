package notify

import (
	"context"
	"log/slog"

	"github.com/plp-labs/marketsync/internal/domain"
)

// LogSink records transition events in the structured log. It is always
// registered, so every transition leaves a trace even when no chat
// channel is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink writing through the given logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "transition-log"))}
}

// Emit logs the event at info level.
func (l *LogSink) Emit(ctx context.Context, ev domain.TransitionEvent) error {
	l.logger.InfoContext(ctx, "market transition",
		slog.String("market", ev.Market.String()),
		slog.String("kind", string(ev.Kind)),
		slog.String("resolution", ev.Resolution.String()),
		slog.String("phase", ev.Phase.String()),
		slog.Uint64("slot", ev.Slot),
	)
	return nil
}

// Name returns the sink identifier.
func (l *LogSink) Name() string {
	return "log"
}

// Compile-time interface check.
var _ domain.TransitionSink = (*LogSink)(nil)
