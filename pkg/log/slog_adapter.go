package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("trace_id", event.TraceID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.SubscriptionID != 0 {
		attrs = append(attrs, slog.Uint64("subscription_id", uint64(event.SubscriptionID)))
	}

	// Add type-specific attributes
	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("msg_type", event.Message.Type.String()),
			slog.Uint64("sequence", uint64(event.Message.Sequence)),
			slog.Uint64("exchange", uint64(event.Message.Exchange)),
			slog.Int("size", event.Message.Size),
		)
		if event.Message.Status != nil {
			attrs = append(attrs, slog.String("status", event.Message.Status.String()))
		}
	case event.Report != nil:
		attrs = append(attrs,
			slog.Uint64("handler_id", uint64(event.Report.HandlerID)),
			slog.Int("attributes", event.Report.Attributes),
			slog.Int("events", event.Report.Events),
			slog.Int("size", event.Report.Size),
			slog.Bool("more_chunks", event.Report.MoreChunks),
		)
		if event.Report.LastEventNumber != 0 {
			attrs = append(attrs, slog.Uint64("last_event", event.Report.LastEventNumber))
		}
		if event.Report.EventsDropped {
			attrs = append(attrs, slog.Bool("events_dropped", true))
		}
		if event.Report.Keepalive {
			attrs = append(attrs, slog.Bool("keepalive", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Status != nil {
			attrs = append(attrs, slog.String("error_status", event.Error.Status.String()))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
