// Package commands implements the mash-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/mash-protocol/mash-reporting/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer          *log.Layer
	Direction      *log.Direction
	Category       *log.Category
	TraceID        string
	SubscriptionID uint32
}

// filter converts the view criteria to a reader filter.
func (f ViewFilter) filter() log.Filter {
	return log.Filter{
		TraceID:        f.TraceID,
		Direction:      f.Direction,
		Layer:          f.Layer,
		Category:       f.Category,
		SubscriptionID: f.SubscriptionID,
	}
}

// eventType returns a short label for the event's payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.Report != nil:
		return "Report"
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [trace:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [trace:%s] %-3s %s %s", ts, shortenTraceID(event.TraceID),
		event.Direction.String(), event.Layer.String(), eventType(event))
	if event.SubscriptionID != 0 {
		fmt.Fprintf(w, " sub=%d", event.SubscriptionID)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.Report != nil:
		formatReportDetails(w, event.Report)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Remote: %s\n", event.RemoteAddr)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenTraceID returns the first 8 characters of the trace ID.
func shortenTraceID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  Exchange: %d  Sequence: %d\n", msg.Exchange, msg.Sequence)
	if msg.Status != nil {
		fmt.Fprintf(w, "  Status: %s (0x%02X)\n", msg.Status.String(), uint8(*msg.Status))
	}
	if msg.Size > 0 {
		fmt.Fprintf(w, "  Size: %d bytes\n", msg.Size)
	}
}

func formatReportDetails(w io.Writer, r *log.ReportEvent) {
	fmt.Fprintf(w, "  Transaction: %d\n", r.HandlerID)
	fmt.Fprintf(w, "  Items: %d attributes, %d events (%d bytes)\n", r.Attributes, r.Events, r.Size)

	var flags []string
	if r.MoreChunks {
		flags = append(flags, "more-chunks")
	}
	if r.Keepalive {
		flags = append(flags, "keepalive")
	}
	if r.EventsDropped {
		flags = append(flags, "events-dropped")
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, "  Flags: %s\n", strings.Join(flags, ","))
	}
	if r.LastEventNumber > 0 {
		fmt.Fprintf(w, "  LastEvent: %d\n", r.LastEventNumber)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Status != nil {
		fmt.Fprintf(w, "  Status: %s\n", err.Status.String())
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "engine":
		return log.LayerEngine, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, wire, or engine)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "report":
		return log.CategoryReport, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, report, state, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.filter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
	return nil
}
