package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/mash-protocol/mash-reporting/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Traces            map[string]*TraceStats
	Errors            int
	Truncated         bool
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// TraceStats holds statistics for a single connection or transaction.
type TraceStats struct {
	FirstSeen      time.Time
	LastSeen       time.Time
	Events         int
	SubscriptionID uint32
	LastState      string

	Reports       int
	Chunks        int
	Keepalives    int
	ReportBytes   int
	MaxReport     int
	Attributes    int
	EventItems    int
	EventsDropped int
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Traces:            make(map[string]*TraceStats),
	}

	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}
	stats.Truncated = reader.Truncated()

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	tr, ok := s.Traces[event.TraceID]
	if !ok {
		tr = &TraceStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
		}
		s.Traces[event.TraceID] = tr
	}
	tr.Events++
	if event.Timestamp.After(tr.LastSeen) {
		tr.LastSeen = event.Timestamp
	}
	if event.SubscriptionID != 0 {
		tr.SubscriptionID = event.SubscriptionID
	}

	switch {
	case event.Report != nil:
		r := event.Report
		tr.Chunks++
		// A report ends with the chunk that has no more chunks after it.
		if !r.MoreChunks {
			tr.Reports++
		}
		if r.Keepalive {
			tr.Keepalives++
		}
		if r.EventsDropped {
			tr.EventsDropped++
		}
		tr.ReportBytes += r.Size
		tr.MaxReport = max(tr.MaxReport, r.Size)
		tr.Attributes += r.Attributes
		tr.EventItems += r.Events
	case event.StateChange != nil:
		tr.LastState = event.StateChange.NewState
	case event.Error != nil:
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== MASH Reporting Trace Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	if stats.Truncated {
		fmt.Fprintln(w, "Warning: trace ends in a partial record")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerEngine} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryReport, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Traces: %d\n", len(stats.Traces))
	if len(stats.Traces) > 0 {
		type traceInfo struct {
			id    string
			stats *TraceStats
		}
		traces := make([]traceInfo, 0, len(stats.Traces))
		for id, ts := range stats.Traces {
			traces = append(traces, traceInfo{id, ts})
		}
		sort.Slice(traces, func(i, j int) bool {
			if traces[i].stats.FirstSeen.Equal(traces[j].stats.FirstSeen) {
				return traces[i].id < traces[j].id
			}
			return traces[i].stats.FirstSeen.Before(traces[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, t := range traces {
			duration := t.stats.LastSeen.Sub(t.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, duration %s\n", shortenTraceID(t.id), t.stats.Events, duration)
			if t.stats.SubscriptionID != 0 {
				fmt.Fprintf(w, "           Subscription: %d\n", t.stats.SubscriptionID)
			}
			if t.stats.Chunks > 0 {
				fmt.Fprintf(w, "           Reports: %d in %d chunks, %d keepalive, %d bytes (max %d)\n",
					t.stats.Reports, t.stats.Chunks, t.stats.Keepalives, t.stats.ReportBytes, t.stats.MaxReport)
				fmt.Fprintf(w, "           Items: %d attributes, %d events\n", t.stats.Attributes, t.stats.EventItems)
			}
			if t.stats.EventsDropped > 0 {
				fmt.Fprintf(w, "           Events dropped: %d reports\n", t.stats.EventsDropped)
			}
			if t.stats.LastState != "" {
				fmt.Fprintf(w, "           State: %s\n", t.stats.LastState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
