package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mash-protocol/mash-reporting/pkg/log"
)

// RunExport exports the log file to the specified format. An empty output
// writes to stdout.
func RunExport(path, format, output string, stdout io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

var csvHeader = []string{
	"timestamp", "trace_id", "direction", "layer", "category", "subscription_id",
	"type", "sequence", "size", "attributes", "events", "status",
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var seq, size, attrs, events, status string
		switch {
		case event.Frame != nil:
			size = strconv.Itoa(event.Frame.Size)
		case event.Message != nil:
			seq = strconv.FormatUint(uint64(event.Message.Sequence), 10)
			size = strconv.Itoa(event.Message.Size)
			if event.Message.Status != nil {
				status = event.Message.Status.String()
			}
		case event.Report != nil:
			size = strconv.Itoa(event.Report.Size)
			attrs = strconv.Itoa(event.Report.Attributes)
			events = strconv.Itoa(event.Report.Events)
		case event.StateChange != nil:
			status = event.StateChange.NewState
		case event.Error != nil && event.Error.Status != nil:
			status = event.Error.Status.String()
		}

		sub := ""
		if event.SubscriptionID != 0 {
			sub = strconv.FormatUint(uint64(event.SubscriptionID), 10)
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.TraceID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			sub,
			eventType(event),
			seq,
			size,
			attrs,
			events,
			status,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}
