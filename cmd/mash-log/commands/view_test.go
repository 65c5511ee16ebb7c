package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

func TestFormatFrameEvent(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 123456000, time.UTC)
	event := log.Event{
		Timestamp: ts,
		TraceID:   "abc12345-6789-0123-4567-890abcdef012",
		Direction: log.DirectionOut,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      128,
			Data:      []byte{0xa1, 0x01, 0x02, 0x03},
			Truncated: true,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{
		"2026-01-28T10:15:32.123456Z",
		"[trace:abc12345]",
		"OUT",
		"TRANSPORT Frame",
		"Size: 128 bytes",
		"Data: a1010203 (truncated)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q, got: %s", want, output)
		}
	}
}

func TestFormatMessageEvent(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	status := wire.StatusResourceExhausted
	event := log.Event{
		Timestamp:  ts,
		TraceID:    "abc12345",
		Direction:  log.DirectionOut,
		Layer:      log.LayerWire,
		Category:   log.CategoryMessage,
		RemoteAddr: "10.0.0.2:40000",
		Message: &log.MessageEvent{
			Type:     wire.MessageTypeStatusResponse,
			Sequence: 4,
			Exchange: 2,
			Status:   &status,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{
		"WIRE StatusResponse",
		"Exchange: 2  Sequence: 4",
		"Status: RESOURCE_EXHAUSTED (0x89)",
		"Remote: 10.0.0.2:40000",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q, got: %s", want, output)
		}
	}
}

func TestFormatReportEvent(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC)
	event := log.Event{
		Timestamp:      ts,
		TraceID:        "abc12345",
		Direction:      log.DirectionOut,
		Layer:          log.LayerEngine,
		Category:       log.CategoryReport,
		SubscriptionID: 9,
		Report: &log.ReportEvent{
			HandlerID:       3,
			Attributes:      5,
			Events:          2,
			Size:            512,
			MoreChunks:      true,
			LastEventNumber: 41,
			EventsDropped:   true,
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{
		"ENGINE Report sub=9",
		"Transaction: 3",
		"Items: 5 attributes, 2 events (512 bytes)",
		"Flags: more-chunks,events-dropped",
		"LastEvent: 41",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q, got: %s", want, output)
		}
	}
}

func TestFormatStateChangeEvent(t *testing.T) {
	event := log.Event{
		Timestamp: time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC),
		TraceID:   "abc12345",
		Layer:     log.LayerEngine,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityTransaction,
			OldState: "AWAITING_ACK",
			NewState: "CLOSED",
			Reason:   "ack timeout",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	if !strings.Contains(output, "Entity: TRANSACTION") {
		t.Errorf("expected entity, got: %s", output)
	}
	if !strings.Contains(output, "AWAITING_ACK -> CLOSED") {
		t.Errorf("expected state transition, got: %s", output)
	}
	if !strings.Contains(output, "Reason: ack timeout") {
		t.Errorf("expected reason, got: %s", output)
	}
}

func TestFormatErrorEvent(t *testing.T) {
	status := wire.StatusTimeout
	event := log.Event{
		Timestamp: time.Date(2026, 1, 28, 10, 15, 32, 0, time.UTC),
		TraceID:   "abc",
		Layer:     log.LayerEngine,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerEngine,
			Message: "report not acknowledged in time",
			Status:  &status,
			Context: "subscription 4",
		},
	}

	var buf bytes.Buffer
	formatEvent(&buf, event)
	output := buf.String()

	for _, want := range []string{"[trace:abc]", "ENGINE Error", "Message: report not acknowledged", "Status: TIMEOUT", "Context: subscription 4"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q, got: %s", want, output)
		}
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("ENGINE"); err != nil || l != log.LayerEngine {
		t.Errorf("ParseLayerFlag(ENGINE) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("service"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if d, err := ParseDirectionFlag("In"); err != nil || d != log.DirectionIn {
		t.Errorf("ParseDirectionFlag(In) = %v, %v", d, err)
	}
	if _, err := ParseDirectionFlag("both"); err == nil {
		t.Error("expected error for unknown direction")
	}
	if c, err := ParseCategoryFlag("report"); err != nil || c != log.CategoryReport {
		t.Errorf("ParseCategoryFlag(report) = %v, %v", c, err)
	}
	if _, err := ParseCategoryFlag("control"); err == nil {
		t.Error("expected error for unknown category")
	}
}

func TestRunViewFilters(t *testing.T) {
	ts := time.Date(2026, 1, 28, 10, 0, 0, 0, time.UTC)
	events := []log.Event{
		{Timestamp: ts, TraceID: "t1", Layer: log.LayerWire, Category: log.CategoryMessage, Direction: log.DirectionIn,
			Message: &log.MessageEvent{Type: wire.MessageTypeSubscribeRequest}},
		{Timestamp: ts, TraceID: "t1", Layer: log.LayerEngine, Category: log.CategoryReport, Direction: log.DirectionOut, SubscriptionID: 2,
			Report: &log.ReportEvent{HandlerID: 1}},
		{Timestamp: ts, TraceID: "t2", Layer: log.LayerEngine, Category: log.CategoryReport, Direction: log.DirectionOut, SubscriptionID: 5,
			Report: &log.ReportEvent{HandlerID: 2}},
	}
	path := createTestLogFile(t, events)

	category := log.CategoryReport
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Category: &category}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if n := strings.Count(buf.String(), "Report"); n != 2 {
		t.Errorf("expected 2 reports, got %d:\n%s", n, buf.String())
	}
	if strings.Contains(buf.String(), "SubscribeRequest") {
		t.Errorf("message event should be filtered out:\n%s", buf.String())
	}

	buf.Reset()
	if err := RunView(path, ViewFilter{SubscriptionID: 5}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if !strings.Contains(buf.String(), "sub=5") || strings.Contains(buf.String(), "sub=2") {
		t.Errorf("expected only subscription 5:\n%s", buf.String())
	}

	buf.Reset()
	if err := RunView(path, ViewFilter{TraceID: "t2"}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}
	if strings.Count(buf.String(), "[trace:t2]") != 1 || strings.Contains(buf.String(), "[trace:t1]") {
		t.Errorf("expected only trace t2:\n%s", buf.String())
	}
}

func TestRunViewMissingFile(t *testing.T) {
	if err := RunView("/does/not/exist.mlog", ViewFilter{}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for missing file")
	}
}
