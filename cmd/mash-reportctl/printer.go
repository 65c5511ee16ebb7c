package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/transport"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// printer writes reassembled reports in a line oriented text format.
//
// Attribute values of a chunked report are printed once the last chunk
// arrived. Events are printed as they come.
type printer struct {
	w   io.Writer
	raw bool

	acc     *wire.Accumulator
	pending []path.AttributePath
	touched map[path.AttributePath]bool
	chunks  int
	reports int

	lastEvent uint64
}

func newPrinter(w io.Writer, raw bool) *printer {
	return &printer{
		w:       w,
		raw:     raw,
		acc:     wire.NewAccumulator(),
		touched: make(map[path.AttributePath]bool),
	}
}

// Reports returns the number of complete reports printed.
func (p *printer) Reports() int {
	return p.reports
}

// LastEvent returns the highest event number printed so far.
func (p *printer) LastEvent() uint64 {
	return p.lastEvent
}

// Abandon drops a partially received report.
func (p *printer) Abandon() {
	if p.chunks > 0 {
		fmt.Fprintf(p.w, "  (incomplete after %d chunks)\n", p.chunks)
	}
	p.pending = p.pending[:0]
	clear(p.touched)
	p.chunks = 0
}

// Report prints one ReportData of a subscription.
func (p *printer) Report(r *wire.ReportData) error {
	if p.chunks == 0 {
		switch {
		case r.IsEmpty() && !r.MoreChunks:
			fmt.Fprintf(p.w, "report #%d subscription %d: keepalive\n", p.reports+1, r.SubscriptionID)
		default:
			fmt.Fprintf(p.w, "report #%d subscription %d:\n", p.reports+1, r.SubscriptionID)
		}
	}
	p.chunks++

	if err := p.acc.Apply(r.AttributeReports...); err != nil {
		return err
	}
	for _, item := range r.AttributeReports {
		key := item.Path.WithoutListIndex()
		if !p.touched[key] {
			p.touched[key] = true
			p.pending = append(p.pending, key)
		}
	}
	for _, e := range r.EventReports {
		p.event(e)
	}
	if r.EventsDropped {
		fmt.Fprintln(p.w, "  ! events were dropped before delivery")
	}
	if r.MoreChunks {
		return nil
	}

	for _, ap := range p.pending {
		p.attribute(ap)
	}
	if p.chunks > 1 {
		fmt.Fprintf(p.w, "  (%d chunks)\n", p.chunks)
	}
	p.pending = p.pending[:0]
	clear(p.touched)
	p.chunks = 0
	p.reports++
	return nil
}

// Result prints the outcome of a read.
func (p *printer) Result(r *transport.ReadResult) {
	p.acc = r.Attributes
	for _, ap := range r.Attributes.Paths() {
		p.attribute(ap)
	}
	for _, e := range r.Events {
		p.event(e)
	}
	if r.EventsDropped {
		fmt.Fprintln(p.w, "  ! events were dropped before delivery")
	}
	fmt.Fprintf(p.w, "%d attribute(s), %d event(s) in %d report(s)", len(r.Attributes.Paths()), len(r.Events), r.Reports)
	if r.LastEventNumber > 0 {
		fmt.Fprintf(p.w, ", last event #%d", r.LastEventNumber)
	}
	fmt.Fprintln(p.w)
	p.reports++
}

func (p *printer) attribute(ap path.AttributePath) {
	if status := p.acc.Status(ap); status.IsError() {
		fmt.Fprintf(p.w, "  %s: %s\n", ap, status)
		return
	}
	raw, ok := p.acc.Value(ap)
	if !ok {
		fmt.Fprintf(p.w, "  %s: %s\n", ap, wire.StatusFailure)
		return
	}
	fmt.Fprintf(p.w, "  %s = %s (v%d)\n", ap, p.value(raw), p.acc.DataVersion(ap))
}

func (p *printer) event(e wire.EventReport) {
	if e.Status.IsError() {
		fmt.Fprintf(p.w, "  %s: %s\n", e.Path, e.Status)
		return
	}
	p.lastEvent = max(p.lastEvent, e.Number)
	ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339Nano)
	fmt.Fprintf(p.w, "  event #%d %s %s %s", e.Number, e.Path, eventlog.Priority(e.Priority), ts)
	if e.Fabric != path.NoFabric {
		fmt.Fprintf(p.w, " fabric=%d", e.Fabric)
	}
	if len(e.Data) > 0 {
		fmt.Fprintf(p.w, " %s", p.value(e.Data))
	}
	fmt.Fprintln(p.w)
}

// value renders an embedded CBOR item.
func (p *printer) value(raw cbor.RawMessage) string {
	if p.raw {
		return hex.EncodeToString(raw)
	}
	var v any
	if err := wire.Unmarshal(raw, &v); err != nil {
		return fmt.Sprintf("<undecodable %s: %v>", hex.EncodeToString(raw), err)
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v)
}

// syncWriter serializes writes to w.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}
