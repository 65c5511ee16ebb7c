package reporting

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/interaction"
	"github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/metrics"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/report"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// ErrPayloadTooSmall is returned when not even one pending status fits in
// an empty report.
var ErrPayloadTooSmall = errors.New("payload budget too small for a report item")

// built is one generated report.
type built struct {
	payload    []byte
	progress   interaction.Progress
	header     wire.ReportHeader
	attributes int
	events     int
}

// empty reports whether the report carries no item.
func (b *built) empty() bool {
	return b.attributes == 0 && b.events == 0
}

// generate builds one report for r and hands it to the transport.
func (e *Engine) generate(r *record, now time.Time) {
	h := r.h
	keepalive := h.Primed && h.NeedsHeartbeat(now)
	e.transition(r, interaction.StateGenerating, "")

	out, err := e.build(h, keepalive && e.cfg.HeartbeatMode == HeartbeatFull)
	if err != nil {
		e.terminate(r, fmt.Errorf("generate report: %w", err), metrics.EndFailed)
		return
	}

	if out.empty() && h.Primed && !keepalive && out.progress.Complete {
		// Nothing new: commit the scanned generation and event cursor.
		h.Advance(out.progress)
		e.transition(r, interaction.StateReportable, "nothing to report")
		return
	}

	h.Stage(out.progress)
	e.transition(r, interaction.StateAwaitingAck, "")
	h.LastReport = now
	h.Sends++
	e.tokens++
	r.token = e.tokens
	r.sentAt = now
	e.inFlight++

	keepalive = keepalive && out.empty()
	e.metrics.ObserveReport(kindLabel(h.Kind), len(out.payload), out.header.MoreChunks, keepalive)
	e.traceReport(h, out, keepalive)

	id, token := h.ID, r.token
	if err := r.ex.Send(out.payload, func(err error) {
		e.queue.Post(func() { e.confirm(id, token, err) })
	}); err != nil {
		e.terminate(r, fmt.Errorf("send report: %w", err), metrics.EndFailed)
	}
}

// build fills one report for h, resuming its cursor when a sequence is in
// progress. A new sequence covers the whole interest when full is set.
func (e *Engine) build(h *interaction.Handler, full bool) (*built, error) {
	b, err := e.builder(e.budget(e.records[h.ID].ex))
	if err != nil {
		return nil, err
	}
	b.Reset()

	prog := interaction.Progress{Cursor: h.Cursor, NextEvent: h.NextEvent}
	if !prog.Cursor.Active {
		prog.Cursor = interaction.Cursor{
			Work:       e.workList(h, full),
			Generation: e.dirty.Generation(),
		}
	}

	stopped, err := e.encodeStatuses(h, b, &prog)
	if err != nil {
		return nil, err
	}
	if !stopped {
		stopped, err = e.encodeAttributes(h, b, &prog.Cursor)
		if err != nil {
			return nil, err
		}
	}

	header := wire.ReportHeader{SubscriptionID: h.SubscriptionID()}
	if !stopped {
		stopped, err = e.encodeEvents(h, b, &prog, &header)
		if err != nil {
			return nil, err
		}
	}

	prog.Complete = !stopped
	prog.Cursor.Active = stopped
	header.MoreChunks = stopped

	payload, err := b.Build(header)
	if err != nil {
		return nil, err
	}
	return &built{
		payload:    payload,
		progress:   prog,
		header:     header,
		attributes: b.AttributeCount(),
		events:     b.EventCount(),
	}, nil
}

// budget returns the report size limit for an exchange.
func (e *Engine) budget(ex Exchange) int {
	size := e.cfg.MaxPayloadSize
	if n := ex.MaxPayloadSize(); n > 0 && n < size {
		size = n
	}
	return size
}

func (e *Engine) builder(budget int) (*report.Builder, error) {
	if b, ok := e.builders[budget]; ok {
		return b, nil
	}
	b, err := report.NewBuilder(budget)
	if err != nil {
		return nil, err
	}
	e.builders[budget] = b
	return b, nil
}

// workList returns the concrete attribute paths a new sequence covers: the
// whole interest when priming or when full is set, the dirty part of it
// otherwise.
func (e *Engine) workList(h *interaction.Handler, full bool) []path.AttributePath {
	selectors := h.AttributePaths
	if h.Primed && !full {
		selectors = e.dirty.Drain(h.AttributePaths, h.ReportedGeneration)
	}

	var work []path.AttributePath
	seen := make(map[path.AttributePath]bool)
	for _, sel := range selectors {
		for _, p := range e.model.ExpandAttributes(sel) {
			if seen[p] {
				continue
			}
			if !h.Primed {
				if v, ok := e.model.DataVersion(p.Endpoint, p.Cluster); ok && h.FilteredVersion(p.Endpoint, p.Cluster, v) {
					continue
				}
			}
			seen[p] = true
			work = append(work, p)
		}
	}
	return work
}

// encodeStatuses adds the per-path statuses still owed.
func (e *Engine) encodeStatuses(h *interaction.Handler, b *report.Builder, prog *interaction.Progress) (bool, error) {
	for _, s := range h.AttributeStatuses {
		if stop, err := exhausted(b, b.AddAttributeStatus(s.Path, s.Status)); stop || err != nil {
			return stop, err
		}
		prog.AttributeStatusesSent++
	}
	for _, s := range h.EventStatuses {
		if stop, err := exhausted(b, b.AddEventStatus(s.Path, s.Status)); stop || err != nil {
			return stop, err
		}
		prog.EventStatusesSent++
	}
	return false, nil
}

// exhausted turns an Add result into a stop decision. A status that does
// not fit an empty report can never be sent.
func exhausted(b *report.Builder, err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, report.ErrBufferExhausted) && !b.Empty():
		return true, nil
	case errors.Is(err, report.ErrBufferExhausted), errors.Is(err, report.ErrItemTooLarge):
		return false, fmt.Errorf("%w: %w", ErrPayloadTooSmall, err)
	default:
		return false, err
	}
}

// encodeAttributes adds work items from the cursor until the report is
// full. It reports whether the report stopped early.
func (e *Engine) encodeAttributes(h *interaction.Handler, b *report.Builder, c *interaction.Cursor) (bool, error) {
	for c.Index < len(c.Work) {
		p := c.Work[c.Index]
		version, _ := e.model.DataVersion(p.Endpoint, p.Cluster)

		resume := c.List
		if resume.Active && version != c.ListVersion {
			// The list changed between chunks; send it again from the start.
			resume = report.ListResume{}
		}

		cp := b.Checkpoint()
		enc := report.NewAttributeEncoder(b, p, version, resume)
		err := e.model.ReadAttribute(h.Subject, p, enc)

		switch {
		case err == nil:

		case errors.Is(err, report.ErrBufferExhausted):
			if next := enc.Resume(); next.Active {
				c.List = next
				c.ListVersion = version
				return true, nil
			}
			b.Rollback(cp)
			if !b.Empty() {
				return true, nil
			}
			if stop, err := exhausted(b, b.AddAttributeStatus(p, wire.StatusResourceExhausted)); stop || err != nil {
				return stop, err
			}

		case errors.Is(err, report.ErrItemTooLarge):
			b.Rollback(cp)
			e.debugLog("attribute too large for a report", "path", p.String(), "handler", h.String())
			if stop, err := exhausted(b, b.AddAttributeStatus(p, wire.StatusResourceExhausted)); stop || err != nil {
				return stop, err
			}

		case model.IsPathError(err):
			b.Rollback(cp)
			if requested(h, p) {
				if stop, err := exhausted(b, b.AddAttributeStatus(p, model.StatusFor(err))); stop || err != nil {
					return stop, err
				}
			}

		default:
			return false, fmt.Errorf("read %s: %w", p, err)
		}

		c.Index++
		c.List = report.ListResume{}
		c.ListVersion = 0
	}
	return false, nil
}

// requested reports whether p was named concretely in the request.
func requested(h *interaction.Handler, p path.AttributePath) bool {
	for _, q := range h.AttributePaths {
		if q.IsConcrete() && q == p {
			return true
		}
	}
	return false
}

// encodeEvents adds events from the handler's next event number. It
// reports whether the report stopped early.
func (e *Engine) encodeEvents(h *interaction.Handler, b *report.Builder, prog *interaction.Progress, header *wire.ReportHeader) (bool, error) {
	if len(h.EventPaths) == 0 {
		return false, nil
	}

	from := prog.NextEvent
	if from == 0 {
		from = e.events.FirstContiguous(0)
	}
	seq, err := e.events.ReadFrom(from)
	if errors.Is(err, eventlog.ErrEntriesExpired) {
		from = e.events.FirstContiguous(from)
		header.EventsDropped = true
		seq, err = e.events.ReadFrom(from)
	}
	if err != nil {
		return false, err
	}

	next := from
	for entry := range seq {
		gap := entry.Number > next && e.events.Evicted(next, entry.Number)
		if path.AnyEventIntersects(h.EventPaths, entry.Path) &&
			e.model.CheckEventAccess(h.Subject, entry.Path, entry.Fabric) == nil {
			err := b.AddEvent(&wire.EventReport{
				Path:      entry.Path,
				Number:    entry.Number,
				Priority:  uint8(entry.Priority),
				Timestamp: entry.Timestamp.UnixMilli(),
				Fabric:    entry.Fabric,
				Data:      cbor.RawMessage(entry.Payload),
			})
			if errors.Is(err, report.ErrItemTooLarge) {
				err = b.AddEventStatus(entry.Path, wire.StatusResourceExhausted)
			}
			if stop, err := exhausted(b, err); err != nil {
				return false, err
			} else if stop {
				prog.NextEvent = next
				return true, nil
			}
			header.LastEventNumber = entry.Number
		}
		if gap {
			header.EventsDropped = true
		}
		next = entry.Number + 1
	}

	prog.NextEvent = max(next, e.events.NextNumber())
	return false, nil
}

func (e *Engine) traceReport(h *interaction.Handler, out *built, keepalive bool) {
	e.plog.Log(log.Event{
		Timestamp:      e.clock.Now(),
		TraceID:        h.TraceID.String(),
		Direction:      log.DirectionOut,
		Layer:          log.LayerEngine,
		Category:       log.CategoryReport,
		SubscriptionID: h.SubscriptionID(),
		Report: &log.ReportEvent{
			HandlerID:       h.ID,
			Attributes:      out.attributes,
			Events:          out.events,
			Size:            len(out.payload),
			MoreChunks:      out.header.MoreChunks,
			LastEventNumber: out.header.LastEventNumber,
			EventsDropped:   out.header.EventsDropped,
			Keepalive:       keepalive,
		},
	})
}
