package report

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// Builder errors.
var (
	// ErrBufferExhausted is returned when an item does not fit in the space
	// left in the current report. It is retryable in the next report.
	ErrBufferExhausted = errors.New("report buffer exhausted")

	// ErrItemTooLarge is returned when an item does not fit even in an
	// empty report.
	ErrItemTooLarge = errors.New("item larger than an empty report")

	// ErrBudgetTooSmall is returned for a payload budget below the report
	// overhead.
	ErrBudgetTooSmall = errors.New("payload budget below report overhead")
)

// Builder accumulates encoded items for one report.
type Builder struct {
	budget   int
	capacity int
	arena    []byte
	attrs    []span
	events   []span
}

type span struct {
	start, end int
}

// Checkpoint is a restorable builder position.
type Checkpoint struct {
	arena  int
	attrs  int
	events int
}

// NewBuilder creates a builder for reports of at most maxPayload bytes.
func NewBuilder(maxPayload int) (*Builder, error) {
	capacity := maxPayload - wire.ReportDataOverhead
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrBudgetTooSmall, maxPayload)
	}
	return &Builder{
		budget:   maxPayload,
		capacity: capacity,
		arena:    make([]byte, 0, capacity),
	}, nil
}

// Reset empties the builder, keeping its arena for reuse.
func (b *Builder) Reset() {
	b.arena = b.arena[:0]
	b.attrs = b.attrs[:0]
	b.events = b.events[:0]
}

// Budget returns the maximum encoded report size.
func (b *Builder) Budget() int {
	return b.budget
}

// Capacity returns the item bytes an empty report can hold.
func (b *Builder) Capacity() int {
	return b.capacity
}

// Remaining returns the item bytes still available.
func (b *Builder) Remaining() int {
	return b.capacity - len(b.arena)
}

// Empty reports whether no item has been added.
func (b *Builder) Empty() bool {
	return len(b.attrs) == 0 && len(b.events) == 0
}

// AttributeCount returns the number of attribute items.
func (b *Builder) AttributeCount() int {
	return len(b.attrs)
}

// EventCount returns the number of event items.
func (b *Builder) EventCount() int {
	return len(b.events)
}

// Checkpoint returns the current position.
func (b *Builder) Checkpoint() Checkpoint {
	return Checkpoint{arena: len(b.arena), attrs: len(b.attrs), events: len(b.events)}
}

// Rollback discards every item added after cp.
func (b *Builder) Rollback(cp Checkpoint) {
	if cp.arena > len(b.arena) || cp.attrs > len(b.attrs) || cp.events > len(b.events) {
		return
	}
	b.arena = b.arena[:cp.arena]
	b.attrs = b.attrs[:cp.attrs]
	b.events = b.events[:cp.events]
}

// AddAttribute appends an attribute report item.
func (b *Builder) AddAttribute(r *wire.AttributeReport) error {
	s, err := b.add(r)
	if err != nil {
		return fmt.Errorf("attribute %s: %w", r.Path, err)
	}
	b.attrs = append(b.attrs, s)
	return nil
}

// AddAttributeStatus appends a per-path failure status.
func (b *Builder) AddAttributeStatus(p path.AttributePath, status wire.Status) error {
	return b.AddAttribute(&wire.AttributeReport{Path: p, Status: status})
}

// AddEvent appends an event report item.
func (b *Builder) AddEvent(r *wire.EventReport) error {
	s, err := b.add(r)
	if err != nil {
		return fmt.Errorf("event %s: %w", r.Path, err)
	}
	b.events = append(b.events, s)
	return nil
}

// AddEventStatus appends a per-path event failure status.
func (b *Builder) AddEventStatus(p path.EventPath, status wire.Status) error {
	return b.AddEvent(&wire.EventReport{Path: p, Status: status})
}

func (b *Builder) add(v any) (span, error) {
	data, err := wire.Marshal(v)
	if err != nil {
		return span{}, err
	}
	if len(data) > b.capacity {
		return span{}, ErrItemTooLarge
	}
	if len(data) > b.Remaining() {
		return span{}, ErrBufferExhausted
	}
	start := len(b.arena)
	b.arena = append(b.arena, data...)
	return span{start: start, end: len(b.arena)}, nil
}

// Build encodes the report. The builder is left unchanged.
func (b *Builder) Build(header wire.ReportHeader) ([]byte, error) {
	attrs := b.raws(b.attrs)
	events := b.raws(b.events)

	data, err := wire.EncodeReport(header, attrs, events)
	if err != nil {
		return nil, fmt.Errorf("failed to build report: %w", err)
	}
	if len(data) > b.budget {
		return nil, fmt.Errorf("report of %d bytes exceeds budget %d", len(data), b.budget)
	}
	return data, nil
}

func (b *Builder) raws(spans []span) []cbor.RawMessage {
	if len(spans) == 0 {
		return nil
	}
	out := make([]cbor.RawMessage, len(spans))
	for i, s := range spans {
		out[i] = cbor.RawMessage(b.arena[s.start:s.end])
	}
	return out
}
