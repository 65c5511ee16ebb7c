package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mash-protocol/mash-reporting/pkg/dirty"
	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/interaction"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// TransactionInfo is a snapshot of one transaction for status output.
type TransactionInfo struct {
	ID             uint32    `json:"id"`
	TraceID        string    `json:"traceId"`
	Kind           string    `json:"kind"`
	State          string    `json:"state"`
	Subject        string    `json:"subject"`
	AttributePaths []string  `json:"attributePaths,omitempty"`
	EventPaths     []string  `json:"eventPaths,omitempty"`
	MinInterval    string    `json:"minInterval,omitempty"`
	MaxInterval    string    `json:"maxInterval,omitempty"`
	NextEvent      uint64    `json:"nextEvent"`
	Primed         bool      `json:"primed"`
	Chunking       bool      `json:"chunking"`
	Sends          int       `json:"sends"`
	LastReport     time.Time `json:"lastReport"`
	LastDelivered  time.Time `json:"lastDelivered"`
}

// Stats summarizes the engine state.
type Stats struct {
	Transactions    int               `json:"transactions"`
	InFlight        int               `json:"inFlight"`
	DirtyPaths      int               `json:"dirtyPaths"`
	DirtyGeneration dirty.Generation  `json:"dirtyGeneration"`
	DirtyOverflows  uint64            `json:"dirtyOverflows"`
	EventsEmitted   uint64            `json:"eventsEmitted"`
	EventsBuffered  map[string]int    `json:"eventsBuffered"`
	EventsEvicted   map[string]uint64 `json:"eventsEvicted"`
	NextEvent       uint64            `json:"nextEventNumber"`
}

// Transactions returns a snapshot of the registered transactions by ID.
func (e *Engine) Transactions() []TransactionInfo {
	out := make([]TransactionInfo, 0, len(e.order))
	for _, r := range e.order {
		out = append(out, transactionInfo(r.h))
	}
	return out
}

func transactionInfo(h *interaction.Handler) TransactionInfo {
	info := TransactionInfo{
		ID:            h.ID,
		TraceID:       h.TraceID.String(),
		Kind:          h.Kind.String(),
		State:         h.State().String(),
		Subject:       h.Subject.String(),
		NextEvent:     h.NextEvent,
		Primed:        h.Primed,
		Chunking:      h.Cursor.Active,
		Sends:         h.Sends,
		LastReport:    h.LastReport,
		LastDelivered: h.LastDelivered,
	}
	for _, p := range h.AttributePaths {
		info.AttributePaths = append(info.AttributePaths, p.String())
	}
	for _, p := range h.EventPaths {
		info.EventPaths = append(info.EventPaths, p.String())
	}
	if h.Kind == interaction.KindSubscribe {
		info.MinInterval = h.MinInterval.String()
		info.MaxInterval = h.MaxInterval.String()
	}
	return info
}

// Stats returns a summary of the engine state.
func (e *Engine) Stats() Stats {
	ev := e.events.Stats()
	s := Stats{
		Transactions:    len(e.records),
		InFlight:        e.inFlight,
		DirtyPaths:      e.dirty.Len(),
		DirtyGeneration: e.dirty.Generation(),
		DirtyOverflows:  e.dirty.Overflows(),
		EventsEmitted:   ev.Emitted,
		EventsBuffered:  make(map[string]int, len(ev.Buffered)),
		EventsEvicted:   make(map[string]uint64, len(ev.Evicted)),
		NextEvent:       e.events.NextNumber(),
	}
	for p, n := range ev.Buffered {
		s.EventsBuffered[p.String()] = n
	}
	for p, n := range ev.Evicted {
		s.EventsEvicted[p.String()] = n
	}
	return s
}

// Host is the goroutine-safe front of an Engine. Every call is handed to
// the engine loop through its queue; Run must be running for calls that
// wait on a result to return.
type Host struct {
	engine    *Engine
	closeOnce sync.Once
}

var _ eventlog.Emitter = (*Host)(nil)

// NewHost creates an engine and its host.
func NewHost(cfg Config, dm DataModel, events *eventlog.Log) (*Host, error) {
	e, err := NewEngine(cfg, dm, events)
	if err != nil {
		return nil, err
	}
	return &Host{engine: e}, nil
}

// Engine returns the hosted engine. Its methods must only be called from
// the loop, for example inside a function passed to Do.
func (h *Host) Engine() *Engine {
	return h.engine
}

// Run drives the engine loop until ctx is done or the host is closed.
func (h *Host) Run(ctx context.Context) error {
	err := h.engine.Run(ctx)
	if errors.Is(err, ErrEngineClosed) {
		return nil
	}
	return err
}

// Close terminates every transaction and stops the loop.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		h.engine.Post(h.engine.Close)
	})
}

// Do runs fn on the engine loop and waits for it to finish.
func (h *Host) Do(ctx context.Context, fn func(e *Engine)) error {
	done := make(chan struct{})
	if !h.engine.Post(func() {
		defer close(done)
		fn(h.engine)
	}) {
		return ErrEngineClosed
	}
	select {
	case <-done:
		return nil
	case <-h.engine.queue.Done():
		// fn may have been dropped by Close.
		select {
		case <-done:
			return nil
		default:
			return ErrEngineClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkAttributeDirty records that the attribute at p changed. It does not
// wait, so it is safe to call from data model change handlers.
func (h *Host) MarkAttributeDirty(p path.AttributePath) {
	h.engine.Post(func() { h.engine.MarkDirty(p) })
}

// EmitEvent logs an event and returns its number.
func (h *Host) EmitEvent(ctx context.Context, p path.EventPath, priority eventlog.Priority, fabric path.FabricIndex, payload []byte) (uint64, error) {
	var (
		n      uint64
		result error
	)
	payload = append([]byte(nil), payload...)
	if err := h.Do(ctx, func(e *Engine) {
		n, result = e.Emit(p, priority, fabric, payload)
	}); err != nil {
		return 0, err
	}
	return n, result
}

// Emit implements eventlog.Emitter.
func (h *Host) Emit(p path.EventPath, priority eventlog.Priority, fabric path.FabricIndex, payload []byte) (uint64, error) {
	return h.EmitEvent(context.Background(), p, priority, fabric, payload)
}

// CreateReadTransaction starts a read and returns its transaction ID.
func (h *Host) CreateReadTransaction(ctx context.Context, subject model.Subject, req *wire.ReadRequest, ex Exchange) (uint32, error) {
	var (
		id     uint32
		result error
	)
	if err := h.Do(ctx, func(e *Engine) {
		var handler *interaction.Handler
		if handler, result = e.StartRead(subject, req, ex); result == nil {
			id = handler.ID
		}
	}); err != nil {
		return 0, err
	}
	return id, result
}

// CreateSubscription starts a subscription and returns its ID.
func (h *Host) CreateSubscription(ctx context.Context, subject model.Subject, req *wire.SubscribeRequest, ex Exchange) (uint32, error) {
	var (
		id     uint32
		result error
	)
	if err := h.Do(ctx, func(e *Engine) {
		var handler *interaction.Handler
		if handler, result = e.StartSubscription(subject, req, ex); result == nil {
			id = handler.ID
		}
	}); err != nil {
		return 0, err
	}
	return id, result
}

// CancelTransaction ends a read or subscription.
func (h *Host) CancelTransaction(ctx context.Context, id uint32) error {
	var result error
	if err := h.Do(ctx, func(e *Engine) {
		result = e.Cancel(id)
	}); err != nil {
		return err
	}
	return result
}

// Transactions returns a snapshot of the registered transactions.
func (h *Host) Transactions(ctx context.Context) ([]TransactionInfo, error) {
	var out []TransactionInfo
	if err := h.Do(ctx, func(e *Engine) { out = e.Transactions() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats returns a summary of the engine state.
func (h *Host) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	if err := h.Do(ctx, func(e *Engine) { out = e.Stats() }); err != nil {
		return Stats{}, err
	}
	return out, nil
}
