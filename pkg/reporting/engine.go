package reporting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/mash-protocol/mash-reporting/internal/clock"
	"github.com/mash-protocol/mash-reporting/pkg/dirty"
	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/interaction"
	"github.com/mash-protocol/mash-reporting/pkg/log"
	"github.com/mash-protocol/mash-reporting/pkg/metrics"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/report"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// Engine errors. Transactions ended by the engine see one of them in
// Exchange.Close.
var (
	ErrTooManyTransactions = errors.New("too many transactions")
	ErrEngineClosed        = errors.New("reporting engine closed")
	ErrCancelled           = errors.New("transaction cancelled")
	ErrUnknownTransaction  = errors.New("unknown transaction")
	ErrLivenessTimeout     = errors.New("subscription liveness timeout")
)

// record is a registered transaction.
type record struct {
	h  *interaction.Handler
	ex Exchange

	// token identifies the report in flight; zero when none is.
	token  uint64
	sentAt time.Time
}

// Engine schedules and builds reports for reads and subscriptions.
//
// Engine is loop-confined: its methods must be called from one goroutine,
// normally the one running Run. Other goroutines go through Host or Post.
type Engine struct {
	cfg     Config
	clock   clock.Clock
	model   DataModel
	events  *eventlog.Log
	dirty   *dirty.Set
	queue   *Queue
	logger  *slog.Logger
	plog    log.Logger
	metrics *metrics.Metrics

	records map[uint32]*record
	// order holds the records by ascending ID.
	order      []*record
	nextID     uint32
	lastServed uint32
	inFlight   int
	tokens     uint64

	builders map[int]*report.Builder

	scanPending bool
	timer       *clock.Timer
	timerAt     time.Time
	timerGen    uint64

	closed bool
}

var _ eventlog.Emitter = (*Engine)(nil)

// NewEngine creates an engine over the given data model and event log.
func NewEngine(cfg Config, dm DataModel, events *eventlog.Log) (*Engine, error) {
	if dm == nil {
		return nil, errors.New("reporting engine needs a data model")
	}
	cfg = cfg.withDefaults()
	if events == nil {
		var err error
		ecfg := eventlog.DefaultConfig()
		ecfg.Clock = cfg.Clock
		events, err = eventlog.New(ecfg)
		if err != nil {
			return nil, fmt.Errorf("create event log: %w", err)
		}
	}

	return &Engine{
		cfg:      cfg,
		clock:    cfg.Clock,
		model:    dm,
		events:   events,
		dirty:    dirty.NewSet(cfg.DirtySetCapacity),
		queue:    NewQueue(),
		logger:   cfg.Logger,
		plog:     cfg.ProtocolLogger,
		metrics:  cfg.Metrics,
		records:  make(map[uint32]*record),
		builders: make(map[int]*report.Builder),
	}, nil
}

// Queue returns the engine's work queue.
func (e *Engine) Queue() *Queue {
	return e.queue
}

// Post schedules fn on the engine loop. It is safe from any goroutine.
func (e *Engine) Post(fn func()) bool {
	return e.queue.Post(fn)
}

// RunPending runs queued work and due scans until none is left, then arms
// the timer for the next deadline. It returns the number of items run.
func (e *Engine) RunPending() int {
	n := 0
	for {
		if fn, ok := e.queue.pop(); ok {
			fn()
			n++
			continue
		}
		if e.scanPending && !e.closed {
			e.scanPending = false
			e.scan()
			n++
			continue
		}
		break
	}
	if !e.closed {
		e.rearm()
	}
	return n
}

// Run drives the engine until ctx is done, then closes it.
func (e *Engine) Run(ctx context.Context) error {
	for {
		e.RunPending()
		if e.closed {
			return ErrEngineClosed
		}
		select {
		case <-ctx.Done():
			e.Close()
			return ctx.Err()
		case <-e.queue.Wake():
		}
	}
}

// Close terminates every transaction with ErrEngineClosed.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true
	for _, r := range slices.Clone(e.order) {
		e.terminate(r, ErrEngineClosed, metrics.EndClosed)
	}
	e.stopTimer()
	e.queue.Close()
	e.debugLog("reporting engine closed")
}

// StartRead registers a one-shot read. On error the exchange is left open.
func (e *Engine) StartRead(subject model.Subject, req *wire.ReadRequest, ex Exchange) (*interaction.Handler, error) {
	return e.start(interaction.KindRead, ex, func(id uint32, now time.Time) (*interaction.Handler, error) {
		return interaction.NewReadHandler(id, subject, req, e.limits(), e.model, now)
	})
}

// StartSubscription registers a subscription. On error the exchange is left
// open.
func (e *Engine) StartSubscription(subject model.Subject, req *wire.SubscribeRequest, ex Exchange) (*interaction.Handler, error) {
	return e.start(interaction.KindSubscribe, ex, func(id uint32, now time.Time) (*interaction.Handler, error) {
		return interaction.NewSubscribeHandler(id, subject, req, e.limits(), e.model, now)
	})
}

func (e *Engine) limits() interaction.Limits {
	return interaction.Limits{
		MaxPaths:         e.cfg.MaxPathsPerTransaction,
		MinIntervalFloor: e.cfg.MinIntervalFloor,
	}
}

func (e *Engine) start(kind interaction.Kind, ex Exchange, create func(uint32, time.Time) (*interaction.Handler, error)) (*interaction.Handler, error) {
	if e.closed {
		return nil, ErrEngineClosed
	}
	if ex == nil {
		return nil, errors.New("transaction needs an exchange")
	}
	if len(e.records) >= e.cfg.MaxTransactions {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyTransactions, e.cfg.MaxTransactions)
	}

	e.nextID++
	if e.nextID == 0 {
		e.nextID = 1
	}
	h, err := create(e.nextID, e.clock.Now())
	if err != nil {
		return nil, err
	}

	r := &record{h: h, ex: ex}
	e.records[h.ID] = r
	e.order = append(e.order, r)

	e.metrics.TransactionStarted(kindLabel(kind))
	e.traceState(h, "", h.State().String(), "created")
	e.debugLog("transaction started",
		"handler", h.String(),
		"trace_id", h.TraceID,
		"subject", h.Subject.String(),
		"attributes", len(h.AttributePaths),
		"events", len(h.EventPaths),
		"statuses", len(h.AttributeStatuses)+len(h.EventStatuses))

	e.scheduleScan()
	return h, nil
}

// Cancel ends a transaction in any state. The exchange is closed with
// ErrCancelled.
func (e *Engine) Cancel(id uint32) error {
	r, ok := e.records[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTransaction, id)
	}
	e.terminate(r, ErrCancelled, metrics.EndCancelled)
	return nil
}

// MarkDirty records that the attribute at p changed.
func (e *Engine) MarkDirty(p path.AttributePath) {
	if e.closed {
		return
	}
	e.dirty.MarkDirty(p)
	e.metrics.SetDirtyPaths(e.dirty.Len())
	e.scheduleScan()
}

// Emit logs an event and schedules its delivery.
func (e *Engine) Emit(p path.EventPath, priority eventlog.Priority, fabric path.FabricIndex, payload []byte) (uint64, error) {
	if e.closed {
		return 0, ErrEngineClosed
	}
	n, err := e.events.Emit(p, priority, fabric, payload)
	if err != nil {
		return 0, err
	}
	e.metrics.EventEmitted(priority.String())
	if e.metrics != nil {
		for prio, count := range e.events.Stats().Buffered {
			e.metrics.SetEventsBuffered(prio.String(), count)
		}
	}
	e.scheduleScan()
	return n, nil
}

// Handler returns a registered transaction.
func (e *Engine) Handler(id uint32) (*interaction.Handler, bool) {
	r, ok := e.records[id]
	if !ok {
		return nil, false
	}
	return r.h, true
}

// Len returns the number of registered transactions.
func (e *Engine) Len() int {
	return len(e.records)
}

// InFlight returns the number of reports awaiting confirmation.
func (e *Engine) InFlight() int {
	return e.inFlight
}

// Dirty returns the engine's dirty set.
func (e *Engine) Dirty() *dirty.Set {
	return e.dirty
}

// Events returns the engine's event log.
func (e *Engine) Events() *eventlog.Log {
	return e.events
}

func (e *Engine) scheduleScan() {
	e.scanPending = true
}

// scan serves every eligible transaction once, starting after the last one
// served, until the in-flight limit is reached.
func (e *Engine) scan() {
	start := e.clock.Now()
	e.expire(start)

	if n := len(e.order); n > 0 {
		snapshot := slices.Clone(e.order)
		begin := sort.Search(n, func(i int) bool {
			return snapshot[i].h.ID > e.lastServed
		})
		for i := 0; i < n; i++ {
			if e.inFlight >= e.cfg.MaxReportsInFlight {
				break
			}
			r := snapshot[(begin+i)%n]
			if e.records[r.h.ID] != r {
				continue
			}
			if !r.h.Eligible(e.clock.Now(), e.changed(r.h)) {
				continue
			}
			e.lastServed = r.h.ID
			e.generate(r, e.clock.Now())
		}
	}

	e.collect()
	e.metrics.ObserveScan(e.clock.Now().Sub(start))
}

// expire terminates subscriptions whose peer stopped confirming.
func (e *Engine) expire(now time.Time) {
	for _, r := range slices.Clone(e.order) {
		if r.h.Expired(now, e.cfg.AckTimeout) {
			e.warnLog("subscription liveness lost",
				"handler", r.h.String(),
				"last_delivered", r.h.LastDelivered)
			e.terminate(r, ErrLivenessTimeout, metrics.EndLiveness)
		}
	}
}

// changed reports whether a subscription has undelivered dirty attributes
// or events.
func (e *Engine) changed(h *interaction.Handler) bool {
	if h.Kind != interaction.KindSubscribe || h.State() != interaction.StateReportable {
		return false
	}
	if e.dirty.Intersects(h.AttributePaths, h.ReportedGeneration) {
		return true
	}
	return e.eventsPending(h)
}

func (e *Engine) eventsPending(h *interaction.Handler) bool {
	if len(h.EventPaths) == 0 || e.events.NextNumber() <= h.NextEvent {
		return false
	}
	seq, err := e.events.ReadFrom(e.events.FirstContiguous(h.NextEvent))
	if err != nil {
		return false
	}
	for entry := range seq {
		if path.AnyEventIntersects(h.EventPaths, entry.Path) {
			return true
		}
	}
	return false
}

// collect drops dirty entries no live subscription still owes.
func (e *Engine) collect() {
	removed := e.dirty.Collect(func(entry dirty.Entry) bool {
		for _, r := range e.order {
			h := r.h
			if h.Kind != interaction.KindSubscribe || h.State().IsTerminal() {
				continue
			}
			if h.ReportedGeneration < entry.Generation && path.AnyAttributeIntersects(h.AttributePaths, entry.Path) {
				return false
			}
		}
		return true
	})
	if removed > 0 {
		e.metrics.SetDirtyPaths(e.dirty.Len())
	}
}

// confirm applies the outcome of a delivered report.
func (e *Engine) confirm(id uint32, token uint64, err error) {
	r, ok := e.records[id]
	if !ok || token == 0 || r.token != token || r.h.State() != interaction.StateAwaitingAck {
		e.debugLog("stale report confirmation ignored", "handler_id", id)
		return
	}
	h := r.h
	now := e.clock.Now()
	r.token = 0
	e.inFlight--
	e.metrics.ObserveAck(now.Sub(r.sentAt))

	if err != nil {
		e.terminate(r, fmt.Errorf("deliver report: %w", err), metrics.EndFailed)
		return
	}

	wasPrimed := h.Primed
	complete := h.Commit(now)
	if complete && !wasPrimed && h.Kind == interaction.KindSubscribe {
		if n, ok := r.ex.(SubscriptionNotifier); ok {
			n.SubscriptionEstablished(h.SubscriptionID(), h.MaxInterval)
		}
	}

	if h.Finished() {
		e.transition(r, interaction.StateDone, "read complete")
		e.remove(r, nil, metrics.EndDone)
	} else {
		e.transition(r, interaction.StateReportable, "")
	}
	if complete {
		e.collect()
	}
	e.scheduleScan()
}

// terminate ends a transaction with err.
func (e *Engine) terminate(r *record, err error, reason string) {
	if _, ok := e.records[r.h.ID]; !ok {
		return
	}
	r.h.Discard()
	e.transition(r, interaction.StateTerminated, err.Error())
	if !errors.Is(err, ErrCancelled) && !errors.Is(err, ErrEngineClosed) {
		e.traceError(r.h, err)
	}
	e.remove(r, err, reason)
}

// remove unregisters a transaction and closes its exchange.
func (e *Engine) remove(r *record, err error, reason string) {
	delete(e.records, r.h.ID)
	e.order = slices.DeleteFunc(e.order, func(x *record) bool { return x == r })
	if r.token != 0 {
		r.token = 0
		e.inFlight--
	}
	r.ex.Close(err)

	e.metrics.TransactionEnded(kindLabel(r.h.Kind), reason)
	e.debugLog("transaction ended",
		"handler", r.h.String(),
		"reason", reason,
		"sends", r.h.Sends,
		"error", err)
	e.scheduleScan()
}

func (e *Engine) transition(r *record, to interaction.State, reason string) {
	from := r.h.State()
	if err := r.h.Transition(to); err != nil {
		e.warnLog("transaction state", "handler", r.h.String(), "error", err)
		return
	}
	e.traceState(r.h, from.String(), to.String(), reason)
}

// rearm points the engine timer at the earliest future deadline.
func (e *Engine) rearm() {
	now := e.clock.Now()
	var next time.Time
	for _, r := range e.order {
		d := r.h.NextDeadline(e.changed(r.h), e.cfg.AckTimeout)
		if d.IsZero() || !d.After(now) {
			continue
		}
		if next.IsZero() || d.Before(next) {
			next = d
		}
	}

	if e.timer != nil && next.Equal(e.timerAt) {
		return
	}
	e.stopTimer()
	if next.IsZero() {
		return
	}

	e.timerGen++
	gen := e.timerGen
	e.timerAt = next
	e.timer = e.clock.AfterFunc(next.Sub(now), func() {
		e.queue.Post(func() {
			if e.timerGen == gen {
				e.timer = nil
				e.timerAt = time.Time{}
			}
			e.scheduleScan()
		})
	})
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = nil
	e.timerAt = time.Time{}
	e.timerGen++
}

func kindLabel(k interaction.Kind) string {
	return strings.ToLower(k.String())
}

func (e *Engine) debugLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, args...)
	}
}

func (e *Engine) warnLog(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, args...)
	}
}

func (e *Engine) traceState(h *interaction.Handler, from, to, reason string) {
	e.plog.Log(log.Event{
		Timestamp:      e.clock.Now(),
		TraceID:        h.TraceID.String(),
		Direction:      log.DirectionOut,
		Layer:          log.LayerEngine,
		Category:       log.CategoryState,
		SubscriptionID: h.SubscriptionID(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityTransaction,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func (e *Engine) traceError(h *interaction.Handler, err error) {
	e.plog.Log(log.Event{
		Timestamp:      e.clock.Now(),
		TraceID:        h.TraceID.String(),
		Direction:      log.DirectionOut,
		Layer:          log.LayerEngine,
		Category:       log.CategoryError,
		SubscriptionID: h.SubscriptionID(),
		Error: &log.ErrorEventData{
			Layer:   log.LayerEngine,
			Message: err.Error(),
			Context: h.String(),
		},
	})
}
