package interaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mash-protocol/mash-reporting/pkg/dirty"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/report"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// ErrTooManyPaths is returned when a request names more paths than allowed.
var ErrTooManyPaths = errors.New("too many paths in request")

// Checker validates concrete request paths at admission.
type Checker interface {
	AttributeExists(p path.AttributePath) error
	CheckAttributeAccess(subject model.Subject, p path.AttributePath) error
	EventSupported(p path.EventPath) error
}

// Limits bound what a single request may ask for.
type Limits struct {
	// MaxPaths is the maximum number of attribute plus event paths.
	MaxPaths int

	// MinIntervalFloor raises shorter requested min intervals.
	MinIntervalFloor time.Duration
}

// AttributeStatus is a per-path failure owed to the requester.
type AttributeStatus struct {
	Path   path.AttributePath
	Status wire.Status
}

// EventStatus is a per-path failure owed to the requester.
type EventStatus struct {
	Path   path.EventPath
	Status wire.Status
}

// Cursor is the position inside a multi-report sequence.
type Cursor struct {
	// Work is the ordered list of concrete attribute paths of the sequence.
	Work []path.AttributePath

	// Index is the first work item not yet fully delivered.
	Index int

	// List is the chunking position of Work[Index].
	List report.ListResume

	// ListVersion is the data version Work[Index] had when its chunking
	// started.
	ListVersion path.DataVersion

	// Generation is the dirty generation the sequence covers.
	Generation dirty.Generation

	// Active is set while a sequence has more chunks to deliver.
	Active bool
}

// Remaining returns the work items not yet delivered.
func (c Cursor) Remaining() []path.AttributePath {
	if c.Index >= len(c.Work) {
		return nil
	}
	return c.Work[c.Index:]
}

// Progress is what a report in flight will commit once it is confirmed.
type Progress struct {
	Cursor Cursor

	// NextEvent is the first event number not yet delivered.
	NextEvent uint64

	// Complete is set when the report ends its sequence.
	Complete bool

	// StatusesSent counts the pending statuses the report carried.
	AttributeStatusesSent int
	EventStatusesSent     int
}

// Handler is the state of one read or subscribe interaction.
type Handler struct {
	// ID identifies the handler within the engine. Subscriptions use it as
	// their subscription ID.
	ID uint32

	// TraceID correlates the handler in logs and protocol traces.
	TraceID uuid.UUID

	Kind    Kind
	Subject model.Subject

	state State

	AttributePaths     []path.AttributePath
	EventPaths         []path.EventPath
	DataVersionFilters []wire.DataVersionFilter

	MinInterval time.Duration
	MaxInterval time.Duration

	// NextEvent is the first event number to deliver. Zero means start at
	// the oldest buffered event.
	NextEvent uint64

	// ReportedGeneration is the dirty generation fully delivered.
	ReportedGeneration dirty.Generation

	// Primed is set once the first complete report sequence was confirmed.
	Primed bool

	// Cursor is the committed position of the current sequence.
	Cursor Cursor

	// Staged is the progress of the report in flight.
	Staged *Progress

	AttributeStatuses []AttributeStatus
	EventStatuses     []EventStatus

	Created       time.Time
	LastReport    time.Time
	LastDelivered time.Time

	// Sends counts reports handed to the transport.
	Sends int
}

// State returns the current lifecycle state.
func (h *Handler) State() State {
	return h.state
}

// SubscriptionID returns the subscription ID, or zero for reads.
func (h *Handler) SubscriptionID() uint32 {
	if h.Kind != KindSubscribe {
		return 0
	}
	return h.ID
}

// HasPending reports whether per-path statuses are still owed.
func (h *Handler) HasPending() bool {
	return len(h.AttributeStatuses) > 0 || len(h.EventStatuses) > 0
}

// Stage records the progress of the report just handed to the transport.
func (h *Handler) Stage(p Progress) {
	h.Staged = &p
}

// Commit applies the staged progress after the requester confirmed the
// report. It reports whether the sequence completed.
func (h *Handler) Commit(now time.Time) bool {
	p := h.Staged
	h.Staged = nil
	h.LastDelivered = now
	if p == nil {
		return false
	}
	return h.Advance(*p)
}

// Advance applies progress that needs no delivery, such as a scan that
// found nothing to send. It reports whether the sequence completed.
func (h *Handler) Advance(p Progress) bool {
	h.AttributeStatuses = h.AttributeStatuses[min(p.AttributeStatusesSent, len(h.AttributeStatuses)):]
	h.EventStatuses = h.EventStatuses[min(p.EventStatusesSent, len(h.EventStatuses)):]
	h.NextEvent = p.NextEvent
	h.Cursor = p.Cursor
	if !p.Complete {
		return false
	}
	if p.Cursor.Generation > h.ReportedGeneration {
		h.ReportedGeneration = p.Cursor.Generation
	}
	h.Cursor = Cursor{}
	h.Primed = true
	return true
}

// Discard drops the staged progress.
func (h *Handler) Discard() {
	h.Staged = nil
}

// Finished reports whether a read has nothing left to deliver.
func (h *Handler) Finished() bool {
	return h.Kind == KindRead && h.Primed && !h.Cursor.Active && !h.HasPending()
}

// FilteredVersion reports whether the requester already holds version v of
// the cluster.
func (h *Handler) FilteredVersion(endpoint path.EndpointID, cluster path.ClusterID, v path.DataVersion) bool {
	for _, f := range h.DataVersionFilters {
		if f.Endpoint == endpoint && f.Cluster == cluster && f.DataVersion == v {
			return true
		}
	}
	return false
}

// String returns a compact description for logs.
func (h *Handler) String() string {
	return fmt.Sprintf("%s#%d[%s]", h.Kind, h.ID, h.state)
}

// NewReadHandler admits a read request.
func NewReadHandler(id uint32, subject model.Subject, req *wire.ReadRequest, limits Limits, checker Checker, now time.Time) (*Handler, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return newHandler(id, KindRead, subject, req, limits, checker, now)
}

// NewSubscribeHandler admits a subscribe request.
func NewSubscribeHandler(id uint32, subject model.Subject, req *wire.SubscribeRequest, limits Limits, checker Checker, now time.Time) (*Handler, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	read := &wire.ReadRequest{
		AttributePaths:     req.AttributePaths,
		EventPaths:         req.EventPaths,
		DataVersionFilters: req.DataVersionFilters,
		EventMin:           req.EventMin,
	}
	h, err := newHandler(id, KindSubscribe, subject, read, limits, checker, now)
	if err != nil {
		return nil, err
	}
	h.MinInterval = max(req.MinIntervalDuration(), limits.MinIntervalFloor)
	h.MaxInterval = max(req.MaxIntervalDuration(), h.MinInterval)
	return h, nil
}

func newHandler(id uint32, kind Kind, subject model.Subject, req *wire.ReadRequest, limits Limits, checker Checker, now time.Time) (*Handler, error) {
	if limits.MaxPaths > 0 && len(req.AttributePaths)+len(req.EventPaths) > limits.MaxPaths {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyPaths, len(req.AttributePaths)+len(req.EventPaths), limits.MaxPaths)
	}

	h := &Handler{
		ID:                 id,
		TraceID:            uuid.New(),
		Kind:               kind,
		Subject:            subject,
		state:              StateIdle,
		DataVersionFilters: req.DataVersionFilters,
		NextEvent:          req.EventMin,
		Created:            now,
		LastReport:         now,
		LastDelivered:      now,
	}

	for _, p := range req.AttributePaths {
		if p.IsConcrete() {
			err := checker.AttributeExists(p)
			if err == nil {
				err = checker.CheckAttributeAccess(subject, p)
			}
			if err != nil {
				h.AttributeStatuses = append(h.AttributeStatuses, AttributeStatus{Path: p, Status: model.StatusFor(err)})
				continue
			}
		}
		h.AttributePaths = append(h.AttributePaths, p)
	}

	for _, p := range req.EventPaths {
		if err := checker.EventSupported(p); err != nil {
			h.EventStatuses = append(h.EventStatuses, EventStatus{Path: p, Status: model.StatusFor(err)})
			continue
		}
		h.EventPaths = append(h.EventPaths, p)
	}

	return h, nil
}
