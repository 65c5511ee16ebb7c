package interaction

import "time"

// CanNotify returns true if the min interval has passed since the last
// report.
func (h *Handler) CanNotify(now time.Time) bool {
	return now.Sub(h.LastReport) >= h.MinInterval
}

// NeedsHeartbeat returns true if a subscription has been silent for its max
// interval.
func (h *Handler) NeedsHeartbeat(now time.Time) bool {
	return h.Kind == KindSubscribe && now.Sub(h.LastReport) >= h.MaxInterval
}

// Eligible reports whether the handler should get a report now. changed is
// set when dirty attributes or undelivered events match the interest set.
func (h *Handler) Eligible(now time.Time, changed bool) bool {
	switch h.state {
	case StateIdle:
		return true
	case StateReportable:
		if h.Cursor.Active || h.HasPending() {
			return true
		}
		if h.Kind != KindSubscribe {
			return false
		}
		return (changed && h.CanNotify(now)) || h.NeedsHeartbeat(now)
	default:
		return false
	}
}

// LivenessDeadline returns when a subscription whose reports stop being
// confirmed is considered lost.
func (h *Handler) LivenessDeadline(ackTimeout time.Duration) time.Time {
	return h.LastDelivered.Add(h.MaxInterval + ackTimeout)
}

// Expired reports whether a subscription lost its peer.
func (h *Handler) Expired(now time.Time, ackTimeout time.Duration) bool {
	if h.Kind != KindSubscribe || h.state.IsTerminal() {
		return false
	}
	return !now.Before(h.LivenessDeadline(ackTimeout))
}

// NextDeadline returns the earliest time the handler needs the engine's
// attention, or the zero time if it needs none.
func (h *Handler) NextDeadline(changed bool, ackTimeout time.Duration) time.Time {
	if h.Kind != KindSubscribe || h.state.IsTerminal() {
		return time.Time{}
	}

	deadline := h.LivenessDeadline(ackTimeout)
	if h.state == StateReportable {
		next := h.LastReport.Add(h.MaxInterval)
		if changed {
			next = h.LastReport.Add(h.MinInterval)
		}
		if next.Before(deadline) {
			deadline = next
		}
	}
	return deadline
}
