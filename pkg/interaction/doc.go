// Package interaction holds the per-requester state of read and subscribe
// interactions.
//
// A Handler is created for every admitted ReadRequest or SubscribeRequest.
// It records the subject, the interest paths, the intervals and the cursors
// the reporting engine advances as reports are confirmed.
//
// # Lifecycle
//
// Every handler moves through a fixed set of states:
//
//	IDLE -> GENERATING -> AWAITING_ACK -> REPORTABLE -> GENERATING -> ...
//	                                   \-> DONE
//	any non-terminal state -> TERMINATED
//
// All moves go through Transition, which rejects moves the table does not
// list. DONE and TERMINATED are terminal.
//
// # Admission
//
// NewReadHandler and NewSubscribeHandler validate the request. Concrete
// paths that do not exist or that the subject may not read are left out of
// the interest set and reported once as per-path statuses in the first
// report.
//
// # Intervals
//
// A subscription reports no more often than its min interval and at least
// once per max interval. A subscription whose reports have not been
// confirmed within max interval plus the ack timeout has lost its peer.
//
// Handlers are not safe for concurrent use; the reporting engine owns them.
package interaction
