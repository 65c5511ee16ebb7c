package log

import (
	"time"

	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// TraceID identifies the connection or transaction (UUID).
	TraceID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// SubscriptionID is set for events of a subscription.
	SubscriptionID uint32 `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/transaction state
	Report      *ReportEvent      `cbor:"13,keyasint,omitempty"` // Engine layer
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerEngine is the reporting engine.
	LayerEngine Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerEngine:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryReport indicates a generated report.
	CategoryReport Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryReport:
		return "REPORT"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded envelope at the wire layer.
type MessageEvent struct {
	// Type is the message type of the envelope.
	Type wire.MessageType `cbor:"1,keyasint"`

	// Sequence correlates reports with their acknowledgements.
	Sequence uint32 `cbor:"2,keyasint"`

	// Status is set for status responses.
	Status *wire.Status `cbor:"3,keyasint,omitempty"`

	// Size is the body size in bytes.
	Size int `cbor:"4,keyasint,omitempty"`

	// Exchange is the read or subscription the message belongs to.
	Exchange uint16 `cbor:"5,keyasint,omitempty"`
}

// ReportEvent captures a report handed to the transport.
type ReportEvent struct {
	// HandlerID identifies the read or subscription within the engine.
	HandlerID uint32 `cbor:"1,keyasint"`

	// Attributes is the number of attribute items.
	Attributes int `cbor:"2,keyasint"`

	// Events is the number of event items.
	Events int `cbor:"3,keyasint"`

	// Size is the encoded report size in bytes.
	Size int `cbor:"4,keyasint"`

	// MoreChunks is set when the report continues in the next one.
	MoreChunks bool `cbor:"5,keyasint,omitempty"`

	// LastEventNumber is the highest event number in the report.
	LastEventNumber uint64 `cbor:"6,keyasint,omitempty"`

	// EventsDropped is set when requested events had expired.
	EventsDropped bool `cbor:"7,keyasint,omitempty"`

	// Keepalive is set for a report sent only because the max interval
	// elapsed.
	Keepalive bool `cbor:"8,keyasint,omitempty"`
}

// StateChangeEvent captures connection and transaction lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityTransaction indicates a read or subscription state change.
	StateEntityTransaction StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityTransaction:
		return "TRANSACTION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Status is the wire status the error maps to (if applicable).
	Status *wire.Status `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
