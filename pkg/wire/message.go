package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// Request validation errors.
var (
	ErrNoPaths         = errors.New("request has no paths")
	ErrInvalidInterval = errors.New("invalid reporting interval")
)

// Envelope frames every message on the wire.
//
// CBOR encoding:
//
//	{
//	  1: type,       // uint8: MessageType
//	  2: sequence,   // uint32: echoed by the StatusResponse acknowledging it
//	  3: body,       // embedded CBOR item
//	  4: exchange    // uint16: the read or subscription the message belongs to
//	}
type Envelope struct {
	Type     MessageType     `cbor:"1,keyasint"`
	Sequence uint32          `cbor:"2,keyasint"`
	Body     cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	Exchange uint16          `cbor:"4,keyasint,omitempty"`
}

// EnvelopeOverhead bounds the bytes an Envelope adds around its body.
const EnvelopeOverhead = 20

// DataVersionFilter lets a requester skip a cluster whose data it already
// holds at the given version.
type DataVersionFilter struct {
	Endpoint    path.EndpointID  `cbor:"1,keyasint"`
	Cluster     path.ClusterID   `cbor:"2,keyasint"`
	DataVersion path.DataVersion `cbor:"3,keyasint"`
}

// ReadRequest asks for a one-shot read.
//
// CBOR encoding:
//
//	{
//	  1: [attributePath...],
//	  2: [eventPath...],
//	  3: [dataVersionFilter...],
//	  4: eventMin            // uint64: first event number wanted
//	}
type ReadRequest struct {
	AttributePaths     []path.AttributePath `cbor:"1,keyasint,omitempty"`
	EventPaths         []path.EventPath     `cbor:"2,keyasint,omitempty"`
	DataVersionFilters []DataVersionFilter  `cbor:"3,keyasint,omitempty"`
	EventMin           uint64               `cbor:"4,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *ReadRequest) Validate() error {
	if len(r.AttributePaths) == 0 && len(r.EventPaths) == 0 {
		return ErrNoPaths
	}
	return nil
}

// SubscribeRequest asks for a subscription. Intervals are in seconds.
type SubscribeRequest struct {
	AttributePaths     []path.AttributePath `cbor:"1,keyasint,omitempty"`
	EventPaths         []path.EventPath     `cbor:"2,keyasint,omitempty"`
	DataVersionFilters []DataVersionFilter  `cbor:"3,keyasint,omitempty"`
	EventMin           uint64               `cbor:"4,keyasint,omitempty"`
	MinInterval        uint16               `cbor:"5,keyasint"`
	MaxInterval        uint16               `cbor:"6,keyasint"`
}

// Validate checks if the request is valid.
func (r *SubscribeRequest) Validate() error {
	if len(r.AttributePaths) == 0 && len(r.EventPaths) == 0 {
		return ErrNoPaths
	}
	if r.MaxInterval == 0 {
		return fmt.Errorf("%w: max interval must be positive", ErrInvalidInterval)
	}
	if r.MinInterval > r.MaxInterval {
		return fmt.Errorf("%w: min %ds > max %ds", ErrInvalidInterval, r.MinInterval, r.MaxInterval)
	}
	return nil
}

// MinIntervalDuration returns the minimum interval as a duration.
func (r *SubscribeRequest) MinIntervalDuration() time.Duration {
	return time.Duration(r.MinInterval) * time.Second
}

// MaxIntervalDuration returns the maximum interval as a duration.
func (r *SubscribeRequest) MaxIntervalDuration() time.Duration {
	return time.Duration(r.MaxInterval) * time.Second
}

// SubscribeResponse confirms a subscription.
type SubscribeResponse struct {
	SubscriptionID uint32 `cbor:"1,keyasint"`
	MaxInterval    uint16 `cbor:"2,keyasint"`
}

// AttributeReport carries one attribute value or per-path status.
//
// CBOR encoding:
//
//	{
//	  1: path,
//	  2: dataVersion,   // uint32, absent when unknown
//	  3: data,          // embedded value, absent on failure
//	  4: status,        // uint8, absent on success
//	  5: append         // bool, true for a list element chunk
//	}
type AttributeReport struct {
	Path        path.AttributePath `cbor:"1,keyasint"`
	DataVersion path.DataVersion   `cbor:"2,keyasint,omitempty"`
	Data        cbor.RawMessage    `cbor:"3,keyasint,omitempty"`
	Status      Status             `cbor:"4,keyasint,omitempty"`
	Append      bool               `cbor:"5,keyasint,omitempty"`
}

// EventReport carries one event or per-path status. Timestamp is in Unix
// milliseconds.
type EventReport struct {
	Path      path.EventPath   `cbor:"1,keyasint"`
	Number    uint64           `cbor:"2,keyasint,omitempty"`
	Priority  uint8            `cbor:"3,keyasint,omitempty"`
	Timestamp int64            `cbor:"4,keyasint,omitempty"`
	Fabric    path.FabricIndex `cbor:"5,keyasint,omitempty"`
	Data      cbor.RawMessage  `cbor:"6,keyasint,omitempty"`
	Status    Status           `cbor:"7,keyasint,omitempty"`
}

// ReportData is one bounded report.
//
// CBOR encoding:
//
//	{
//	  1: subscriptionId,    // uint32, absent for reads
//	  2: [attributeReport...],
//	  3: [eventReport...],
//	  4: moreChunks,        // bool
//	  5: lastEventNumber,   // uint64: highest event number delivered so far
//	  6: eventsDropped      // bool: requested events were evicted
//	}
type ReportData struct {
	SubscriptionID   uint32            `cbor:"1,keyasint,omitempty"`
	AttributeReports []AttributeReport `cbor:"2,keyasint,omitempty"`
	EventReports     []EventReport     `cbor:"3,keyasint,omitempty"`
	MoreChunks       bool              `cbor:"4,keyasint,omitempty"`
	LastEventNumber  uint64            `cbor:"5,keyasint,omitempty"`
	EventsDropped    bool              `cbor:"6,keyasint,omitempty"`
}

// IsEmpty reports whether the report carries no data.
func (r *ReportData) IsEmpty() bool {
	return len(r.AttributeReports) == 0 && len(r.EventReports) == 0
}

// ReportHeader is the part of a ReportData that is not a report item.
type ReportHeader struct {
	SubscriptionID  uint32
	MoreChunks      bool
	LastEventNumber uint64
	EventsDropped   bool
}

// reportDataRaw has the same encoding as ReportData but takes items that
// are already encoded.
type reportDataRaw struct {
	SubscriptionID   uint32            `cbor:"1,keyasint,omitempty"`
	AttributeReports []cbor.RawMessage `cbor:"2,keyasint,omitempty"`
	EventReports     []cbor.RawMessage `cbor:"3,keyasint,omitempty"`
	MoreChunks       bool              `cbor:"4,keyasint,omitempty"`
	LastEventNumber  uint64            `cbor:"5,keyasint,omitempty"`
	EventsDropped    bool              `cbor:"6,keyasint,omitempty"`
}

// ReportDataOverhead bounds the bytes a ReportData adds around its
// encoded items, for item counts below 65536.
const ReportDataOverhead = 32

// StatusResponse acknowledges a report or ends an interaction.
type StatusResponse struct {
	Status Status `cbor:"1,keyasint"`
}
