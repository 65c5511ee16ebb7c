package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for wire messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for wire messages.
var decMode cbor.DecMode

func init() {
	var err error

	// Configure encoder for deterministic output
	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical, // Deterministic key ordering
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix, // Unix timestamps
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Configure decoder to be lenient for forward compatibility
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet, // Ignore duplicate keys (last wins)
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a new CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a new CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// MarshalRaw encodes a value into an embeddable CBOR item.
func MarshalRaw(v any) (cbor.RawMessage, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return cbor.RawMessage(data), nil
}

// EncodeMessage wraps body in an Envelope and encodes it. A body that is
// already a cbor.RawMessage is embedded as is.
func EncodeMessage(msgType MessageType, sequence uint32, body any) ([]byte, error) {
	return EncodeExchangeMessage(0, msgType, sequence, body)
}

// EncodeExchangeMessage is EncodeMessage for a message of the given exchange.
func EncodeExchangeMessage(exchange uint16, msgType MessageType, sequence uint32, body any) ([]byte, error) {
	if !msgType.IsValid() {
		return nil, fmt.Errorf("invalid message type: %d", msgType)
	}
	raw, ok := body.(cbor.RawMessage)
	if !ok && body != nil {
		var err error
		raw, err = MarshalRaw(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", msgType, err)
		}
	}
	return Marshal(&Envelope{Type: msgType, Sequence: sequence, Body: raw, Exchange: exchange})
}

// DecodeEnvelope decodes CBOR bytes into an Envelope.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if !env.Type.IsValid() {
		return nil, fmt.Errorf("invalid message type: %d", env.Type)
	}
	return &env, nil
}

// DecodeBody decodes the envelope body into v.
func (e *Envelope) DecodeBody(v any) error {
	if len(e.Body) == 0 {
		return fmt.Errorf("%s has no body", e.Type)
	}
	if err := Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", e.Type, err)
	}
	return nil
}

// EncodeReport encodes a ReportData from items encoded ahead of time.
func EncodeReport(header ReportHeader, attributes, events []cbor.RawMessage) ([]byte, error) {
	return Marshal(&reportDataRaw{
		SubscriptionID:   header.SubscriptionID,
		AttributeReports: attributes,
		EventReports:     events,
		MoreChunks:       header.MoreChunks,
		LastEventNumber:  header.LastEventNumber,
		EventsDropped:    header.EventsDropped,
	})
}

// DecodeReport decodes CBOR bytes into a ReportData.
func DecodeReport(data []byte) (*ReportData, error) {
	var report ReportData
	if err := Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &report, nil
}

// Clone creates a deep copy of the CBOR data by re-encoding.
// Useful for copying messages without shared references.
func Clone[T any](v T) (T, error) {
	var result T
	data, err := Marshal(v)
	if err != nil {
		return result, err
	}
	err = Unmarshal(data, &result)
	return result, err
}

// Equal compares two values by their CBOR encoding.
func Equal(a, b any) bool {
	dataA, errA := Marshal(a)
	dataB, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(dataA, dataB)
}
