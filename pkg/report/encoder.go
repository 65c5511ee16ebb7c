package report

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// ErrAlreadyEncoded is returned when a value is encoded twice through the
// same encoder.
var ErrAlreadyEncoded = errors.New("attribute value already encoded")

// ListResume records how far a chunked list got.
type ListResume struct {
	// Active is set once the empty list item has been delivered.
	Active bool

	// Next is the index of the first element not yet delivered.
	Next int
}

// AttributeEncoder writes one attribute value into a Builder.
type AttributeEncoder struct {
	b       *Builder
	path    path.AttributePath
	version path.DataVersion
	resume  ListResume
	done    bool
}

// NewAttributeEncoder creates an encoder for the attribute at p. A non-zero
// resume continues a list chunked in an earlier report.
func NewAttributeEncoder(b *Builder, p path.AttributePath, version path.DataVersion, resume ListResume) *AttributeEncoder {
	return &AttributeEncoder{
		b:       b,
		path:    p,
		version: version,
		resume:  resume,
	}
}

// Path returns the concrete attribute path being encoded.
func (e *AttributeEncoder) Path() path.AttributePath {
	return e.path
}

// Resume returns the list position reached. It is only meaningful after
// EncodeList returned ErrBufferExhausted.
func (e *AttributeEncoder) Resume() ListResume {
	return e.resume
}

// Encode emits v as a single item.
func (e *AttributeEncoder) Encode(v any) error {
	if e.done {
		return ErrAlreadyEncoded
	}
	data, err := wire.MarshalRaw(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.path, err)
	}
	if err := e.b.AddAttribute(&wire.AttributeReport{
		Path:        e.path,
		DataVersion: e.version,
		Data:        data,
	}); err != nil {
		return err
	}
	e.done = true
	return nil
}

// EncodeList emits a list value. fn is called once and passes every element
// to add in order.
func (e *AttributeEncoder) EncodeList(fn func(add func(v any) error) error) error {
	if e.done {
		return ErrAlreadyEncoded
	}

	var elements []cbor.RawMessage
	err := fn(func(v any) error {
		data, err := wire.MarshalRaw(v)
		if err != nil {
			return err
		}
		elements = append(elements, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.path, err)
	}

	if !e.resume.Active {
		if elements == nil {
			elements = []cbor.RawMessage{}
		}
		whole, err := wire.MarshalRaw(elements)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.path, err)
		}
		err = e.b.AddAttribute(&wire.AttributeReport{Path: e.path, DataVersion: e.version, Data: whole})
		if err == nil {
			e.done = true
			return nil
		}
		if !isOverflow(err) {
			return err
		}

		if err := e.b.AddAttribute(&wire.AttributeReport{
			Path:        e.path,
			DataVersion: e.version,
			Data:        cbor.RawMessage{0x80},
		}); err != nil {
			return err
		}
		e.resume = ListResume{Active: true}
	}

	if e.resume.Next > len(elements) {
		// The list shrank since the earlier chunk.
		e.resume.Next = len(elements)
	}
	for i := e.resume.Next; i < len(elements); i++ {
		if err := e.b.AddAttribute(&wire.AttributeReport{
			Path:        e.path,
			DataVersion: e.version,
			Data:        elements[i],
			Append:      true,
		}); err != nil {
			return err
		}
		e.resume.Next = i + 1
	}

	e.done = true
	e.resume = ListResume{}
	return nil
}

func isOverflow(err error) bool {
	return errors.Is(err, ErrBufferExhausted) || errors.Is(err, ErrItemTooLarge)
}
