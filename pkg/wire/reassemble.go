package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// ErrOrphanAppend is returned for an append item whose list was never
// replaced in the same reassembly.
var ErrOrphanAppend = errors.New("append without preceding list")

// Accumulator rebuilds attribute values from a sequence of attribute
// reports, possibly spread over several ReportData messages.
type Accumulator struct {
	values map[path.AttributePath]*accumulated
	order  []path.AttributePath
}

type accumulated struct {
	raw      cbor.RawMessage
	elements []cbor.RawMessage
	list     bool
	status   Status
	version  path.DataVersion
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{values: make(map[path.AttributePath]*accumulated)}
}

// Apply folds the given items into the accumulated values.
func (a *Accumulator) Apply(items ...AttributeReport) error {
	for _, item := range items {
		key := item.Path.WithoutListIndex()
		cur, ok := a.values[key]

		if item.Status.IsError() {
			if !ok {
				cur = &accumulated{}
				a.values[key] = cur
				a.order = append(a.order, key)
			}
			*cur = accumulated{status: item.Status}
			continue
		}

		if item.Append {
			if !ok || !cur.list {
				return fmt.Errorf("%w: %s", ErrOrphanAppend, key)
			}
			cur.elements = append(cur.elements, item.Data)
			cur.version = item.DataVersion
			continue
		}

		if !ok {
			cur = &accumulated{}
			a.values[key] = cur
			a.order = append(a.order, key)
		}
		*cur = accumulated{raw: item.Data, version: item.DataVersion}
		if isArray(item.Data) {
			if err := Unmarshal(item.Data, &cur.elements); err != nil {
				return fmt.Errorf("attribute %s: %w", key, err)
			}
			cur.list = true
		}
	}
	return nil
}

// Paths returns the accumulated paths in first-seen order.
func (a *Accumulator) Paths() []path.AttributePath {
	out := make([]path.AttributePath, len(a.order))
	copy(out, a.order)
	return out
}

// Value returns the reassembled value of p.
func (a *Accumulator) Value(p path.AttributePath) (cbor.RawMessage, bool) {
	cur, ok := a.values[p.WithoutListIndex()]
	if !ok || cur.status.IsError() {
		return nil, false
	}
	if !cur.list {
		return cur.raw, true
	}
	elements := cur.elements
	if elements == nil {
		elements = []cbor.RawMessage{}
	}
	data, err := Marshal(elements)
	if err != nil {
		return nil, false
	}
	return data, true
}

// Status returns the status reported for p, or StatusSuccess.
func (a *Accumulator) Status(p path.AttributePath) Status {
	if cur, ok := a.values[p.WithoutListIndex()]; ok {
		return cur.status
	}
	return StatusSuccess
}

// DataVersion returns the latest data version reported for p.
func (a *Accumulator) DataVersion(p path.AttributePath) path.DataVersion {
	if cur, ok := a.values[p.WithoutListIndex()]; ok {
		return cur.version
	}
	return 0
}

// Reassemble applies items in order and returns the resulting values.
func Reassemble(items []AttributeReport) (map[path.AttributePath]cbor.RawMessage, error) {
	acc := NewAccumulator()
	if err := acc.Apply(items...); err != nil {
		return nil, err
	}
	out := make(map[path.AttributePath]cbor.RawMessage, len(acc.order))
	for _, p := range acc.order {
		if v, ok := acc.Value(p); ok {
			out[p] = v
		}
	}
	return out, nil
}

// isArray reports whether data holds a CBOR array.
func isArray(data []byte) bool {
	return len(data) > 0 && data[0]>>5 == 4
}
