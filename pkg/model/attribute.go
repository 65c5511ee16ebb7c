package model

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"sync"

	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// Global attribute IDs (present on all clusters).
const (
	// AttrIDClusterRevision is the cluster revision number.
	AttrIDClusterRevision path.AttributeID = 0xFFFD

	// AttrIDFeatureMap is the cluster capability bitmap.
	AttrIDFeatureMap path.AttributeID = 0xFFFC

	// AttrIDAttributeList is the list of supported attribute IDs.
	AttrIDAttributeList path.AttributeID = 0xFFFB

	// AttrIDEventList is the list of supported event IDs.
	AttrIDEventList path.AttributeID = 0xFFFA

	// AttrIDGlobalBase is the start of global attributes.
	AttrIDGlobalBase path.AttributeID = 0xFFF0
)

// Access flags for attributes.
type Access uint8

const (
	// AccessRead allows reading the attribute.
	AccessRead Access = 1 << iota

	// AccessWrite allows writing the attribute.
	AccessWrite

	// AccessReadOnly allows reading only.
	AccessReadOnly = AccessRead

	// AccessReadWrite allows reading and writing.
	AccessReadWrite = AccessRead | AccessWrite
)

// CanRead returns true if reading is allowed.
func (a Access) CanRead() bool { return a&AccessRead != 0 }

// CanWrite returns true if writing is allowed.
func (a Access) CanWrite() bool { return a&AccessWrite != 0 }

// String returns the access flags as a string.
func (a Access) String() string {
	var s string
	if a.CanRead() {
		s += "R"
	}
	if a.CanWrite() {
		s += "W"
	}
	if s == "" {
		return "-"
	}
	return s
}

// DataType represents the type of an attribute value.
type DataType uint8

const (
	DataTypeUnknown DataType = iota
	DataTypeBool
	DataTypeInt8
	DataTypeInt16
	DataTypeInt32
	DataTypeInt64
	DataTypeUint8
	DataTypeUint16
	DataTypeUint32
	DataTypeUint64
	DataTypeFloat32
	DataTypeFloat64
	DataTypeString
	DataTypeBytes
	DataTypeArray
	DataTypeMap
	DataTypeStruct
	DataTypeEnum
	DataTypeNull
)

// String returns the data type name.
func (d DataType) String() string {
	names := []string{
		"unknown", "bool", "int8", "int16", "int32", "int64",
		"uint8", "uint16", "uint32", "uint64", "float32", "float64",
		"string", "bytes", "array", "map", "struct", "enum", "null",
	}
	if int(d) < len(names) {
		return names[d]
	}
	return "unknown"
}

// Range bounds a numeric attribute, inclusive.
type Range struct {
	Min, Max float64
}

// AttributeMetadata describes an attribute.
type AttributeMetadata struct {
	ID     path.AttributeID
	Name   string
	Type   DataType
	Access Access

	// ReadPrivilege is the privilege needed to read. Zero means View.
	ReadPrivilege Privilege

	Nullable bool
	Range    *Range
	Default  any

	// ReportableChange is the smallest numeric move that is reported.
	// Smaller moves are stored and bump the data version but do not mark
	// the attribute dirty. Zero reports every change.
	ReportableChange float64

	// Unit of measurement, e.g. "W" or "V".
	Unit        string
	Description string
}

// IsList returns true if the attribute holds a list value.
func (m *AttributeMetadata) IsList() bool {
	return m.Type == DataTypeArray
}

// readPrivilege returns the privilege needed to read the attribute.
func (m *AttributeMetadata) readPrivilege() Privilege {
	if m.ReadPrivilege == 0 {
		return PrivilegeView
	}
	return m.ReadPrivilege
}

// Change is the outcome of storing an attribute value.
type Change uint8

const (
	// Unchanged means the value was equal to the stored one.
	Unchanged Change = iota

	// ChangedQuietly means the value was stored but moved less than the
	// reportable change since the last reportable value.
	ChangedQuietly

	// Changed means subscribers should see the new value.
	Changed
)

// Stored reports whether the value differs from before.
func (c Change) Stored() bool { return c != Unchanged }

// Reportable reports whether the change should mark the attribute dirty.
func (c Change) Reportable() bool { return c == Changed }

// Attribute errors.
var (
	ErrAttributeNotWritable = errors.New("attribute is not writable")
	ErrAttributeNotNullable = errors.New("attribute does not accept null")
	ErrAttributeValueType   = errors.New("invalid value type for attribute")
	ErrAttributeOutOfRange  = errors.New("value out of range")
)

// Attribute holds the current value of one attribute.
type Attribute struct {
	meta *AttributeMetadata

	mu    sync.RWMutex
	value any

	// baseline is the last value that was reportable.
	baseline any
}

// NewAttribute creates an attribute holding meta.Default.
func NewAttribute(meta *AttributeMetadata) *Attribute {
	return &Attribute{meta: meta, value: meta.Default, baseline: meta.Default}
}

// ID returns the attribute ID.
func (a *Attribute) ID() path.AttributeID {
	return a.meta.ID
}

// Metadata returns the attribute metadata.
func (a *Attribute) Metadata() *AttributeMetadata {
	return a.meta
}

// Value returns the current value.
func (a *Attribute) Value() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.value
}

// SetValue stores a value written by a requester.
func (a *Attribute) SetValue(value any) (Change, error) {
	if !a.meta.Access.CanWrite() {
		return Unchanged, ErrAttributeNotWritable
	}
	return a.Update(value)
}

// Update stores a value produced by the device itself, ignoring write
// access.
func (a *Attribute) Update(value any) (Change, error) {
	if err := a.validate(value); err != nil {
		return Unchanged, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if reflect.DeepEqual(a.value, value) {
		return Unchanged, nil
	}
	a.value = value
	if !a.reportable(value) {
		return ChangedQuietly, nil
	}
	a.baseline = value
	return Changed, nil
}

// reportable compares value against the baseline using the reportable
// change threshold. Non-numeric values and null transitions always report.
func (a *Attribute) reportable(value any) bool {
	if a.meta.ReportableChange <= 0 {
		return true
	}
	v, ok := numeric(value)
	if !ok {
		return true
	}
	base, ok := numeric(a.baseline)
	if !ok {
		return true
	}
	return math.Abs(v-base) >= a.meta.ReportableChange
}

func (a *Attribute) validate(value any) error {
	if value == nil {
		if !a.meta.Nullable {
			return ErrAttributeNotNullable
		}
		return nil
	}

	rv := reflect.ValueOf(value)
	var ok bool
	switch a.meta.Type {
	case DataTypeBool:
		ok = rv.Kind() == reflect.Bool
	case DataTypeInt8, DataTypeInt16, DataTypeInt32, DataTypeInt64,
		DataTypeUint8, DataTypeUint16, DataTypeUint32, DataTypeUint64, DataTypeEnum:
		ok = rv.CanInt() || rv.CanUint()
	case DataTypeFloat32, DataTypeFloat64:
		ok = rv.CanInt() || rv.CanUint() || rv.CanFloat()
	case DataTypeString:
		ok = rv.Kind() == reflect.String
	case DataTypeBytes:
		ok = rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8
	case DataTypeArray:
		ok = rv.Kind() == reflect.Slice
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: %s for %s attribute %s", ErrAttributeValueType, rv.Type(), a.meta.Type, a.meta.Name)
	}

	if r := a.meta.Range; r != nil {
		if v, isNum := numeric(value); isNum && (v < r.Min || v > r.Max) {
			return fmt.Errorf("%w: %v not in [%v, %v]", ErrAttributeOutOfRange, value, r.Min, r.Max)
		}
	}
	return nil
}

// numeric converts any integer or float kind to float64.
func numeric(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}
