package path

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// attributePathWire is the CBOR form of AttributePath. Key 4 is present only
// for list element paths.
type attributePathWire struct {
	Endpoint  EndpointID  `cbor:"1,keyasint"`
	Cluster   ClusterID   `cbor:"2,keyasint"`
	Attribute AttributeID `cbor:"3,keyasint"`
	ListIndex *uint16     `cbor:"4,keyasint,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler. The list index is omitted for
// whole-attribute paths.
func (p AttributePath) MarshalCBOR() ([]byte, error) {
	w := attributePathWire{Endpoint: p.Endpoint, Cluster: p.Cluster, Attribute: p.Attribute}
	if p.HasListIndex() {
		idx := p.ListIndex
		w.ListIndex = &idx
	}
	return cbor.Marshal(w)
}

// UnmarshalCBOR implements cbor.Unmarshaler. A path without key 4 addresses
// the whole attribute.
func (p *AttributePath) UnmarshalCBOR(data []byte) error {
	var w attributePathWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("invalid attribute path: %w", err)
	}
	*p = NewAttributePath(w.Endpoint, w.Cluster, w.Attribute)
	if w.ListIndex != nil {
		p.ListIndex = *w.ListIndex
	}
	return nil
}
