package path

import (
	"fmt"
)

// Identifier types.
type (
	// EndpointID identifies an endpoint on a device.
	EndpointID uint16

	// ClusterID identifies a cluster on an endpoint.
	ClusterID uint32

	// AttributeID identifies an attribute within a cluster.
	AttributeID uint32

	// EventID identifies an event within a cluster.
	EventID uint32

	// FabricIndex identifies the fabric a requester or event belongs to.
	// Zero means "no fabric".
	FabricIndex uint8

	// DataVersion is a per-cluster counter bumped on every change.
	DataVersion uint32
)

// Wildcard sentinels.
const (
	WildcardEndpoint  EndpointID  = 0xFFFF
	WildcardCluster   ClusterID   = 0xFFFFFFFF
	WildcardAttribute AttributeID = 0xFFFFFFFF
	WildcardEvent     EventID     = 0xFFFFFFFF

	// NoListIndex marks a path that addresses the whole attribute value.
	NoListIndex uint16 = 0xFFFF

	// NoFabric is the fabric index of non fabric-scoped data.
	NoFabric FabricIndex = 0
)

// AttributePath selects one or more attributes.
//
// Build paths with NewAttributePath: the zero value addresses list element 0.
// On the wire a missing list index means the whole attribute.
type AttributePath struct {
	Endpoint  EndpointID
	Cluster   ClusterID
	Attribute AttributeID
	ListIndex uint16
}

// NewAttributePath returns a path without a list index.
func NewAttributePath(endpoint EndpointID, cluster ClusterID, attribute AttributeID) AttributePath {
	return AttributePath{
		Endpoint:  endpoint,
		Cluster:   cluster,
		Attribute: attribute,
		ListIndex: NoListIndex,
	}
}

// AllAttributes returns the path that selects every attribute on the device.
func AllAttributes() AttributePath {
	return NewAttributePath(WildcardEndpoint, WildcardCluster, WildcardAttribute)
}

// ClusterAttributes returns the path that selects every attribute of a cluster.
func ClusterAttributes(endpoint EndpointID, cluster ClusterID) AttributePath {
	return NewAttributePath(endpoint, cluster, WildcardAttribute)
}

// HasListIndex reports whether the path addresses a single list element.
func (p AttributePath) HasListIndex() bool {
	return p.ListIndex != NoListIndex
}

// WithoutListIndex returns the path addressing the whole attribute.
func (p AttributePath) WithoutListIndex() AttributePath {
	p.ListIndex = NoListIndex
	return p
}

// IsWildcard reports whether any selector is a wildcard.
func (p AttributePath) IsWildcard() bool {
	return p.Endpoint == WildcardEndpoint ||
		p.Cluster == WildcardCluster ||
		p.Attribute == WildcardAttribute
}

// IsConcrete reports whether the path selects exactly one attribute.
func (p AttributePath) IsConcrete() bool {
	return !p.IsWildcard()
}

// Intersects reports whether p and other select at least one common attribute.
// A list element intersects its whole list but not a different element.
func (p AttributePath) Intersects(other AttributePath) bool {
	_, ok := p.Intersect(other)
	return ok
}

// Intersect returns the most specific path selected by both p and other.
func (p AttributePath) Intersect(other AttributePath) (AttributePath, bool) {
	endpoint, ok := intersectField(p.Endpoint, other.Endpoint, WildcardEndpoint)
	if !ok {
		return AttributePath{}, false
	}
	cluster, ok := intersectField(p.Cluster, other.Cluster, WildcardCluster)
	if !ok {
		return AttributePath{}, false
	}
	attribute, ok := intersectField(p.Attribute, other.Attribute, WildcardAttribute)
	if !ok {
		return AttributePath{}, false
	}

	listIndex := NoListIndex
	switch {
	case p.HasListIndex() && other.HasListIndex():
		if p.ListIndex != other.ListIndex {
			return AttributePath{}, false
		}
		listIndex = p.ListIndex
	case p.HasListIndex():
		listIndex = p.ListIndex
	case other.HasListIndex():
		listIndex = other.ListIndex
	}

	return AttributePath{
		Endpoint:  endpoint,
		Cluster:   cluster,
		Attribute: attribute,
		ListIndex: listIndex,
	}, true
}

// Subsumes reports whether every attribute selected by other is also
// selected by p.
func (p AttributePath) Subsumes(other AttributePath) bool {
	if !subsumesField(p.Endpoint, other.Endpoint, WildcardEndpoint) ||
		!subsumesField(p.Cluster, other.Cluster, WildcardCluster) ||
		!subsumesField(p.Attribute, other.Attribute, WildcardAttribute) {
		return false
	}
	if !p.HasListIndex() {
		return true
	}
	return other.HasListIndex() && other.ListIndex == p.ListIndex
}

// String returns a human-readable representation, e.g. "1/0x0006/0x0000".
func (p AttributePath) String() string {
	s := fmt.Sprintf("%s/%s/%s",
		formatField(uint64(p.Endpoint), p.Endpoint == WildcardEndpoint, "%d"),
		formatField(uint64(p.Cluster), p.Cluster == WildcardCluster, "0x%04X"),
		formatField(uint64(p.Attribute), p.Attribute == WildcardAttribute, "0x%04X"))
	if p.HasListIndex() {
		s += fmt.Sprintf("[%d]", p.ListIndex)
	}
	return s
}

// EventPath selects one or more events.
type EventPath struct {
	Endpoint EndpointID `cbor:"1,keyasint"`
	Cluster  ClusterID  `cbor:"2,keyasint"`
	Event    EventID    `cbor:"3,keyasint"`
}

// NewEventPath returns an event path.
func NewEventPath(endpoint EndpointID, cluster ClusterID, event EventID) EventPath {
	return EventPath{Endpoint: endpoint, Cluster: cluster, Event: event}
}

// AllEvents returns the path that selects every event on the device.
func AllEvents() EventPath {
	return NewEventPath(WildcardEndpoint, WildcardCluster, WildcardEvent)
}

// IsWildcard reports whether any selector is a wildcard.
func (p EventPath) IsWildcard() bool {
	return p.Endpoint == WildcardEndpoint ||
		p.Cluster == WildcardCluster ||
		p.Event == WildcardEvent
}

// IsConcrete reports whether the path selects exactly one event.
func (p EventPath) IsConcrete() bool {
	return !p.IsWildcard()
}

// Intersects reports whether p and other select at least one common event.
func (p EventPath) Intersects(other EventPath) bool {
	_, ok := p.Intersect(other)
	return ok
}

// Intersect returns the most specific path selected by both p and other.
func (p EventPath) Intersect(other EventPath) (EventPath, bool) {
	endpoint, ok := intersectField(p.Endpoint, other.Endpoint, WildcardEndpoint)
	if !ok {
		return EventPath{}, false
	}
	cluster, ok := intersectField(p.Cluster, other.Cluster, WildcardCluster)
	if !ok {
		return EventPath{}, false
	}
	event, ok := intersectField(p.Event, other.Event, WildcardEvent)
	if !ok {
		return EventPath{}, false
	}
	return EventPath{Endpoint: endpoint, Cluster: cluster, Event: event}, true
}

// Subsumes reports whether every event selected by other is also selected by p.
func (p EventPath) Subsumes(other EventPath) bool {
	return subsumesField(p.Endpoint, other.Endpoint, WildcardEndpoint) &&
		subsumesField(p.Cluster, other.Cluster, WildcardCluster) &&
		subsumesField(p.Event, other.Event, WildcardEvent)
}

// String returns a human-readable representation.
func (p EventPath) String() string {
	return fmt.Sprintf("%s/%s/!%s",
		formatField(uint64(p.Endpoint), p.Endpoint == WildcardEndpoint, "%d"),
		formatField(uint64(p.Cluster), p.Cluster == WildcardCluster, "0x%04X"),
		formatField(uint64(p.Event), p.Event == WildcardEvent, "0x%04X"))
}

// AnyAttributeIntersects reports whether p intersects any path in set.
func AnyAttributeIntersects(set []AttributePath, p AttributePath) bool {
	for _, s := range set {
		if s.Intersects(p) {
			return true
		}
	}
	return false
}

// AnyEventIntersects reports whether p intersects any path in set.
func AnyEventIntersects(set []EventPath, p EventPath) bool {
	for _, s := range set {
		if s.Intersects(p) {
			return true
		}
	}
	return false
}

type selector interface {
	~uint16 | ~uint32
}

func intersectField[T selector](a, b, wildcard T) (T, bool) {
	switch {
	case a == wildcard:
		return b, true
	case b == wildcard:
		return a, true
	case a == b:
		return a, true
	default:
		return 0, false
	}
}

func subsumesField[T selector](a, b, wildcard T) bool {
	return a == wildcard || a == b
}

func formatField(v uint64, wildcard bool, format string) string {
	if wildcard {
		return "*"
	}
	return fmt.Sprintf(format, v)
}
