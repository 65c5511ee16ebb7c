package model

import (
	"errors"
	"slices"
	"sync"

	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// Cluster errors.
var (
	ErrAttributeNotFound = errors.New("attribute not found")
	ErrGlobalAttribute   = errors.New("global attribute is managed by the cluster")
)

// EventMetadata declares an event a cluster may emit.
type EventMetadata struct {
	// ID is the event identifier within the cluster.
	ID path.EventID

	// Name is the human-readable event name.
	Name string

	// Priority is the tier the event is logged in.
	Priority eventlog.Priority

	// ReadPrivilege is the privilege needed to receive it. Zero means View.
	ReadPrivilege Privilege

	// FabricSensitive events are delivered only to their own fabric.
	FabricSensitive bool
}

func (m *EventMetadata) readPrivilege() Privilege {
	if m.ReadPrivilege == 0 {
		return PrivilegeView
	}
	return m.ReadPrivilege
}

// Cluster groups related attributes and events on an endpoint.
type Cluster struct {
	mu sync.RWMutex

	id          path.ClusterID
	revision    uint16
	featureMap  uint32
	dataVersion path.DataVersion

	attributes map[path.AttributeID]*Attribute
	events     map[path.EventID]*EventMetadata

	// onChange is set when the cluster is added to an endpoint.
	onChange func(attr path.AttributeID)
}

// NewCluster creates a cluster with its global attributes.
func NewCluster(id path.ClusterID, revision uint16) *Cluster {
	c := &Cluster{
		id:          id,
		revision:    revision,
		dataVersion: 1,
		attributes:  make(map[path.AttributeID]*Attribute),
		events:      make(map[path.EventID]*EventMetadata),
	}
	c.addGlobalAttributes()
	return c
}

// addGlobalAttributes adds the standard global attributes. attributeList and
// eventList are computed on read.
func (c *Cluster) addGlobalAttributes() {
	c.attributes[AttrIDClusterRevision] = NewAttribute(&AttributeMetadata{
		ID:          AttrIDClusterRevision,
		Name:        "clusterRevision",
		Type:        DataTypeUint16,
		Access:      AccessReadOnly,
		Description: "Cluster implementation revision",
		Default:     c.revision,
	})
	c.attributes[AttrIDFeatureMap] = NewAttribute(&AttributeMetadata{
		ID:          AttrIDFeatureMap,
		Name:        "featureMap",
		Type:        DataTypeUint32,
		Access:      AccessReadOnly,
		Description: "Cluster capability bitmap",
		Default:     uint32(0),
	})
	c.attributes[AttrIDAttributeList] = NewAttribute(&AttributeMetadata{
		ID:          AttrIDAttributeList,
		Name:        "attributeList",
		Type:        DataTypeArray,
		Access:      AccessReadOnly,
		Description: "List of supported attribute IDs",
	})
	c.attributes[AttrIDEventList] = NewAttribute(&AttributeMetadata{
		ID:          AttrIDEventList,
		Name:        "eventList",
		Type:        DataTypeArray,
		Access:      AccessReadOnly,
		Description: "List of supported event IDs",
	})
}

// ID returns the cluster ID.
func (c *Cluster) ID() path.ClusterID {
	return c.id
}

// Revision returns the cluster revision.
func (c *Cluster) Revision() uint16 {
	return c.revision
}

// DataVersion returns the current data version.
func (c *Cluster) DataVersion() path.DataVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dataVersion
}

// SetFeatureMap sets the capability bitmap.
func (c *Cluster) SetFeatureMap(bitmap uint32) {
	c.mu.Lock()
	c.featureMap = bitmap
	attr := c.attributes[AttrIDFeatureMap]
	c.mu.Unlock()

	if change, _ := attr.Update(bitmap); change.Stored() {
		c.changed(AttrIDFeatureMap, change.Reportable())
	}
}

// AddAttribute adds an attribute to the cluster.
func (c *Cluster) AddAttribute(attr *Attribute) {
	c.mu.Lock()
	c.attributes[attr.ID()] = attr
	c.mu.Unlock()
	c.changed(AttrIDAttributeList, true)
}

// AddEvent declares an event.
func (c *Cluster) AddEvent(meta *EventMetadata) {
	c.mu.Lock()
	c.events[meta.ID] = meta
	c.mu.Unlock()
	c.changed(AttrIDEventList, true)
}

// GetAttribute returns an attribute by ID.
func (c *Cluster) GetAttribute(id path.AttributeID) (*Attribute, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attr, exists := c.attributes[id]
	if !exists {
		return nil, ErrAttributeNotFound
	}
	return attr, nil
}

// GetEvent returns an event declaration by ID.
func (c *Cluster) GetEvent(id path.EventID) (*EventMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.events[id]
	return meta, ok
}

// ReadAttribute returns the current value of an attribute.
func (c *Cluster) ReadAttribute(id path.AttributeID) (any, error) {
	switch id {
	case AttrIDAttributeList:
		return c.AttributeList(), nil
	case AttrIDEventList:
		return c.EventList(), nil
	}

	attr, err := c.GetAttribute(id)
	if err != nil {
		return nil, err
	}
	if !attr.Metadata().Access.CanRead() {
		return nil, ErrAttributeNotFound
	}
	return attr.Value(), nil
}

// SetAttribute sets an attribute value without checking write access, as
// device logic does for measurements. Any change bumps the data version;
// the change handler runs only for reportable changes.
func (c *Cluster) SetAttribute(id path.AttributeID, value any) error {
	if id >= AttrIDGlobalBase {
		return ErrGlobalAttribute
	}

	attr, err := c.GetAttribute(id)
	if err != nil {
		return err
	}

	change, err := attr.Update(value)
	if err != nil {
		return err
	}
	if change.Stored() {
		c.changed(id, change.Reportable())
	}
	return nil
}

// changed bumps the data version and, when report is set, notifies the
// endpoint.
func (c *Cluster) changed(id path.AttributeID, report bool) {
	c.mu.Lock()
	c.dataVersion++
	notify := c.onChange
	c.mu.Unlock()

	if notify != nil && report {
		notify(id)
	}
}

// AttributeList returns the sorted IDs of readable attributes.
func (c *Cluster) AttributeList() []path.AttributeID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]path.AttributeID, 0, len(c.attributes))
	for id, attr := range c.attributes {
		if attr.Metadata().Access.CanRead() {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// EventList returns the sorted IDs of declared events.
func (c *Cluster) EventList() []path.EventID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]path.EventID, 0, len(c.events))
	for id := range c.events {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *Cluster) setChangeHandler(fn func(path.AttributeID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}
