package model

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/report"
)

// Device represents a device with its endpoint hierarchy.
// It is the top-level container in the Device > Endpoint > Cluster model.
type Device struct {
	mu sync.RWMutex

	// DeviceID is the unique device identifier.
	deviceID string

	// VendorID identifies the device manufacturer.
	vendorID uint16

	// ProductID identifies the device product within the vendor.
	productID uint16

	// Endpoints indexed by ID.
	endpoints map[path.EndpointID]*Endpoint

	onChange func(path.AttributePath)
}

// NewDevice creates a new device with the given identity and a root
// endpoint.
func NewDevice(deviceID string, vendorID, productID uint16) *Device {
	d := &Device{
		deviceID:  deviceID,
		vendorID:  vendorID,
		productID: productID,
		endpoints: make(map[path.EndpointID]*Endpoint),
	}

	_ = d.AddEndpoint(NewEndpoint(0, DeviceTypeRootNode, ""))
	return d
}

// DeviceID returns the unique device identifier.
func (d *Device) DeviceID() string {
	return d.deviceID
}

// VendorID returns the vendor identifier.
func (d *Device) VendorID() uint16 {
	return d.vendorID
}

// ProductID returns the product identifier.
func (d *Device) ProductID() uint16 {
	return d.productID
}

// RootEndpoint returns endpoint 0.
func (d *Device) RootEndpoint() *Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endpoints[0]
}

// AddEndpoint adds an endpoint to the device.
// Returns an error if an endpoint with the same ID already exists.
func (d *Device) AddEndpoint(endpoint *Endpoint) error {
	d.mu.Lock()
	if _, exists := d.endpoints[endpoint.ID()]; exists {
		d.mu.Unlock()
		return ErrDuplicateEndpoint
	}
	d.endpoints[endpoint.ID()] = endpoint
	d.mu.Unlock()

	id := endpoint.ID()
	endpoint.setChangeHandler(func(cluster path.ClusterID, attr path.AttributeID) {
		d.notify(path.NewAttributePath(id, cluster, attr))
	})
	return nil
}

// GetEndpoint returns an endpoint by ID.
func (d *Device) GetEndpoint(id path.EndpointID) (*Endpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	endpoint, exists := d.endpoints[id]
	if !exists {
		return nil, ErrUnsupportedEndpoint
	}
	return endpoint, nil
}

// Endpoints returns all endpoints ordered by ID.
func (d *Device) Endpoints() []*Endpoint {
	d.mu.RLock()
	defer d.mu.RUnlock()

	result := make([]*Endpoint, 0, len(d.endpoints))
	for _, ep := range d.endpoints {
		result = append(result, ep)
	}
	slices.SortFunc(result, func(a, b *Endpoint) int {
		return compareIDs(a.ID(), b.ID())
	})
	return result
}

// GetCluster returns a cluster on a specific endpoint.
func (d *Device) GetCluster(endpoint path.EndpointID, cluster path.ClusterID) (*Cluster, error) {
	ep, err := d.GetEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return ep.GetCluster(cluster)
}

// OnChange registers fn to be called with the concrete path of every
// attribute whose value changes. fn runs on the goroutine that made the
// change.
func (d *Device) OnChange(fn func(path.AttributePath)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onChange = fn
}

func (d *Device) notify(p path.AttributePath) {
	d.mu.RLock()
	fn := d.onChange
	d.mu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

// SetAttribute updates an attribute value from device logic.
func (d *Device) SetAttribute(endpoint path.EndpointID, cluster path.ClusterID, attr path.AttributeID, value any) error {
	c, err := d.GetCluster(endpoint, cluster)
	if err != nil {
		return err
	}
	if err := c.SetAttribute(attr, value); err != nil {
		if errors.Is(err, ErrAttributeNotFound) {
			return ErrUnsupportedAttribute
		}
		return err
	}
	return nil
}

// readable returns the metadata of a concrete attribute path.
func (d *Device) readable(p path.AttributePath) (*Cluster, *AttributeMetadata, error) {
	c, err := d.GetCluster(p.Endpoint, p.Cluster)
	if err != nil {
		return nil, nil, err
	}
	attr, err := c.GetAttribute(p.Attribute)
	if err != nil || !attr.Metadata().Access.CanRead() {
		return nil, nil, ErrUnsupportedAttribute
	}
	return c, attr.Metadata(), nil
}

// AttributeExists reports whether a concrete path names a readable attribute.
func (d *Device) AttributeExists(p path.AttributePath) error {
	_, meta, err := d.readable(p)
	if err != nil {
		return err
	}
	if p.HasListIndex() && !meta.IsList() {
		return ErrUnsupportedAttribute
	}
	return nil
}

// CheckAttributeAccess reports whether subject may read the attribute at p.
func (d *Device) CheckAttributeAccess(subject Subject, p path.AttributePath) error {
	_, meta, err := d.readable(p)
	if err != nil {
		return err
	}
	if !subject.Privilege.Includes(meta.readPrivilege()) {
		return ErrUnsupportedAccess
	}
	return nil
}

// ReadAttribute encodes the value at the concrete path p. List attributes
// are encoded element by element so they can be chunked across reports.
func (d *Device) ReadAttribute(subject Subject, p path.AttributePath, enc *report.AttributeEncoder) error {
	c, meta, err := d.readable(p)
	if err != nil {
		return err
	}
	if !subject.Privilege.Includes(meta.readPrivilege()) {
		return ErrUnsupportedAccess
	}

	value, err := c.ReadAttribute(p.Attribute)
	if err != nil {
		return ErrUnsupportedAttribute
	}

	if p.HasListIndex() {
		elements := listValue(value)
		if !meta.IsList() || int(p.ListIndex) >= elements.Len() {
			return ErrUnsupportedAttribute
		}
		return enc.Encode(elements.Index(int(p.ListIndex)).Interface())
	}

	if meta.IsList() {
		elements := listValue(value)
		return enc.EncodeList(func(add func(any) error) error {
			for i := range elements.Len() {
				if err := add(elements.Index(i).Interface()); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return enc.Encode(value)
}

// listValue returns the slice held by a list attribute. A nil value is an
// empty list.
func listValue(value any) reflect.Value {
	v := reflect.ValueOf(value)
	if v.Kind() != reflect.Slice {
		return reflect.ValueOf([]any{})
	}
	return v
}

// ExpandAttributes returns the concrete readable paths selected by p, in
// endpoint, cluster, attribute order. A concrete p is returned as is, so a
// failing read surfaces as a status for it.
func (d *Device) ExpandAttributes(p path.AttributePath) []path.AttributePath {
	if p.IsConcrete() {
		return []path.AttributePath{p}
	}

	var result []path.AttributePath
	for _, ep := range d.Endpoints() {
		if p.Endpoint != path.WildcardEndpoint && p.Endpoint != ep.ID() {
			continue
		}
		for _, c := range ep.Clusters() {
			if p.Cluster != path.WildcardCluster && p.Cluster != c.ID() {
				continue
			}
			for _, attr := range c.AttributeList() {
				concrete := path.NewAttributePath(ep.ID(), c.ID(), attr)
				if got, ok := p.Intersect(concrete); ok {
					result = append(result, got)
				}
			}
		}
	}
	return result
}

// EventSupported reports whether p can select any declared event. Wildcard
// fields are not checked.
func (d *Device) EventSupported(p path.EventPath) error {
	if p.Endpoint == path.WildcardEndpoint {
		return nil
	}
	ep, err := d.GetEndpoint(p.Endpoint)
	if err != nil {
		return err
	}
	if p.Cluster == path.WildcardCluster {
		return nil
	}
	c, err := ep.GetCluster(p.Cluster)
	if err != nil {
		return err
	}
	if p.Event == path.WildcardEvent {
		return nil
	}
	if _, ok := c.GetEvent(p.Event); !ok {
		return ErrUnsupportedEvent
	}
	return nil
}

// CheckEventAccess reports whether subject may receive the event at the
// concrete path p that was emitted on fabric.
func (d *Device) CheckEventAccess(subject Subject, p path.EventPath, fabric path.FabricIndex) error {
	c, err := d.GetCluster(p.Endpoint, p.Cluster)
	if err != nil {
		return err
	}
	meta, ok := c.GetEvent(p.Event)
	if !ok {
		return ErrUnsupportedEvent
	}
	if !subject.Privilege.Includes(meta.readPrivilege()) {
		return ErrUnsupportedAccess
	}
	if meta.FabricSensitive && fabric != path.NoFabric && fabric != subject.Fabric {
		return ErrUnsupportedAccess
	}
	return nil
}

// DataVersion returns the data version of a cluster.
func (d *Device) DataVersion(endpoint path.EndpointID, cluster path.ClusterID) (path.DataVersion, bool) {
	c, err := d.GetCluster(endpoint, cluster)
	if err != nil {
		return 0, false
	}
	return c.DataVersion(), true
}

// DeviceInfo summarizes a device for diagnostics.
type DeviceInfo struct {
	DeviceID  string          `json:"deviceId"`
	VendorID  uint16          `json:"vendorId"`
	ProductID uint16          `json:"productId"`
	Endpoints []*EndpointInfo `json:"endpoints"`
}

// Info returns device information.
func (d *Device) Info() *DeviceInfo {
	endpoints := d.Endpoints()
	infos := make([]*EndpointInfo, len(endpoints))
	for i, ep := range endpoints {
		infos[i] = ep.Info()
	}
	return &DeviceInfo{
		DeviceID:  d.deviceID,
		VendorID:  d.vendorID,
		ProductID: d.productID,
		Endpoints: infos,
	}
}

// String returns a compact description of the device.
func (d *Device) String() string {
	return fmt.Sprintf("device %s (vendor 0x%04X product 0x%04X, %d endpoints)",
		d.deviceID, d.vendorID, d.productID, len(d.Endpoints()))
}
