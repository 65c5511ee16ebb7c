package model

import (
	"slices"
	"sync"

	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// DeviceType identifies what an endpoint is, e.g. 0x0100 for an on/off light.
type DeviceType uint32

// DeviceTypeRootNode is the device type of endpoint 0.
const DeviceTypeRootNode DeviceType = 0x0016

// Endpoint represents a functional unit within a device.
type Endpoint struct {
	mu sync.RWMutex

	// ID is the endpoint identifier (0 is always the root node).
	id path.EndpointID

	// DeviceType is what the endpoint implements.
	deviceType DeviceType

	// Label is an optional human-readable label.
	label string

	// Clusters indexed by ID.
	clusters map[path.ClusterID]*Cluster

	onChange func(path.ClusterID, path.AttributeID)
}

// NewEndpoint creates a new endpoint.
func NewEndpoint(id path.EndpointID, deviceType DeviceType, label string) *Endpoint {
	return &Endpoint{
		id:         id,
		deviceType: deviceType,
		label:      label,
		clusters:   make(map[path.ClusterID]*Cluster),
	}
}

// ID returns the endpoint ID.
func (e *Endpoint) ID() path.EndpointID {
	return e.id
}

// DeviceType returns the endpoint device type.
func (e *Endpoint) DeviceType() DeviceType {
	return e.deviceType
}

// Label returns the endpoint label.
func (e *Endpoint) Label() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.label
}

// AddCluster adds a cluster to the endpoint.
func (e *Endpoint) AddCluster(cluster *Cluster) error {
	e.mu.Lock()
	if _, exists := e.clusters[cluster.ID()]; exists {
		e.mu.Unlock()
		return ErrDuplicateCluster
	}
	e.clusters[cluster.ID()] = cluster
	e.mu.Unlock()

	id := cluster.ID()
	cluster.setChangeHandler(func(attr path.AttributeID) {
		e.notify(id, attr)
	})
	return nil
}

// GetCluster returns a cluster by ID.
func (e *Endpoint) GetCluster(id path.ClusterID) (*Cluster, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cluster, exists := e.clusters[id]
	if !exists {
		return nil, ErrUnsupportedCluster
	}
	return cluster, nil
}

// Clusters returns all clusters ordered by ID.
func (e *Endpoint) Clusters() []*Cluster {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := make([]*Cluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b *Cluster) int {
		return compareIDs(a.ID(), b.ID())
	})
	return result
}

func (e *Endpoint) notify(cluster path.ClusterID, attr path.AttributeID) {
	e.mu.RLock()
	fn := e.onChange
	e.mu.RUnlock()
	if fn != nil {
		fn(cluster, attr)
	}
}

func (e *Endpoint) setChangeHandler(fn func(path.ClusterID, path.AttributeID)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = fn
}

// EndpointInfo summarizes an endpoint for diagnostics.
type EndpointInfo struct {
	ID         path.EndpointID  `json:"id"`
	DeviceType DeviceType       `json:"deviceType"`
	Label      string           `json:"label,omitempty"`
	Clusters   []path.ClusterID `json:"clusters"`
}

// Info returns endpoint information.
func (e *Endpoint) Info() *EndpointInfo {
	clusters := e.Clusters()
	ids := make([]path.ClusterID, len(clusters))
	for i, c := range clusters {
		ids[i] = c.ID()
	}
	return &EndpointInfo{
		ID:         e.id,
		DeviceType: e.deviceType,
		Label:      e.Label(),
		Clusters:   ids,
	}
}

func compareIDs[T ~uint16 | ~uint32](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
