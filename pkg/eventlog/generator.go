package eventlog

import (
	"errors"
	"fmt"

	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

// ErrNoFabric is returned for a fabric-scoped event without an originating
// fabric.
var ErrNoFabric = errors.New("fabric-scoped event has no fabric")

// Event is a typed event value. The value itself is the CBOR payload.
type Event interface {
	ClusterID() path.ClusterID
	EventID() path.EventID
	Priority() Priority
}

// FabricScoped is implemented by events that belong to one fabric.
type FabricScoped interface {
	FabricIndex() path.FabricIndex
}

// Emitter accepts encoded events. Log implements it; so does the reporting
// engine, which also schedules delivery.
type Emitter interface {
	Emit(p path.EventPath, priority Priority, fabric path.FabricIndex, payload []byte) (uint64, error)
}

var _ Emitter = (*Log)(nil)

// Generate encodes ev and emits it on endpoint. No number is consumed when
// the event cannot be encoded or lacks its fabric.
func Generate(emitter Emitter, endpoint path.EndpointID, ev Event) (uint64, error) {
	fabric := path.NoFabric
	if scoped, ok := ev.(FabricScoped); ok {
		fabric = scoped.FabricIndex()
		if fabric == path.NoFabric {
			return 0, fmt.Errorf("event 0x%04X: %w", ev.EventID(), ErrNoFabric)
		}
	}

	payload, err := wire.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("encode event 0x%04X: %w", ev.EventID(), err)
	}

	p := path.NewEventPath(endpoint, ev.ClusterID(), ev.EventID())
	return emitter.Emit(p, ev.Priority(), fabric, payload)
}
