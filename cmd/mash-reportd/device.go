package main

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
)

// Simulated smart plug layout.
const (
	plugEndpoint path.EndpointID = 1

	deviceTypePlug model.DeviceType = 0x010A

	clusterOnOff       path.ClusterID = 0x0006
	clusterLevel       path.ClusterID = 0x0008
	clusterMeasurement path.ClusterID = 0x0B04
	clusterUserLabel   path.ClusterID = 0x0041

	attrOnOff        path.AttributeID = 0x0000
	attrCurrentLevel path.AttributeID = 0x0000
	attrVoltage      path.AttributeID = 0x0505
	attrActivePower  path.AttributeID = 0x050B
	attrPowerLimit   path.AttributeID = 0x050D
	attrLabelList    path.AttributeID = 0x0000

	eventSwitched path.EventID = 0x0001
	eventOverload path.EventID = 0x0001
	eventSample   path.EventID = 0x0002
)

// switchedEvent is emitted when the plug relay changes state.
type switchedEvent struct {
	On bool `cbor:"1,keyasint"`
}

func (switchedEvent) ClusterID() path.ClusterID { return clusterOnOff }
func (switchedEvent) EventID() path.EventID { return eventSwitched }
func (switchedEvent) Priority() eventlog.Priority { return eventlog.PriorityInfo }

// overloadEvent is emitted when the measured power exceeds the limit.
type overloadEvent struct {
	Power int64 `cbor:"1,keyasint"`
	Limit int64 `cbor:"2,keyasint"`
}

func (overloadEvent) ClusterID() path.ClusterID { return clusterMeasurement }
func (overloadEvent) EventID() path.EventID { return eventOverload }
func (overloadEvent) Priority() eventlog.Priority { return eventlog.PriorityCritical }

// sampleEvent carries a raw measurement sample.
type sampleEvent struct {
	Power   int64  `cbor:"1,keyasint"`
	Voltage uint16 `cbor:"2,keyasint"`
}

func (sampleEvent) ClusterID() path.ClusterID { return clusterMeasurement }
func (sampleEvent) EventID() path.EventID { return eventSample }
func (sampleEvent) Priority() eventlog.Priority { return eventlog.PriorityDebug }

// plug drives the simulated device model and emits its events. emitter is
// set once the reporting host exists.
type plug struct {
	device  *model.Device
	emitter eventlog.Emitter
}

func newPlug(deviceID string) (*plug, error) {
	device := model.NewDevice(deviceID, 0xFFF1, 0x8001)
	ep := model.NewEndpoint(plugEndpoint, deviceTypePlug, "plug")

	onOff := model.NewCluster(clusterOnOff, 4)
	onOff.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
		ID: attrOnOff, Name: "onOff", Type: model.DataTypeBool,
		Access: model.AccessReadOnly, Default: false,
	}))
	onOff.AddEvent(&model.EventMetadata{ID: eventSwitched, Name: "switched", Priority: eventlog.PriorityInfo})

	level := model.NewCluster(clusterLevel, 5)
	level.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
		ID: attrCurrentLevel, Name: "currentLevel", Type: model.DataTypeUint8,
		Access: model.AccessReadOnly, Range: &model.Range{Min: 0, Max: 254}, Default: uint64(0),
	}))

	meas := model.NewCluster(clusterMeasurement, 3)
	meas.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
		ID: attrVoltage, Name: "rmsVoltage", Type: model.DataTypeUint16,
		Access: model.AccessReadOnly, Unit: "V", Default: uint64(230),
		// Mains jitter of a volt or so is not worth a report.
		ReportableChange: 2,
	}))
	meas.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
		ID: attrActivePower, Name: "activePower", Type: model.DataTypeInt64,
		Access: model.AccessReadOnly, Unit: "W", Default: int64(0),
	}))
	meas.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
		ID: attrPowerLimit, Name: "activePowerMax", Type: model.DataTypeInt64,
		Access: model.AccessReadOnly, Unit: "W", ReadPrivilege: model.PrivilegeManage, Default: int64(3680),
	}))
	meas.AddEvent(&model.EventMetadata{ID: eventOverload, Name: "overload", Priority: eventlog.PriorityCritical})
	meas.AddEvent(&model.EventMetadata{ID: eventSample, Name: "sample", Priority: eventlog.PriorityDebug})

	labels := model.NewCluster(clusterUserLabel, 1)
	labels.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
		ID: attrLabelList, Name: "labelList", Type: model.DataTypeArray,
		Access: model.AccessReadOnly, Default: []string{},
	}))

	for _, c := range []*model.Cluster{onOff, level, meas, labels} {
		if err := ep.AddCluster(c); err != nil {
			return nil, err
		}
	}
	if err := device.AddEndpoint(ep); err != nil {
		return nil, err
	}
	return &plug{device: device}, nil
}

// Device returns the underlying data model.
func (p *plug) Device() *model.Device {
	return p.device
}

func (p *plug) read(cluster path.ClusterID, attr path.AttributeID) any {
	c, err := p.device.GetCluster(plugEndpoint, cluster)
	if err != nil {
		return nil
	}
	v, err := c.ReadAttribute(attr)
	if err != nil {
		return nil
	}
	return v
}

// Switch turns the relay on or off and emits a switched event on change.
func (p *plug) Switch(on bool) error {
	if cur, _ := p.read(clusterOnOff, attrOnOff).(bool); cur == on {
		return nil
	}
	if err := p.device.SetAttribute(plugEndpoint, clusterOnOff, attrOnOff, on); err != nil {
		return err
	}
	_, err := eventlog.Generate(p.emitter, plugEndpoint, switchedEvent{On: on})
	return err
}

// On reports the relay state.
func (p *plug) On() bool {
	on, _ := p.read(clusterOnOff, attrOnOff).(bool)
	return on
}

// Measure records a power sample and raises an overload event when the
// limit is exceeded.
func (p *plug) Measure(power int64, voltage uint16) error {
	if err := p.device.SetAttribute(plugEndpoint, clusterMeasurement, attrActivePower, power); err != nil {
		return err
	}
	if err := p.device.SetAttribute(plugEndpoint, clusterMeasurement, attrVoltage, uint64(voltage)); err != nil {
		return err
	}
	if _, err := eventlog.Generate(p.emitter, plugEndpoint, sampleEvent{Power: power, Voltage: voltage}); err != nil {
		return err
	}
	if limit := toInt64(p.read(clusterMeasurement, attrPowerLimit)); power > limit {
		if _, err := eventlog.Generate(p.emitter, plugEndpoint, overloadEvent{Power: power, Limit: limit}); err != nil {
			return err
		}
	}
	return nil
}

// AddLabel appends a label to the label list.
func (p *plug) AddLabel(label string) error {
	var list []any
	switch v := p.read(clusterUserLabel, attrLabelList).(type) {
	case []string:
		for _, s := range v {
			list = append(list, s)
		}
	case []any:
		list = slices.Clone(v)
	}
	list = append(list, label)
	return p.device.SetAttribute(plugEndpoint, clusterUserLabel, attrLabelList, list)
}

// Set parses raw according to the attribute's data type and stores it.
func (p *plug) Set(ap path.AttributePath, raw string) error {
	if !ap.IsConcrete() || ap.HasListIndex() {
		return fmt.Errorf("%s: need a whole concrete attribute", ap)
	}
	c, err := p.device.GetCluster(ap.Endpoint, ap.Cluster)
	if err != nil {
		return err
	}
	attr, err := c.GetAttribute(ap.Attribute)
	if err != nil {
		return err
	}
	value, err := parseValue(attr.Metadata(), raw)
	if err != nil {
		return err
	}
	return p.device.SetAttribute(ap.Endpoint, ap.Cluster, ap.Attribute, value)
}

// Emit generates the named simulated event.
func (p *plug) Emit(_ context.Context, name string) (uint64, error) {
	switch name {
	case "switched":
		return eventlog.Generate(p.emitter, plugEndpoint, switchedEvent{On: p.On()})
	case "overload":
		limit := toInt64(p.read(clusterMeasurement, attrPowerLimit))
		return eventlog.Generate(p.emitter, plugEndpoint, overloadEvent{Power: limit + 1, Limit: limit})
	case "sample":
		power := toInt64(p.read(clusterMeasurement, attrActivePower))
		return eventlog.Generate(p.emitter, plugEndpoint, sampleEvent{Power: power, Voltage: uint16(toInt64(p.read(clusterMeasurement, attrVoltage)))})
	default:
		return 0, fmt.Errorf("unknown event %q (known: %s)", name, strings.Join(p.EventNames(), ", "))
	}
}

// EventNames lists the events Emit accepts.
func (p *plug) EventNames() []string {
	return []string{"switched", "overload", "sample"}
}

func parseValue(meta *model.AttributeMetadata, raw string) (any, error) {
	switch meta.Type {
	case model.DataTypeBool:
		switch strings.ToLower(raw) {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
		return strconv.ParseBool(raw)
	case model.DataTypeInt8, model.DataTypeInt16, model.DataTypeInt32, model.DataTypeInt64:
		return strconv.ParseInt(raw, 0, 64)
	case model.DataTypeUint8, model.DataTypeUint16, model.DataTypeUint32, model.DataTypeUint64:
		return strconv.ParseUint(raw, 0, 64)
	case model.DataTypeFloat32, model.DataTypeFloat64:
		return strconv.ParseFloat(raw, 64)
	case model.DataTypeString:
		return strings.Trim(raw, "\"'"), nil
	case model.DataTypeArray:
		if raw == "" || raw == "[]" {
			return []any{}, nil
		}
		var list []any
		for _, s := range strings.Split(strings.Trim(raw, "[]"), ",") {
			list = append(list, strings.TrimSpace(s))
		}
		return list, nil
	default:
		return nil, fmt.Errorf("%s attributes cannot be set from the console", meta.Type)
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case int32:
		return int64(n)
	case uint32:
		return int64(n)
	case uint16:
		return int64(n)
	case uint8:
		return int64(n)
	default:
		return 0
	}
}
