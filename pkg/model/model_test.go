package model

import (
	"errors"
	"testing"

	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/report"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

const (
	clusterOnOff  path.ClusterID = 0x0006
	clusterAccess path.ClusterID = 0x001F

	attrOnOff   path.AttributeID = 0x0000
	attrACL     path.AttributeID = 0x0000
	attrSecret  path.AttributeID = 0x0001
	eventAccess path.EventID     = 0x0000
	eventAudit  path.EventID     = 0x0001
)

var (
	viewer = Subject{Fabric: 1, Privilege: PrivilegeView}
	admin  = Subject{Fabric: 1, Privilege: PrivilegeAdminister}
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := NewDevice("dev-1", 0xFFF1, 0x8000)

	light := NewEndpoint(1, 0x0100, "kitchen")
	onOff := NewCluster(clusterOnOff, 4)
	onOff.AddAttribute(NewAttribute(&AttributeMetadata{
		ID:      attrOnOff,
		Name:    "onOff",
		Type:    DataTypeBool,
		Access:  AccessReadOnly,
		Default: false,
	}))
	if err := light.AddCluster(onOff); err != nil {
		t.Fatalf("AddCluster failed: %v", err)
	}
	if err := d.AddEndpoint(light); err != nil {
		t.Fatalf("AddEndpoint failed: %v", err)
	}

	acl := NewCluster(clusterAccess, 1)
	acl.AddAttribute(NewAttribute(&AttributeMetadata{
		ID:      attrACL,
		Name:    "acl",
		Type:    DataTypeArray,
		Access:  AccessReadWrite,
		Default: []string{"entry-1", "entry-2"},
	}))
	acl.AddAttribute(NewAttribute(&AttributeMetadata{
		ID:            attrSecret,
		Name:          "extension",
		Type:          DataTypeString,
		Access:        AccessReadOnly,
		ReadPrivilege: PrivilegeAdminister,
		Default:       "s3cret",
	}))
	acl.AddEvent(&EventMetadata{
		ID:              eventAccess,
		Name:            "accessControlEntryChanged",
		Priority:        eventlog.PriorityInfo,
		ReadPrivilege:   PrivilegeAdminister,
		FabricSensitive: true,
	})
	acl.AddEvent(&EventMetadata{ID: eventAudit, Name: "audit", Priority: eventlog.PriorityDebug})
	if err := d.RootEndpoint().AddCluster(acl); err != nil {
		t.Fatalf("AddCluster failed: %v", err)
	}
	return d
}

func readValue(t *testing.T, d *Device, subject Subject, p path.AttributePath) (*wire.ReportData, error) {
	t.Helper()
	b, err := report.NewBuilder(1024)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if err := d.ReadAttribute(subject, p, report.NewAttributeEncoder(b, p, 1, report.ListResume{})); err != nil {
		return nil, err
	}
	data, err := b.Build(wire.ReportHeader{})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	r, err := wire.DecodeReport(data)
	if err != nil {
		t.Fatalf("DecodeReport failed: %v", err)
	}
	return r, nil
}

func TestAttributeBasics(t *testing.T) {
	meta := &AttributeMetadata{
		ID:      0x0010,
		Name:    "testAttr",
		Type:    DataTypeInt32,
		Access:  AccessReadWrite,
		Default: int32(42),
		Range:   &Range{Min: 0, Max: 100},
	}

	attr := NewAttribute(meta)

	t.Run("DefaultValue", func(t *testing.T) {
		if attr.Value() != int32(42) {
			t.Errorf("expected default value 42, got %v", attr.Value())
		}
	})

	t.Run("SetValueReportsChange", func(t *testing.T) {
		change, err := attr.SetValue(int32(50))
		if err != nil {
			t.Fatalf("SetValue failed: %v", err)
		}
		if change != Changed {
			t.Errorf("expected Changed, got %v", change)
		}
		change, _ = attr.SetValue(int32(50))
		if change.Stored() {
			t.Error("expected Unchanged for the same value")
		}
	})

	t.Run("OutOfRange", func(t *testing.T) {
		_, err := attr.SetValue(int32(101))
		if !errors.Is(err, ErrAttributeOutOfRange) {
			t.Errorf("expected ErrAttributeOutOfRange, got %v", err)
		}
	})

	t.Run("NotNullable", func(t *testing.T) {
		_, err := attr.SetValue(nil)
		if !errors.Is(err, ErrAttributeNotNullable) {
			t.Errorf("expected ErrAttributeNotNullable, got %v", err)
		}
	})

	t.Run("ReadOnly", func(t *testing.T) {
		ro := NewAttribute(&AttributeMetadata{ID: 1, Type: DataTypeBool, Access: AccessReadOnly})
		if _, err := ro.SetValue(true); !errors.Is(err, ErrAttributeNotWritable) {
			t.Errorf("expected ErrAttributeNotWritable, got %v", err)
		}
		if _, err := ro.Update(true); err != nil {
			t.Errorf("Update failed: %v", err)
		}
	})

	t.Run("WrongType", func(t *testing.T) {
		if _, err := attr.SetValue("fifty"); !errors.Is(err, ErrAttributeValueType) {
			t.Errorf("expected ErrAttributeValueType, got %v", err)
		}
	})

	t.Run("ListComparedByValue", func(t *testing.T) {
		list := NewAttribute(&AttributeMetadata{ID: 2, Type: DataTypeArray, Access: AccessReadWrite, Default: []int{1}})
		change, err := list.SetValue([]int{1})
		if err != nil || change.Stored() {
			t.Errorf("expected unchanged equal list, got %v err=%v", change, err)
		}
		if _, err := list.SetValue(7); !errors.Is(err, ErrAttributeValueType) {
			t.Errorf("expected ErrAttributeValueType, got %v", err)
		}
	})
}

func TestAttributeReportableChange(t *testing.T) {
	attr := NewAttribute(&AttributeMetadata{
		ID: 0x0505, Type: DataTypeUint16, Access: AccessReadOnly,
		Nullable: true, Default: uint64(230), ReportableChange: 2,
	})

	steps := []struct {
		value any
		want  Change
	}{
		{uint64(231), ChangedQuietly},
		{uint64(229), ChangedQuietly},
		{uint64(229), Unchanged},
		// Measured against 230, the last reported value.
		{uint64(232), Changed},
		{uint64(233), ChangedQuietly},
		{uint64(230), Changed},
		{nil, Changed},
		{uint64(230), Changed},
	}
	for i, s := range steps {
		got, err := attr.Update(s.value)
		if err != nil {
			t.Fatalf("step %d: Update(%v) failed: %v", i, s.value, err)
		}
		if got != s.want {
			t.Errorf("step %d: Update(%v) = %v, want %v", i, s.value, got, s.want)
		}
		if attr.Value() != s.value {
			t.Errorf("step %d: value %v not stored", i, s.value)
		}
	}
}

func TestClusterQuietChangeBumpsVersionOnly(t *testing.T) {
	c := NewCluster(clusterOnOff, 1)
	c.AddAttribute(NewAttribute(&AttributeMetadata{
		ID: 1, Type: DataTypeFloat64, Access: AccessReadOnly, Default: 10.0, ReportableChange: 0.5,
	}))
	var notified []path.AttributeID
	c.setChangeHandler(func(id path.AttributeID) { notified = append(notified, id) })

	before := c.DataVersion()
	if err := c.SetAttribute(1, 10.2); err != nil {
		t.Fatalf("SetAttribute failed: %v", err)
	}
	if c.DataVersion() != before+1 {
		t.Errorf("quiet change should bump the data version")
	}
	if len(notified) != 0 {
		t.Errorf("quiet change notified %v", notified)
	}

	if err := c.SetAttribute(1, 10.6); err != nil {
		t.Fatalf("SetAttribute failed: %v", err)
	}
	if len(notified) != 1 || notified[0] != 1 {
		t.Errorf("reportable change notified %v, want [1]", notified)
	}
}

func TestClusterGlobals(t *testing.T) {
	c := NewCluster(clusterOnOff, 4)
	c.AddAttribute(NewAttribute(&AttributeMetadata{ID: attrOnOff, Type: DataTypeBool, Access: AccessReadOnly}))
	c.AddEvent(&EventMetadata{ID: 3})

	rev, err := c.ReadAttribute(AttrIDClusterRevision)
	if err != nil || rev != uint16(4) {
		t.Errorf("expected revision 4, got %v (%v)", rev, err)
	}

	list, _ := c.ReadAttribute(AttrIDAttributeList)
	want := []path.AttributeID{attrOnOff, AttrIDEventList, AttrIDAttributeList, AttrIDFeatureMap, AttrIDClusterRevision}
	if !wire.Equal(list, want) {
		t.Errorf("expected attribute list %v, got %v", want, list)
	}

	events, _ := c.ReadAttribute(AttrIDEventList)
	if !wire.Equal(events, []path.EventID{3}) {
		t.Errorf("expected event list [3], got %v", events)
	}

	if err := c.SetAttribute(AttrIDFeatureMap, uint32(1)); !errors.Is(err, ErrGlobalAttribute) {
		t.Errorf("expected ErrGlobalAttribute, got %v", err)
	}
}

func TestDataVersionAndChangeNotification(t *testing.T) {
	d := newTestDevice(t)

	var changes []path.AttributePath
	d.OnChange(func(p path.AttributePath) { changes = append(changes, p) })

	before, ok := d.DataVersion(1, clusterOnOff)
	if !ok {
		t.Fatal("expected data version for endpoint 1")
	}

	if err := d.SetAttribute(1, clusterOnOff, attrOnOff, true); err != nil {
		t.Fatalf("SetAttribute failed: %v", err)
	}
	if err := d.SetAttribute(1, clusterOnOff, attrOnOff, true); err != nil {
		t.Fatalf("SetAttribute failed: %v", err)
	}

	after, _ := d.DataVersion(1, clusterOnOff)
	if after != before+1 {
		t.Errorf("expected data version %d, got %d", before+1, after)
	}
	if len(changes) != 1 || changes[0] != path.NewAttributePath(1, clusterOnOff, attrOnOff) {
		t.Errorf("expected one change for 1/6/0, got %v", changes)
	}

	if err := d.SetAttribute(9, clusterOnOff, attrOnOff, true); !errors.Is(err, ErrUnsupportedEndpoint) {
		t.Errorf("expected ErrUnsupportedEndpoint, got %v", err)
	}
	if err := d.SetAttribute(1, clusterOnOff, 0x99, true); !errors.Is(err, ErrUnsupportedAttribute) {
		t.Errorf("expected ErrUnsupportedAttribute, got %v", err)
	}
	if _, ok := d.DataVersion(1, 0x99); ok {
		t.Error("expected no data version for a missing cluster")
	}
}

func TestDuplicates(t *testing.T) {
	d := newTestDevice(t)
	if err := d.AddEndpoint(NewEndpoint(1, 0x0100, "")); !errors.Is(err, ErrDuplicateEndpoint) {
		t.Errorf("expected ErrDuplicateEndpoint, got %v", err)
	}
	ep, _ := d.GetEndpoint(1)
	if err := ep.AddCluster(NewCluster(clusterOnOff, 1)); !errors.Is(err, ErrDuplicateCluster) {
		t.Errorf("expected ErrDuplicateCluster, got %v", err)
	}
}

func TestReadAttribute(t *testing.T) {
	d := newTestDevice(t)

	t.Run("Scalar", func(t *testing.T) {
		p := path.NewAttributePath(1, clusterOnOff, attrOnOff)
		r, err := readValue(t, d, viewer, p)
		if err != nil {
			t.Fatalf("ReadAttribute failed: %v", err)
		}
		var v bool
		if err := wire.Unmarshal(r.AttributeReports[0].Data, &v); err != nil || v {
			t.Errorf("expected false, got %v (%v)", v, err)
		}
	})

	t.Run("List", func(t *testing.T) {
		p := path.NewAttributePath(0, clusterAccess, attrACL)
		r, err := readValue(t, d, viewer, p)
		if err != nil {
			t.Fatalf("ReadAttribute failed: %v", err)
		}
		var v []string
		if err := wire.Unmarshal(r.AttributeReports[0].Data, &v); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if len(v) != 2 || v[1] != "entry-2" {
			t.Errorf("expected two entries, got %v", v)
		}
	})

	t.Run("ListElement", func(t *testing.T) {
		p := path.NewAttributePath(0, clusterAccess, attrACL)
		p.ListIndex = 1
		r, err := readValue(t, d, viewer, p)
		if err != nil {
			t.Fatalf("ReadAttribute failed: %v", err)
		}
		var v string
		if err := wire.Unmarshal(r.AttributeReports[0].Data, &v); err != nil || v != "entry-2" {
			t.Errorf("expected entry-2, got %q (%v)", v, err)
		}

		p.ListIndex = 5
		if _, err := readValue(t, d, viewer, p); !errors.Is(err, ErrUnsupportedAttribute) {
			t.Errorf("expected ErrUnsupportedAttribute, got %v", err)
		}
	})

	t.Run("Privilege", func(t *testing.T) {
		p := path.NewAttributePath(0, clusterAccess, attrSecret)
		if _, err := readValue(t, d, viewer, p); !errors.Is(err, ErrUnsupportedAccess) {
			t.Errorf("expected ErrUnsupportedAccess, got %v", err)
		}
		if _, err := readValue(t, d, admin, p); err != nil {
			t.Errorf("admin read failed: %v", err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		cases := map[path.AttributePath]error{
			path.NewAttributePath(7, clusterOnOff, attrOnOff): ErrUnsupportedEndpoint,
			path.NewAttributePath(1, 0x0300, attrOnOff):      ErrUnsupportedCluster,
			path.NewAttributePath(1, clusterOnOff, 0x4000):   ErrUnsupportedAttribute,
		}
		for p, want := range cases {
			if _, err := readValue(t, d, viewer, p); !errors.Is(err, want) {
				t.Errorf("%s: expected %v, got %v", p, want, err)
			}
			if got := StatusFor(want); !got.IsError() {
				t.Errorf("%v: expected an error status, got %s", want, got)
			}
		}
	})
}

func TestExpandAttributes(t *testing.T) {
	d := newTestDevice(t)

	concrete := path.NewAttributePath(5, 5, 5)
	if got := d.ExpandAttributes(concrete); len(got) != 1 || got[0] != concrete {
		t.Errorf("expected concrete path unchanged, got %v", got)
	}

	got := d.ExpandAttributes(path.NewAttributePath(path.WildcardEndpoint, path.WildcardCluster, attrOnOff))
	want := []path.AttributePath{
		path.NewAttributePath(0, clusterAccess, attrACL),
		path.NewAttributePath(1, clusterOnOff, attrOnOff),
	}
	if !wire.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	all := d.ExpandAttributes(path.AllAttributes())
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Endpoint > cur.Endpoint || (prev.Endpoint == cur.Endpoint && prev.Cluster > cur.Cluster) {
			t.Errorf("expansion out of order at %d: %s before %s", i, prev, cur)
		}
	}
	// 6 attributes on endpoint 0, 5 on endpoint 1.
	if len(all) != 11 {
		t.Errorf("expected 11 attributes, got %d", len(all))
	}

	if got := d.ExpandAttributes(path.ClusterAttributes(1, 0x0300)); len(got) != 0 {
		t.Errorf("expected nothing for a missing cluster, got %v", got)
	}
}

func TestEventChecks(t *testing.T) {
	d := newTestDevice(t)

	if err := d.EventSupported(path.AllEvents()); err != nil {
		t.Errorf("wildcard event path: %v", err)
	}
	if err := d.EventSupported(path.NewEventPath(0, clusterAccess, 0x77)); !errors.Is(err, ErrUnsupportedEvent) {
		t.Errorf("expected ErrUnsupportedEvent, got %v", err)
	}
	if err := d.EventSupported(path.NewEventPath(4, clusterAccess, eventAccess)); !errors.Is(err, ErrUnsupportedEndpoint) {
		t.Errorf("expected ErrUnsupportedEndpoint, got %v", err)
	}

	sensitive := path.NewEventPath(0, clusterAccess, eventAccess)
	if err := d.CheckEventAccess(viewer, sensitive, 1); !errors.Is(err, ErrUnsupportedAccess) {
		t.Errorf("viewer: expected ErrUnsupportedAccess, got %v", err)
	}
	if err := d.CheckEventAccess(admin, sensitive, 1); err != nil {
		t.Errorf("same fabric: %v", err)
	}
	if err := d.CheckEventAccess(admin, sensitive, 2); !errors.Is(err, ErrUnsupportedAccess) {
		t.Errorf("other fabric: expected ErrUnsupportedAccess, got %v", err)
	}
	if err := d.CheckEventAccess(viewer, path.NewEventPath(0, clusterAccess, eventAudit), 2); err != nil {
		t.Errorf("non-sensitive event: %v", err)
	}
}

func TestPrivilege(t *testing.T) {
	for p := PrivilegeView; p <= PrivilegeAdminister; p++ {
		parsed, err := ParsePrivilege(p.String())
		if err != nil || parsed != p {
			t.Errorf("ParsePrivilege(%s) = %v, %v", p, parsed, err)
		}
	}
	if !PrivilegeManage.Includes(PrivilegeOperate) || PrivilegeView.Includes(PrivilegeOperate) {
		t.Error("privilege ordering broken")
	}
}

func TestInfo(t *testing.T) {
	info := newTestDevice(t).Info()
	if len(info.Endpoints) != 2 || info.Endpoints[1].Label != "kitchen" {
		t.Errorf("unexpected info %+v", info)
	}
	if len(info.Endpoints[0].Clusters) != 1 || info.Endpoints[0].Clusters[0] != clusterAccess {
		t.Errorf("expected root endpoint to hold the access cluster, got %v", info.Endpoints[0].Clusters)
	}
}
