package reporting_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-reporting/internal/clock"
	"github.com/mash-protocol/mash-reporting/pkg/eventlog"
	"github.com/mash-protocol/mash-reporting/pkg/interaction"
	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/reporting"
	"github.com/mash-protocol/mash-reporting/pkg/reporting/mocks"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

const (
	clusterOnOff  path.ClusterID   = 0x0006
	clusterLabels path.ClusterID   = 0x0040
	attrOnOff     path.AttributeID = 0x0000
	attrLabels    path.AttributeID = 0x0000
	eventSwitched path.EventID     = 0x0001
)

var (
	attrA   = path.NewAttributePath(1, clusterOnOff, attrOnOff)
	attrB   = path.NewAttributePath(2, clusterOnOff, attrOnOff)
	labels  = path.NewAttributePath(1, clusterLabels, attrLabels)
	viewer  = model.Subject{Fabric: 1, Privilege: model.PrivilegeView}
	started = time.Unix(1700000000, 0)
)

// testExchange records reports and holds their confirmations until acked.
type testExchange struct {
	max         int
	reports     []*wire.ReportData
	pending     []func(error)
	closes      int
	closeErr    error
	established []uint32
}

func newExchange(max int) *testExchange {
	return &testExchange{max: max}
}

func (x *testExchange) MaxPayloadSize() int { return x.max }

func (x *testExchange) Send(payload []byte, done func(error)) error {
	if len(payload) > x.max {
		return fmt.Errorf("payload of %d bytes over %d", len(payload), x.max)
	}
	r, err := wire.DecodeReport(payload)
	if err != nil {
		return err
	}
	x.reports = append(x.reports, r)
	x.pending = append(x.pending, done)
	return nil
}

func (x *testExchange) Close(err error) {
	x.closes++
	x.closeErr = err
}

func (x *testExchange) SubscriptionEstablished(id uint32, _ time.Duration) {
	x.established = append(x.established, id)
}

// ack confirms every outstanding report with err.
func (x *testExchange) ack(err error) int {
	pending := x.pending
	x.pending = nil
	for _, done := range pending {
		done(err)
	}
	return len(pending)
}

func (x *testExchange) last(t *testing.T) *wire.ReportData {
	t.Helper()
	require.NotEmpty(t, x.reports)
	return x.reports[len(x.reports)-1]
}

type env struct {
	clock  *clock.FakeClock
	device *model.Device
	events *eventlog.Log
	engine *reporting.Engine
}

func newEnv(t *testing.T, configure func(*reporting.Config)) *env {
	t.Helper()
	fake := clock.NewFake(started)

	device := model.NewDevice("dev-1", 0xFFF1, 0x8000)
	for _, id := range []path.EndpointID{1, 2} {
		ep := model.NewEndpoint(id, 0x0100, fmt.Sprintf("light-%d", id))
		onOff := model.NewCluster(clusterOnOff, 4)
		onOff.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
			ID:      attrOnOff,
			Name:    "onOff",
			Type:    model.DataTypeBool,
			Access:  model.AccessReadOnly,
			Default: false,
		}))
		onOff.AddEvent(&model.EventMetadata{ID: eventSwitched, Name: "switched", Priority: eventlog.PriorityInfo})
		require.NoError(t, ep.AddCluster(onOff))
		if id == 1 {
			list := model.NewCluster(clusterLabels, 1)
			list.AddAttribute(model.NewAttribute(&model.AttributeMetadata{
				ID:      attrLabels,
				Name:    "labels",
				Type:    model.DataTypeArray,
				Access:  model.AccessReadOnly,
				Default: []string{},
			}))
			require.NoError(t, ep.AddCluster(list))
		}
		require.NoError(t, device.AddEndpoint(ep))
	}

	events, err := eventlog.New(eventlog.Config{
		Capacity: map[eventlog.Priority]int{eventlog.PriorityInfo: 8, eventlog.PriorityCritical: 2},
		Clock:    fake,
	})
	require.NoError(t, err)

	cfg := reporting.DefaultConfig()
	cfg.Clock = fake
	cfg.AckTimeout = 10 * time.Second
	if configure != nil {
		configure(&cfg)
	}
	engine, err := reporting.NewEngine(cfg, device, events)
	require.NoError(t, err)
	device.OnChange(engine.MarkDirty)
	t.Cleanup(engine.Close)

	return &env{clock: fake, device: device, events: events, engine: engine}
}

func (e *env) subscribe(t *testing.T, ex reporting.Exchange, min, max uint16, paths ...path.AttributePath) *interaction.Handler {
	t.Helper()
	h, err := e.engine.StartSubscription(viewer, &wire.SubscribeRequest{
		AttributePaths: paths,
		MinInterval:    min,
		MaxInterval:    max,
	}, ex)
	require.NoError(t, err)
	return h
}

// prime runs the priming sequence of a subscription to completion.
func (e *env) prime(t *testing.T, ex *testExchange) {
	t.Helper()
	for i := 0; i < 100; i++ {
		e.engine.RunPending()
		if ex.ack(nil) == 0 {
			e.engine.RunPending()
			return
		}
	}
	t.Fatal("priming did not finish")
}

func attributePaths(r *wire.ReportData) []path.AttributePath {
	var out []path.AttributePath
	for _, item := range r.AttributeReports {
		out = append(out, item.Path)
	}
	return out
}

func TestReadSingleAttribute(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)

	h, err := e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{attrA}}, ex)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), h.SubscriptionID())

	e.engine.RunPending()
	require.Len(t, ex.reports, 1)
	r := ex.reports[0]
	assert.False(t, r.MoreChunks)
	assert.Zero(t, r.SubscriptionID)
	require.Len(t, r.AttributeReports, 1)
	assert.Equal(t, attrA, r.AttributeReports[0].Path)

	var on bool
	require.NoError(t, wire.Unmarshal(r.AttributeReports[0].Data, &on))
	assert.False(t, on)
	assert.Equal(t, 1, e.engine.InFlight())

	ex.ack(nil)
	e.engine.RunPending()
	assert.Equal(t, 1, ex.closes)
	assert.NoError(t, ex.closeErr)
	assert.Zero(t, e.engine.Len())
	assert.Zero(t, e.engine.InFlight())
}

func TestReadUnsupportedPathsReportStatus(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)

	missingCluster := path.NewAttributePath(1, 0x0099, 0)
	missingEndpoint := path.NewAttributePath(9, clusterOnOff, attrOnOff)
	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{
		AttributePaths: []path.AttributePath{missingCluster, attrA, missingEndpoint},
	}, ex)
	require.NoError(t, err)

	e.engine.RunPending()
	require.Len(t, ex.reports, 1)
	items := ex.reports[0].AttributeReports
	require.Len(t, items, 3)

	// Statuses are owed first, then data.
	assert.Equal(t, missingCluster, items[0].Path)
	assert.Equal(t, wire.StatusUnsupportedCluster, items[0].Status)
	assert.Equal(t, missingEndpoint, items[1].Path)
	assert.Equal(t, wire.StatusUnsupportedEndpoint, items[1].Status)
	assert.Equal(t, attrA, items[2].Path)
	assert.Equal(t, wire.StatusSuccess, items[2].Status)
}

func TestWildcardReadOmitsUnreadable(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(4096)

	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{
		AttributePaths: []path.AttributePath{path.NewAttributePath(path.WildcardEndpoint, clusterOnOff, path.WildcardAttribute)},
	}, ex)
	require.NoError(t, err)
	e.engine.RunPending()

	require.Len(t, ex.reports, 1)
	for _, item := range ex.reports[0].AttributeReports {
		assert.Equal(t, wire.StatusSuccess, item.Status, "wildcard expansion never yields statuses")
		assert.Equal(t, clusterOnOff, item.Path.Cluster)
	}
	assert.Contains(t, attributePaths(ex.reports[0]), attrA)
	assert.Contains(t, attributePaths(ex.reports[0]), attrB)
}

// Two attributes on different endpoints change; each subscription gets
// exactly the ones it is interested in.
func TestDirtyEndpointsScenario(t *testing.T) {
	e := newEnv(t, nil)
	only1 := newExchange(1024)
	both := newExchange(1024)

	e.subscribe(t, only1, 0, 60, path.NewAttributePath(1, path.WildcardCluster, path.WildcardAttribute))
	e.subscribe(t, both, 0, 60, attrA, attrB)
	e.prime(t, only1)
	e.prime(t, both)
	primed1, primedBoth := len(only1.reports), len(both.reports)

	require.NoError(t, e.device.SetAttribute(1, clusterOnOff, attrOnOff, true))
	require.NoError(t, e.device.SetAttribute(2, clusterOnOff, attrOnOff, true))
	e.engine.RunPending()

	require.Len(t, only1.reports, primed1+1)
	assert.Equal(t, []path.AttributePath{attrA}, attributePaths(only1.last(t)))

	require.Len(t, both.reports, primedBoth+1)
	r := both.last(t)
	assert.Equal(t, []path.AttributePath{attrA, attrB}, attributePaths(r))
	assert.False(t, r.MoreChunks)
	assert.NotZero(t, r.SubscriptionID)
}

func TestDirtyEndpointsScenarioChunked(t *testing.T) {
	e := newEnv(t, nil)
	// Room for a single boolean attribute item per report.
	ex := newExchange(wire.ReportDataOverhead + 24)

	e.subscribe(t, ex, 0, 60, attrA, attrB)
	e.prime(t, ex)
	primed := len(ex.reports)

	require.NoError(t, e.device.SetAttribute(1, clusterOnOff, attrOnOff, true))
	require.NoError(t, e.device.SetAttribute(2, clusterOnOff, attrOnOff, true))
	e.engine.RunPending()

	require.Len(t, ex.reports, primed+1, "the next chunk waits for the first to be confirmed")
	first := ex.last(t)
	assert.True(t, first.MoreChunks)
	assert.Equal(t, []path.AttributePath{attrA}, attributePaths(first))

	ex.ack(nil)
	e.engine.RunPending()
	require.Len(t, ex.reports, primed+2)
	second := ex.last(t)
	assert.False(t, second.MoreChunks)
	assert.Equal(t, []path.AttributePath{attrB}, attributePaths(second))

	ex.ack(nil)
	e.engine.RunPending()
	assert.Len(t, ex.reports, primed+2)
	assert.Zero(t, e.engine.Dirty().Len(), "delivered paths are collected")
}

func TestListChunkingRoundTrip(t *testing.T) {
	e := newEnv(t, nil)
	var values []string
	for i := 0; i < 25; i++ {
		values = append(values, fmt.Sprintf("label-%02d", i))
	}
	require.NoError(t, e.device.SetAttribute(1, clusterLabels, attrLabels, values))

	read := func(max int) *wire.Accumulator {
		ex := newExchange(max)
		_, err := e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{labels}}, ex)
		require.NoError(t, err)

		acc := wire.NewAccumulator()
		for i := 0; i < 100 && ex.closes == 0; i++ {
			e.engine.RunPending()
			for _, r := range ex.reports {
				require.NoError(t, acc.Apply(r.AttributeReports...))
			}
			ex.reports = nil
			ex.ack(nil)
			e.engine.RunPending()
		}
		require.Equal(t, 1, ex.closes)
		require.NoError(t, ex.closeErr)
		return acc
	}

	whole := read(4096)
	chunked := read(wire.ReportDataOverhead + 48)

	want, ok := whole.Value(labels)
	require.True(t, ok)
	got, ok := chunked.Value(labels)
	require.True(t, ok)

	var a, b []string
	require.NoError(t, wire.Unmarshal(want, &a))
	require.NoError(t, wire.Unmarshal(got, &b))
	assert.Equal(t, values, a)
	assert.Equal(t, a, b)
}

func TestListChangedBetweenChunksIsResent(t *testing.T) {
	e := newEnv(t, nil)
	require.NoError(t, e.device.SetAttribute(1, clusterLabels, attrLabels, []string{"a-000", "b-000", "c-000", "d-000", "e-000", "f-000"}))

	ex := newExchange(wire.ReportDataOverhead + 48)
	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{labels}}, ex)
	require.NoError(t, err)
	e.engine.RunPending()
	require.True(t, ex.last(t).MoreChunks)

	updated := []string{"x-000", "y-000"}
	require.NoError(t, e.device.SetAttribute(1, clusterLabels, attrLabels, updated))

	acc := wire.NewAccumulator()
	for i := 0; i < 50 && ex.closes == 0; i++ {
		for _, r := range ex.reports {
			require.NoError(t, acc.Apply(r.AttributeReports...))
		}
		ex.reports = nil
		ex.ack(nil)
		e.engine.RunPending()
	}
	require.Equal(t, 1, ex.closes)

	raw, ok := acc.Value(labels)
	require.True(t, ok)
	var got []string
	require.NoError(t, wire.Unmarshal(raw, &got))
	assert.Equal(t, updated, got)
}

func TestOversizedItemReportsResourceExhausted(t *testing.T) {
	e := newEnv(t, nil)
	long := make([]string, 1)
	long[0] = string(make([]byte, 200))
	// A list whose single element exceeds an empty report.
	require.NoError(t, e.device.SetAttribute(1, clusterLabels, attrLabels, long))

	ex := newExchange(wire.ReportDataOverhead + 64)
	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{labels, attrA}}, ex)
	require.NoError(t, err)

	for i := 0; i < 10 && ex.closes == 0; i++ {
		e.engine.RunPending()
		ex.ack(nil)
		e.engine.RunPending()
	}
	require.Equal(t, 1, ex.closes)
	require.NoError(t, ex.closeErr)

	var statuses []wire.Status
	var data []path.AttributePath
	for _, r := range ex.reports {
		for _, item := range r.AttributeReports {
			if item.Status.IsError() {
				statuses = append(statuses, item.Status)
			} else if !item.Append {
				data = append(data, item.Path)
			}
		}
	}
	assert.Equal(t, []wire.Status{wire.StatusResourceExhausted}, statuses)
	assert.Contains(t, data, attrA, "later items still follow")
}

func TestSubscriptionEstablishedAfterPriming(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	h := e.subscribe(t, ex, 0, 60, attrA)

	e.engine.RunPending()
	assert.Empty(t, ex.established)
	assert.Equal(t, interaction.StateAwaitingAck, h.State())

	ex.ack(nil)
	e.engine.RunPending()
	assert.Equal(t, []uint32{h.ID}, ex.established)
	assert.Equal(t, interaction.StateReportable, h.State())
	assert.True(t, h.Primed)
}

func TestMinIntervalDefersReport(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	e.subscribe(t, ex, 5, 60, attrA)
	e.prime(t, ex)
	primed := len(ex.reports)

	require.NoError(t, e.device.SetAttribute(1, clusterOnOff, attrOnOff, true))
	e.engine.RunPending()
	assert.Len(t, ex.reports, primed, "min interval has not elapsed")

	e.clock.Advance(5 * time.Second)
	e.engine.RunPending()
	require.Len(t, ex.reports, primed+1)
	assert.Equal(t, []path.AttributePath{attrA}, attributePaths(ex.last(t)))
}

func TestChangesCoalesceWithinMinInterval(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	e.subscribe(t, ex, 5, 60, attrA)
	e.prime(t, ex)
	primed := len(ex.reports)

	for _, v := range []bool{true, false, true} {
		require.NoError(t, e.device.SetAttribute(1, clusterOnOff, attrOnOff, v))
		e.engine.RunPending()
	}
	e.clock.Advance(5 * time.Second)
	e.engine.RunPending()

	require.Len(t, ex.reports, primed+1)
	r := ex.last(t)
	require.Len(t, r.AttributeReports, 1)
	var on bool
	require.NoError(t, wire.Unmarshal(r.AttributeReports[0].Data, &on))
	assert.True(t, on, "the report carries the latest value")
}

func TestKeepaliveAtMaxInterval(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	h := e.subscribe(t, ex, 0, 30, attrA)
	e.prime(t, ex)
	primed := len(ex.reports)

	e.clock.Advance(29 * time.Second)
	e.engine.RunPending()
	assert.Len(t, ex.reports, primed)

	e.clock.Advance(time.Second)
	e.engine.RunPending()
	require.Len(t, ex.reports, primed+1)
	r := ex.last(t)
	assert.True(t, r.IsEmpty())
	assert.Equal(t, h.ID, r.SubscriptionID)

	ex.ack(nil)
	e.engine.RunPending()
	assert.Equal(t, interaction.StateReportable, h.State())
}

func TestFullHeartbeatReReportsInterest(t *testing.T) {
	e := newEnv(t, func(cfg *reporting.Config) { cfg.HeartbeatMode = reporting.HeartbeatFull })
	ex := newExchange(1024)
	e.subscribe(t, ex, 0, 30, attrA, attrB)
	e.prime(t, ex)

	for range 2 {
		primed := len(ex.reports)
		e.clock.Advance(30 * time.Second)
		e.engine.RunPending()
		require.Len(t, ex.reports, primed+1)
		assert.ElementsMatch(t, []path.AttributePath{attrA, attrB}, attributePaths(ex.last(t)))

		ex.ack(nil)
		e.engine.RunPending()
	}
}

func TestHeartbeatModeText(t *testing.T) {
	var m reporting.HeartbeatMode
	require.NoError(t, m.UnmarshalText([]byte("FULL")))
	assert.Equal(t, reporting.HeartbeatFull, m)
	assert.Equal(t, "full", m.String())

	text, err := reporting.HeartbeatEmpty.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "empty", string(text))
	assert.Error(t, m.Set("loud"))
}

func TestLivenessTimeout(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	e.subscribe(t, ex, 0, 30, attrA)
	e.engine.RunPending()
	require.Len(t, ex.reports, 1)

	// The priming report is never confirmed.
	e.clock.Advance(39 * time.Second)
	e.engine.RunPending()
	assert.Zero(t, ex.closes)

	e.clock.Advance(time.Second)
	e.engine.RunPending()
	assert.Equal(t, 1, ex.closes)
	assert.ErrorIs(t, ex.closeErr, reporting.ErrLivenessTimeout)
	assert.Zero(t, e.engine.Len())
	assert.Zero(t, e.engine.InFlight())

	// A confirmation arriving after the timeout is ignored.
	ex.ack(nil)
	e.engine.RunPending()
	assert.Equal(t, 1, ex.closes)
}

func TestLivenessRenewedByDelivery(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	h := e.subscribe(t, ex, 0, 30, attrA)
	e.prime(t, ex)

	for i := 0; i < 5; i++ {
		e.clock.Advance(30 * time.Second)
		e.engine.RunPending()
		ex.ack(nil)
		e.engine.RunPending()
	}
	assert.Zero(t, ex.closes)
	assert.Equal(t, interaction.StateReportable, h.State())
}

func TestCancelDuringAwaitingAck(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	h := e.subscribe(t, ex, 0, 60, attrA)
	e.engine.RunPending()
	require.Equal(t, 1, e.engine.InFlight())

	require.NoError(t, e.engine.Cancel(h.ID))
	assert.Equal(t, interaction.StateTerminated, h.State())
	assert.Zero(t, e.engine.InFlight())
	assert.Equal(t, 1, ex.closes)
	assert.ErrorIs(t, ex.closeErr, reporting.ErrCancelled)

	ex.ack(nil)
	e.engine.RunPending()
	assert.Equal(t, 1, ex.closes)

	assert.ErrorIs(t, e.engine.Cancel(h.ID), reporting.ErrUnknownTransaction)
}

func TestDeliveryFailureEndsOnlyThatTransaction(t *testing.T) {
	e := newEnv(t, nil)
	failing := newExchange(1024)
	healthy := newExchange(1024)
	e.subscribe(t, failing, 0, 60, attrA)
	h := e.subscribe(t, healthy, 0, 60, attrA)
	e.engine.RunPending()

	failing.ack(errors.New("connection reset"))
	healthy.ack(nil)
	e.engine.RunPending()

	assert.Equal(t, 1, failing.closes)
	assert.Error(t, failing.closeErr)
	assert.Zero(t, healthy.closes)
	assert.Equal(t, interaction.StateReportable, h.State())

	require.NoError(t, e.device.SetAttribute(1, clusterOnOff, attrOnOff, true))
	e.engine.RunPending()
	assert.Equal(t, []path.AttributePath{attrA}, attributePaths(healthy.last(t)))
}

func TestSendErrorClosesExchange(t *testing.T) {
	e := newEnv(t, nil)
	ex := mocks.NewExchange(t)
	sendErr := errors.New("write failed")
	ex.On("MaxPayloadSize").Return(1024)
	ex.On("Send", mock.Anything, mock.Anything).Return(sendErr).Once()
	ex.On("Close", mock.MatchedBy(func(err error) bool { return errors.Is(err, sendErr) })).Return().Once()

	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{attrA}}, ex)
	require.NoError(t, err)
	e.engine.RunPending()

	assert.Zero(t, e.engine.Len())
	assert.Zero(t, e.engine.InFlight())
}

func TestAdmissionLimits(t *testing.T) {
	e := newEnv(t, func(c *reporting.Config) {
		c.MaxTransactions = 2
		c.MaxPathsPerTransaction = 2
	})
	req := &wire.ReadRequest{AttributePaths: []path.AttributePath{attrA}}

	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{attrA, attrB, labels}}, newExchange(1024))
	assert.ErrorIs(t, err, interaction.ErrTooManyPaths)

	_, err = e.engine.StartRead(viewer, &wire.ReadRequest{}, newExchange(1024))
	assert.ErrorIs(t, err, wire.ErrNoPaths)

	_, err = e.engine.StartSubscription(viewer, &wire.SubscribeRequest{AttributePaths: []path.AttributePath{attrA}, MinInterval: 10, MaxInterval: 5}, newExchange(1024))
	assert.ErrorIs(t, err, wire.ErrInvalidInterval)

	_, err = e.engine.StartRead(viewer, req, newExchange(1024))
	require.NoError(t, err)
	_, err = e.engine.StartRead(viewer, req, newExchange(1024))
	require.NoError(t, err)
	_, err = e.engine.StartRead(viewer, req, newExchange(1024))
	assert.ErrorIs(t, err, reporting.ErrTooManyTransactions)
}

func TestFairnessUnderInFlightLimit(t *testing.T) {
	e := newEnv(t, func(c *reporting.Config) { c.MaxReportsInFlight = 1 })

	var exchanges []*testExchange
	var ids []uint32
	for i := 0; i < 3; i++ {
		ex := newExchange(1024)
		h := e.subscribe(t, ex, 0, 60, attrA)
		exchanges = append(exchanges, ex)
		ids = append(ids, h.ID)
	}

	var served []uint32
	for round := 0; round < 6; round++ {
		e.engine.RunPending()
		require.LessOrEqual(t, e.engine.InFlight(), 1)
		for i, ex := range exchanges {
			if ex.ack(nil) > 0 {
				served = append(served, ids[i])
			}
		}
		if round == 2 {
			// Every subscription is primed; make all of them eligible again.
			require.NoError(t, e.device.SetAttribute(1, clusterOnOff, attrOnOff, round%2 == 0))
		}
	}
	e.engine.RunPending()

	require.GreaterOrEqual(t, len(served), 6)
	assert.Equal(t, ids, served[:3], "priming is served in turn")
	assert.ElementsMatch(t, ids, served[3:6], "no subscription is served twice before the others")
}

func TestEventsFollowAttributesInOrder(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(1024)
	sw := path.NewEventPath(1, clusterOnOff, eventSwitched)

	var numbers []uint64
	for i := 0; i < 3; i++ {
		n, err := e.engine.Emit(sw, eventlog.PriorityInfo, path.NoFabric, []byte{0xF5})
		require.NoError(t, err)
		numbers = append(numbers, n)
	}

	h, err := e.engine.StartSubscription(viewer, &wire.SubscribeRequest{
		AttributePaths: []path.AttributePath{attrA},
		EventPaths:     []path.EventPath{path.NewEventPath(path.WildcardEndpoint, clusterOnOff, path.WildcardEvent)},
		MaxInterval:    60,
	}, ex)
	require.NoError(t, err)
	e.engine.RunPending()

	r := ex.last(t)
	require.Len(t, r.AttributeReports, 1)
	require.Len(t, r.EventReports, 3)
	for i, ev := range r.EventReports {
		assert.Equal(t, numbers[i], ev.Number)
		assert.Equal(t, sw, ev.Path)
	}
	assert.Equal(t, numbers[2], r.LastEventNumber)
	assert.False(t, r.EventsDropped)

	ex.ack(nil)
	e.engine.RunPending()
	assert.Equal(t, numbers[2]+1, h.NextEvent)

	// A new event is delivered on its own.
	n, err := e.engine.Emit(sw, eventlog.PriorityInfo, path.NoFabric, nil)
	require.NoError(t, err)
	e.engine.RunPending()
	r = ex.last(t)
	assert.Empty(t, r.AttributeReports)
	require.Len(t, r.EventReports, 1)
	assert.Equal(t, n, r.EventReports[0].Number)
}

func TestEventsDroppedWhenExpired(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(4096)
	sw := path.NewEventPath(2, clusterOnOff, eventSwitched)

	first, err := e.engine.Emit(sw, eventlog.PriorityInfo, path.NoFabric, nil)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		_, err := e.engine.Emit(sw, eventlog.PriorityInfo, path.NoFabric, nil)
		require.NoError(t, err)
	}

	_, err = e.engine.StartRead(viewer, &wire.ReadRequest{
		EventPaths: []path.EventPath{sw},
		EventMin:   first,
	}, ex)
	require.NoError(t, err)
	e.engine.RunPending()

	r := ex.last(t)
	assert.True(t, r.EventsDropped)
	require.Len(t, r.EventReports, 8)
	assert.Equal(t, first+2, r.EventReports[0].Number)
}

func TestEventMinZeroStartsAtOldest(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(4096)
	sw := path.NewEventPath(2, clusterOnOff, eventSwitched)
	for i := 0; i < 10; i++ {
		_, err := e.engine.Emit(sw, eventlog.PriorityInfo, path.NoFabric, nil)
		require.NoError(t, err)
	}

	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{EventPaths: []path.EventPath{sw}}, ex)
	require.NoError(t, err)
	e.engine.RunPending()

	r := ex.last(t)
	assert.False(t, r.EventsDropped)
	assert.Len(t, r.EventReports, 8)
}

func eventNumbers(reports []*wire.ReportData) (numbers []uint64, dropped bool) {
	for _, r := range reports {
		for _, ev := range r.EventReports {
			numbers = append(numbers, ev.Number)
		}
		dropped = dropped || r.EventsDropped
	}
	return numbers, dropped
}

// emitCriticalThenInfo fills the info tier past its budget behind one
// critical event and returns the numbers still buffered.
func (e *env) emitCriticalThenInfo(t *testing.T, p path.EventPath) []uint64 {
	t.Helper()
	critical, err := e.engine.Emit(p, eventlog.PriorityCritical, path.NoFabric, nil)
	require.NoError(t, err)
	buffered := []uint64{critical}
	for i := 0; i < 9; i++ {
		n, err := e.engine.Emit(p, eventlog.PriorityInfo, path.NoFabric, nil)
		require.NoError(t, err)
		if i > 0 {
			buffered = append(buffered, n)
		}
	}
	require.Equal(t, 9, e.events.Len())
	return buffered
}

func TestCriticalEventPrimedAfterInfoEviction(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(4096)
	sw := path.NewEventPath(2, clusterOnOff, eventSwitched)
	want := e.emitCriticalThenInfo(t, sw)

	_, err := e.engine.StartSubscription(viewer, &wire.SubscribeRequest{
		EventPaths:  []path.EventPath{sw},
		MaxInterval: 60,
	}, ex)
	require.NoError(t, err)
	e.prime(t, ex)

	got, dropped := eventNumbers(ex.reports)
	assert.Equal(t, want, got)
	assert.True(t, dropped, "the evicted info event sits between the critical and the rest")
}

func TestCriticalEventDeliveredToExistingSubscriber(t *testing.T) {
	e := newEnv(t, nil)
	ex := newExchange(4096)
	sw := path.NewEventPath(2, clusterOnOff, eventSwitched)

	h, err := e.engine.StartSubscription(viewer, &wire.SubscribeRequest{
		EventPaths:  []path.EventPath{sw},
		MaxInterval: 60,
	}, ex)
	require.NoError(t, err)
	e.prime(t, ex)
	primed := len(ex.reports)

	want := e.emitCriticalThenInfo(t, sw)
	require.Equal(t, want[0], h.NextEvent)

	e.engine.RunPending()
	got, dropped := eventNumbers(ex.reports[primed:])
	assert.Equal(t, want, got)
	assert.True(t, dropped)
}

func TestDataVersionFilterSkipsCluster(t *testing.T) {
	e := newEnv(t, nil)
	version, ok := e.device.DataVersion(1, clusterOnOff)
	require.True(t, ok)

	ex := newExchange(1024)
	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{
		AttributePaths:     []path.AttributePath{attrA, attrB},
		DataVersionFilters: []wire.DataVersionFilter{{Endpoint: 1, Cluster: clusterOnOff, DataVersion: version}},
	}, ex)
	require.NoError(t, err)
	e.engine.RunPending()

	assert.Equal(t, []path.AttributePath{attrB}, attributePaths(ex.last(t)))
}

func TestCloseEndsEveryTransaction(t *testing.T) {
	e := newEnv(t, nil)
	a, b := newExchange(1024), newExchange(1024)
	e.subscribe(t, a, 0, 60, attrA)
	_, err := e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{attrB}}, b)
	require.NoError(t, err)
	e.engine.RunPending()

	e.engine.Close()
	e.engine.Close()
	assert.Equal(t, 1, a.closes)
	assert.ErrorIs(t, a.closeErr, reporting.ErrEngineClosed)
	assert.Equal(t, 1, b.closes)
	assert.ErrorIs(t, b.closeErr, reporting.ErrEngineClosed)

	_, err = e.engine.StartRead(viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{attrA}}, newExchange(1024))
	assert.ErrorIs(t, err, reporting.ErrEngineClosed)
}
