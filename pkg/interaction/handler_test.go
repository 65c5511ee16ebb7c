package interaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-reporting/pkg/model"
	"github.com/mash-protocol/mash-reporting/pkg/path"
	"github.com/mash-protocol/mash-reporting/pkg/wire"
)

var (
	epoch  = time.Unix(1700000000, 0)
	viewer = model.Subject{Fabric: 1, Privilege: model.PrivilegeView}

	onOff   = path.NewAttributePath(1, 0x0006, 0x0000)
	missing = path.NewAttributePath(9, 0x0006, 0x0000)
	secret  = path.NewAttributePath(0, 0x001F, 0x0001)
)

// stubChecker knows endpoints 0 and 1; attribute 0x001F/0x0001 needs
// administer privilege.
type stubChecker struct{}

func (stubChecker) AttributeExists(p path.AttributePath) error {
	if p.Endpoint > 1 {
		return model.ErrUnsupportedEndpoint
	}
	return nil
}

func (stubChecker) CheckAttributeAccess(subject model.Subject, p path.AttributePath) error {
	if p == secret && !subject.Privilege.Includes(model.PrivilegeAdminister) {
		return model.ErrUnsupportedAccess
	}
	return nil
}

func (stubChecker) EventSupported(p path.EventPath) error {
	if p.Event != path.WildcardEvent && p.Event > 5 {
		return model.ErrUnsupportedEvent
	}
	return nil
}

func newSubscription(t *testing.T, minS, maxS uint16) *Handler {
	t.Helper()
	h, err := NewSubscribeHandler(7, viewer, &wire.SubscribeRequest{
		AttributePaths: []path.AttributePath{onOff},
		MinInterval:    minS,
		MaxInterval:    maxS,
	}, Limits{}, stubChecker{}, epoch)
	require.NoError(t, err)
	return h
}

func TestTransitionTable(t *testing.T) {
	all := []State{StateIdle, StateGenerating, StateAwaitingAck, StateReportable, StateDone, StateTerminated}
	legal := map[[2]State]bool{
		{StateIdle, StateGenerating}:        true,
		{StateReportable, StateGenerating}:  true,
		{StateGenerating, StateAwaitingAck}: true,
		{StateGenerating, StateReportable}:  true,
		{StateAwaitingAck, StateReportable}: true,
		{StateAwaitingAck, StateDone}:       true,
		{StateIdle, StateTerminated}:        true,
		{StateGenerating, StateTerminated}:  true,
		{StateAwaitingAck, StateTerminated}: true,
		{StateReportable, StateTerminated}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			h := &Handler{state: from}
			err := h.Transition(to)
			if legal[[2]State{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, h.State())
			} else {
				assert.ErrorIs(t, err, ErrIllegalTransition, "%s -> %s", from, to)
				assert.Equal(t, from, h.State(), "illegal move must not change state")
			}
		}
	}
}

func TestAdmission(t *testing.T) {
	t.Run("statuses for failing concrete paths", func(t *testing.T) {
		h, err := NewReadHandler(1, viewer, &wire.ReadRequest{
			AttributePaths: []path.AttributePath{onOff, missing, secret, path.AllAttributes()},
			EventPaths:     []path.EventPath{path.NewEventPath(0, 0x28, 9), path.AllEvents()},
		}, Limits{MaxPaths: 8}, stubChecker{}, epoch)
		require.NoError(t, err)

		assert.Equal(t, []path.AttributePath{onOff, path.AllAttributes()}, h.AttributePaths)
		assert.Equal(t, []AttributeStatus{
			{Path: missing, Status: wire.StatusUnsupportedEndpoint},
			{Path: secret, Status: wire.StatusUnsupportedAccess},
		}, h.AttributeStatuses)
		assert.Equal(t, []EventStatus{{Path: path.NewEventPath(0, 0x28, 9), Status: wire.StatusUnsupportedEvent}}, h.EventStatuses)
		assert.Equal(t, []path.EventPath{path.AllEvents()}, h.EventPaths)
		assert.True(t, h.HasPending())
		assert.Equal(t, StateIdle, h.State())
		assert.Zero(t, h.SubscriptionID())
		assert.NotEqual(t, h.TraceID.String(), "00000000-0000-0000-0000-000000000000")
	})

	t.Run("no paths", func(t *testing.T) {
		_, err := NewReadHandler(1, viewer, &wire.ReadRequest{}, Limits{}, stubChecker{}, epoch)
		assert.ErrorIs(t, err, wire.ErrNoPaths)
	})

	t.Run("too many paths", func(t *testing.T) {
		_, err := NewReadHandler(1, viewer, &wire.ReadRequest{
			AttributePaths: []path.AttributePath{onOff, onOff, onOff},
		}, Limits{MaxPaths: 2}, stubChecker{}, epoch)
		assert.ErrorIs(t, err, ErrTooManyPaths)
	})

	t.Run("intervals", func(t *testing.T) {
		_, err := NewSubscribeHandler(1, viewer, &wire.SubscribeRequest{
			AttributePaths: []path.AttributePath{onOff}, MinInterval: 10, MaxInterval: 5,
		}, Limits{}, stubChecker{}, epoch)
		assert.ErrorIs(t, err, wire.ErrInvalidInterval)

		_, err = NewSubscribeHandler(1, viewer, &wire.SubscribeRequest{
			AttributePaths: []path.AttributePath{onOff},
		}, Limits{}, stubChecker{}, epoch)
		assert.ErrorIs(t, err, wire.ErrInvalidInterval)

		h, err := NewSubscribeHandler(3, viewer, &wire.SubscribeRequest{
			AttributePaths: []path.AttributePath{onOff}, MinInterval: 0, MaxInterval: 1,
		}, Limits{MinIntervalFloor: 2 * time.Second}, stubChecker{}, epoch)
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, h.MinInterval)
		assert.Equal(t, 2*time.Second, h.MaxInterval)
		assert.Equal(t, uint32(3), h.SubscriptionID())
	})
}

func TestEligibility(t *testing.T) {
	h := newSubscription(t, 2, 10)
	assert.True(t, h.Eligible(epoch, false), "idle handler primes immediately")

	require.NoError(t, h.Transition(StateGenerating))
	assert.False(t, h.Eligible(epoch, true))
	require.NoError(t, h.Transition(StateAwaitingAck))
	assert.False(t, h.Eligible(epoch, true))
	require.NoError(t, h.Transition(StateReportable))

	h.LastReport = epoch
	assert.False(t, h.Eligible(epoch.Add(time.Second), true), "min interval not elapsed")
	assert.True(t, h.Eligible(epoch.Add(2*time.Second), true))
	assert.False(t, h.Eligible(epoch.Add(9*time.Second), false))
	assert.True(t, h.Eligible(epoch.Add(10*time.Second), false), "keepalive")

	h.Cursor.Active = true
	assert.True(t, h.Eligible(epoch, false), "chunk continuation ignores intervals")
}

func TestDeadlines(t *testing.T) {
	h := newSubscription(t, 2, 10)
	ack := 5 * time.Second

	assert.Equal(t, epoch.Add(15*time.Second), h.NextDeadline(false, ack), "idle handlers only have the liveness deadline")

	h.state = StateReportable
	assert.Equal(t, epoch.Add(10*time.Second), h.NextDeadline(false, ack))
	assert.Equal(t, epoch.Add(2*time.Second), h.NextDeadline(true, ack))

	assert.False(t, h.Expired(epoch.Add(14*time.Second), ack))
	assert.True(t, h.Expired(epoch.Add(15*time.Second), ack))

	h.state = StateTerminated
	assert.False(t, h.Expired(epoch.Add(time.Hour), ack))
	assert.True(t, h.NextDeadline(true, ack).IsZero())

	read, err := NewReadHandler(1, viewer, &wire.ReadRequest{AttributePaths: []path.AttributePath{onOff}}, Limits{}, stubChecker{}, epoch)
	require.NoError(t, err)
	assert.False(t, read.Expired(epoch.Add(time.Hour), ack))
}

func TestCommit(t *testing.T) {
	h, err := NewReadHandler(1, viewer, &wire.ReadRequest{
		AttributePaths: []path.AttributePath{onOff, missing, secret},
	}, Limits{}, stubChecker{}, epoch)
	require.NoError(t, err)

	h.Stage(Progress{
		Cursor:                Cursor{Work: []path.AttributePath{onOff}, Active: true},
		NextEvent:             12,
		AttributeStatusesSent: 1,
	})
	assert.False(t, h.Commit(epoch.Add(time.Second)))
	assert.Len(t, h.AttributeStatuses, 1)
	assert.Equal(t, uint64(12), h.NextEvent)
	assert.True(t, h.Cursor.Active)
	assert.False(t, h.Finished())
	assert.Equal(t, epoch.Add(time.Second), h.LastDelivered)

	h.Stage(Progress{Cursor: Cursor{Generation: 4}, NextEvent: 12, Complete: true, AttributeStatusesSent: 1})
	assert.True(t, h.Commit(epoch.Add(2*time.Second)))
	assert.True(t, h.Finished())
	assert.Equal(t, uint64(4), uint64(h.ReportedGeneration))
	assert.Nil(t, h.Staged)

	assert.False(t, h.Commit(epoch), "nothing staged")
}

func TestAdvanceLeavesDeliveryTime(t *testing.T) {
	h := newSubscription(t, 1, 10)
	h.LastDelivered = epoch

	assert.True(t, h.Advance(Progress{Cursor: Cursor{Generation: 9}, NextEvent: 3, Complete: true}))
	assert.Equal(t, epoch, h.LastDelivered)
	assert.Equal(t, uint64(9), uint64(h.ReportedGeneration))
	assert.True(t, h.Primed)

	h.Advance(Progress{Cursor: Cursor{Generation: 2}, Complete: true})
	assert.Equal(t, uint64(9), uint64(h.ReportedGeneration), "generation never moves back")
}

func TestCursorRemaining(t *testing.T) {
	c := Cursor{Work: []path.AttributePath{onOff, secret}, Index: 1}
	assert.Equal(t, []path.AttributePath{secret}, c.Remaining())
	c.Index = 2
	assert.Nil(t, c.Remaining())
}

func TestFilteredVersion(t *testing.T) {
	h := &Handler{DataVersionFilters: []wire.DataVersionFilter{{Endpoint: 1, Cluster: 6, DataVersion: 3}}}
	assert.True(t, h.FilteredVersion(1, 6, 3))
	assert.False(t, h.FilteredVersion(1, 6, 4))
	assert.False(t, h.FilteredVersion(2, 6, 3))
}
