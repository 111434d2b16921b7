package scans

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/models"
)

func results(address string, at time.Time, states map[int]models.PortState) []models.PortScanResult {
	var out []models.PortScanResult
	for port, state := range states {
		out = append(out, models.PortScanResult{
			TargetAddress: address,
			Port:          port,
			State:         state,
			ScanTimestamp: at,
		})
	}
	return out
}

func TestComputeDiffStateTransitions(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	previous := results("10.0.0.5", t0, map[int]models.PortState{
		22:  models.PortOpen,
		80:  models.PortClosed,
		443: models.PortFiltered,
	})
	current := results("10.0.0.5", t1, map[int]models.PortState{
		22:  models.PortClosed,
		80:  models.PortOpen,
		443: models.PortOpen,
	})

	diff := ComputeDiff(previous, current)

	assert.Equal(t, "10.0.0.5", diff.TargetAddress)
	assert.Equal(t, 1, diff.OpenPortsBefore)
	assert.Equal(t, 2, diff.OpenPortsAfter)
	assert.Equal(t, 3, diff.TotalPortsScanned)

	require.Len(t, diff.Changes, 3)
	assert.Equal(t, 22, diff.Changes[0].Port)
	assert.Equal(t, models.ChangeNewClosed, diff.Changes[0].ChangeType)
	assert.Equal(t, 80, diff.Changes[1].Port)
	assert.Equal(t, models.ChangeNewOpen, diff.Changes[1].ChangeType)
	assert.Equal(t, 443, diff.Changes[2].Port)
	assert.Equal(t, models.ChangeNewOpen, diff.Changes[2].ChangeType)
}

func TestComputeDiffNewPortOnlyCountsWhenOpen(t *testing.T) {
	now := time.Now()
	previous := results("h", now, map[int]models.PortState{22: models.PortOpen})
	current := results("h", now, map[int]models.PortState{
		22:  models.PortOpen,
		80:  models.PortClosed, // newly scanned but closed: not a change
		443: models.PortOpen,   // newly scanned and open
	})

	diff := ComputeDiff(previous, current)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, 443, diff.Changes[0].Port)
	assert.Equal(t, models.ChangeNewOpen, diff.Changes[0].ChangeType)
	assert.Equal(t, models.PortUnknown, diff.Changes[0].PreviousState)
}

func TestComputeDiffVanishedOpenPort(t *testing.T) {
	now := time.Now()
	previous := results("h", now, map[int]models.PortState{
		22: models.PortOpen,
		80: models.PortClosed,
	})
	current := results("h", now, map[int]models.PortState{443: models.PortClosed})

	diff := ComputeDiff(previous, current)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, 22, diff.Changes[0].Port)
	assert.Equal(t, models.ChangeNewClosed, diff.Changes[0].ChangeType)
	assert.Equal(t, models.PortOpen, diff.Changes[0].PreviousState)
	assert.Equal(t, models.PortUnknown, diff.Changes[0].CurrentState)
}

func TestComputeDiffFilteredToClosedIsStateChanged(t *testing.T) {
	now := time.Now()
	previous := results("h", now, map[int]models.PortState{8080: models.PortFiltered})
	current := results("h", now, map[int]models.PortState{8080: models.PortClosed})

	diff := ComputeDiff(previous, current)
	require.Len(t, diff.Changes, 1)
	assert.Equal(t, models.ChangeStateChanged, diff.Changes[0].ChangeType)
}

func TestComputeDiffNoChanges(t *testing.T) {
	now := time.Now()
	states := map[int]models.PortState{22: models.PortOpen, 80: models.PortClosed}
	diff := ComputeDiff(results("h", now, states), results("h", now, states))
	assert.Empty(t, diff.Changes)
	assert.Equal(t, diff.OpenPortsBefore, diff.OpenPortsAfter)
}
