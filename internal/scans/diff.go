// Package scans runs scheduled port scans and computes the state
// changes between consecutive runs of the same target.
package scans

import (
	"sort"

	"github.com/netpulse/netpulse/internal/models"
)

// ComputeDiff compares two result sets of the same target. A port that
// disappeared from the scan entirely only counts when it was open
// before; a port that appeared only counts when it is open now.
// Changes come back sorted by ascending port.
func ComputeDiff(previous, current []models.PortScanResult) models.PortScanDiff {
	prev := make(map[int]models.PortScanResult, len(previous))
	for _, r := range previous {
		prev[r.Port] = r
	}
	curr := make(map[int]models.PortScanResult, len(current))
	for _, r := range current {
		curr[r.Port] = r
	}

	diff := models.PortScanDiff{
		TotalPortsScanned: len(current),
	}
	if len(previous) > 0 {
		diff.TargetAddress = previous[0].TargetAddress
		diff.PreviousScanTime = previous[0].ScanTimestamp
	}
	if len(current) > 0 {
		diff.TargetAddress = current[0].TargetAddress
		diff.CurrentScanTime = current[0].ScanTimestamp
	}

	for _, r := range previous {
		if r.State == models.PortOpen {
			diff.OpenPortsBefore++
		}
	}
	for _, r := range current {
		if r.State == models.PortOpen {
			diff.OpenPortsAfter++
		}
	}

	for port, c := range curr {
		p, seen := prev[port]
		if !seen {
			if c.State == models.PortOpen {
				diff.Changes = append(diff.Changes, models.PortChange{
					Port:          port,
					ChangeType:    models.ChangeNewOpen,
					PreviousState: models.PortUnknown,
					CurrentState:  models.PortOpen,
					ServiceName:   c.ServiceName,
				})
			}
			continue
		}
		if p.State == c.State {
			continue
		}
		change := models.PortChange{
			Port:          port,
			PreviousState: p.State,
			CurrentState:  c.State,
			ServiceName:   c.ServiceName,
		}
		switch {
		case c.State == models.PortOpen:
			change.ChangeType = models.ChangeNewOpen
		case p.State == models.PortOpen:
			change.ChangeType = models.ChangeNewClosed
		default:
			change.ChangeType = models.ChangeStateChanged
		}
		diff.Changes = append(diff.Changes, change)
	}

	for port, p := range prev {
		if _, seen := curr[port]; seen {
			continue
		}
		if p.State == models.PortOpen {
			diff.Changes = append(diff.Changes, models.PortChange{
				Port:          port,
				ChangeType:    models.ChangeNewClosed,
				PreviousState: models.PortOpen,
				CurrentState:  models.PortUnknown,
				ServiceName:   p.ServiceName,
			})
		}
	}

	sort.Slice(diff.Changes, func(i, j int) bool {
		return diff.Changes[i].Port < diff.Changes[j].Port
	})
	return diff
}
