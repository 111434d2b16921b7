// Package retention deletes aged time-series rows on startup and,
// when auto cleanup is enabled, on a daily schedule.
package retention

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/storage"
)

// Janitor sweeps ping results, alerts, port scan results, SNMP results
// and scan diffs past the retention window.
type Janitor struct {
	store  *storage.Store
	maxAge time.Duration
	cron   *cron.Cron
}

func NewJanitor(store *storage.Store, retentionDays int) *Janitor {
	return &Janitor{
		store:  store,
		maxAge: time.Duration(retentionDays) * 24 * time.Hour,
	}
}

// Start runs one sweep immediately and, when autoCleanup is set,
// installs a daily cron entry.
func (j *Janitor) Start(autoCleanup bool) error {
	j.Sweep()
	if !autoCleanup {
		return nil
	}
	j.cron = cron.New()
	if _, err := j.cron.AddFunc("@daily", j.Sweep); err != nil {
		return err
	}
	j.cron.Start()
	log.Info().Dur("maxAge", j.maxAge).Msg("daily retention sweep scheduled")
	return nil
}

// Stop cancels the daily schedule and waits for a running sweep.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep deletes everything older than the retention window.
func (j *Janitor) Sweep() {
	if j.maxAge <= 0 {
		return
	}
	type cleanup struct {
		name string
		fn   func(time.Duration) (int64, error)
	}
	for _, c := range []cleanup{
		{"ping_results", j.store.CleanupPingResultsOlderThan},
		{"alerts", j.store.CleanupAlertsOlderThan},
		{"port_scan_results", j.store.CleanupPortScanResultsOlderThan},
		{"snmp_results", j.store.CleanupSnmpResultsOlderThan},
		{"port_scan_diffs", j.store.CleanupPortScanDiffsOlderThan},
	} {
		n, err := c.fn(j.maxAge)
		if err != nil {
			log.Error().Err(err).Str("table", c.name).Msg("retention sweep failed")
			continue
		}
		if n > 0 {
			log.Info().Str("table", c.name).Int64("deleted", n).Msg("retention sweep")
		}
	}
}
