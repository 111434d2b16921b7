package scans

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/models"
	"github.com/netpulse/netpulse/internal/probe"
	"github.com/netpulse/netpulse/internal/storage"
)

// Scanner is the port scanner the engine drives. Exactly one scan runs
// at a time; ticks that collide with a running scan are skipped.
type Scanner interface {
	Scanning() bool
	ScanAsync(cfg probe.PortScanConfig, cb probe.ScanCallbacks) error
}

// Callbacks receive engine events. Optional; invoked off the timer
// goroutines.
type Callbacks struct {
	// OnScanComplete fires after every finished scheduled scan with the
	// full result set.
	OnScanComplete func(cfg models.ScheduledScanConfig, results []models.PortScanResult)
	// OnDiff fires when a scan differs from the previous run of the
	// same schedule, after the diff has been persisted.
	OnDiff func(cfg models.ScheduledScanConfig, diff models.PortScanDiff)
}

type scheduledItem struct {
	config      models.ScheduledScanConfig
	timer       *time.Timer
	lastResults []models.PortScanResult
	active      bool
}

// Engine owns one timer per enabled schedule and persists results and
// diffs as scans complete.
type Engine struct {
	store          *storage.Store
	scanner        Scanner
	callbacks      Callbacks
	maxConcurrency int
	timeout        time.Duration

	mu    sync.Mutex
	items map[int64]*scheduledItem
}

func NewEngine(store *storage.Store, scanner Scanner, maxConcurrency int, timeout time.Duration, cb Callbacks) *Engine {
	return &Engine{
		store:          store,
		scanner:        scanner,
		callbacks:      cb,
		maxConcurrency: maxConcurrency,
		timeout:        timeout,
		items:          make(map[int64]*scheduledItem),
	}
}

// Start installs timers for every enabled schedule.
func (e *Engine) Start() error {
	configs, err := e.store.FindEnabledScheduledScans()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		e.Schedule(cfg)
	}
	log.Info().Int("schedules", len(configs)).Msg("scheduled scan engine started")
	return nil
}

// Stop cancels every schedule.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, item := range e.items {
		item.active = false
		item.timer.Stop()
		delete(e.items, id)
	}
}

// Schedule installs or replaces the timer for one schedule.
func (e *Engine) Schedule(cfg models.ScheduledScanConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if prev, ok := e.items[cfg.ID]; ok {
		prev.active = false
		prev.timer.Stop()
	}
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	item := &scheduledItem{config: cfg, active: true}
	item.timer = time.AfterFunc(interval, func() { e.tick(cfg.ID) })
	e.items[cfg.ID] = item

	log.Debug().
		Int64("scheduleId", cfg.ID).
		Str("target", cfg.TargetAddress).
		Dur("interval", interval).
		Msg("scan schedule installed")
}

// Unschedule cancels one schedule.
func (e *Engine) Unschedule(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if item, ok := e.items[id]; ok {
		item.active = false
		item.timer.Stop()
		delete(e.items, id)
	}
}

func (e *Engine) tick(id int64) {
	e.mu.Lock()
	item, ok := e.items[id]
	if !ok || !item.active {
		e.mu.Unlock()
		return
	}
	cfg := item.config
	e.mu.Unlock()

	// The shared scanner admits one scan at a time. Skip this tick and
	// try again a full interval later.
	if e.scanner.Scanning() {
		log.Debug().Int64("scheduleId", id).Msg("scanner busy, skipping tick")
		e.reschedule(id, item)
		return
	}

	scanCfg := probe.PortScanConfig{
		TargetAddress:  cfg.TargetAddress,
		PortRange:      cfg.PortRange,
		CustomPorts:    cfg.CustomPorts,
		MaxConcurrency: e.maxConcurrency,
		Timeout:        e.timeout,
	}
	err := e.scanner.ScanAsync(scanCfg, probe.ScanCallbacks{
		OnComplete: func(results []models.PortScanResult) {
			e.scanFinished(id, item, cfg, results)
		},
	})
	if err != nil {
		log.Warn().Err(err).Int64("scheduleId", id).Msg("scheduled scan rejected")
		e.reschedule(id, item)
	}
}

func (e *Engine) scanFinished(id int64, item *scheduledItem, cfg models.ScheduledScanConfig, results []models.PortScanResult) {
	if err := e.store.InsertPortScanResults(results); err != nil {
		log.Error().Err(err).Str("target", cfg.TargetAddress).Msg("persist scan results")
	}
	if err := e.store.MarkScheduledScanRun(id, cfg.IntervalMinutes); err != nil {
		log.Error().Err(err).Int64("scheduleId", id).Msg("stamp schedule run")
	}

	// Baseline bookkeeping only while this scan still owns the entry. A
	// schedule replaced mid-scan starts from a clean baseline and runs
	// its own timer chain.
	e.mu.Lock()
	cur, ok := e.items[id]
	owned := ok && cur == item
	var previous []models.PortScanResult
	if owned {
		previous = item.lastResults
		item.lastResults = results
	}
	e.mu.Unlock()

	if e.callbacks.OnScanComplete != nil {
		e.callbacks.OnScanComplete(cfg, results)
	}

	if len(previous) > 0 {
		diff := ComputeDiff(previous, results)
		if len(diff.Changes) > 0 {
			if _, err := e.store.InsertPortScanDiff(&diff); err != nil {
				log.Error().Err(err).Str("target", cfg.TargetAddress).Msg("persist scan diff")
			}
			if e.callbacks.OnDiff != nil {
				e.callbacks.OnDiff(cfg, diff)
			}
		}
	}

	e.reschedule(id, item)
}

// reschedule re-arms the timer only when item is still the installed
// entry for the schedule.
func (e *Engine) reschedule(id int64, item *scheduledItem) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.items[id]; ok && cur == item && cur.active {
		interval := time.Duration(cur.config.IntervalMinutes) * time.Minute
		cur.timer = time.AfterFunc(interval, func() { e.tick(id) })
	}
}
