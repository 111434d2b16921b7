// Package alerts turns probe results into alerts. The engine owns the
// per-host failure counters and the host status column; no other
// component writes host status.
package alerts

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/models"
	"github.com/netpulse/netpulse/internal/storage"
)

// packetLossWindow is the sample count statistics are computed over
// when checking loss thresholds, and the cadence of those checks.
const packetLossWindow = 20

// Dispatcher delivers alerts to outbound channels. Delivery is fire and
// forget; the engine never waits for it.
type Dispatcher interface {
	Dispatch(alert models.Alert, hostName string)
}

// Subscriber receives every emitted alert after persistence and
// dispatch. Subscribers must not block.
type Subscriber func(models.Alert)

type hostState struct {
	consecutiveFailures int
	wasDown             bool
	resultsSinceCheck   int
	lossAlertSeverity   models.AlertSeverity // "" when no loss alert is outstanding
}

// Engine evaluates ping results against the global thresholds.
type Engine struct {
	store      *storage.Store
	dispatcher Dispatcher

	mu          sync.Mutex
	thresholds  models.AlertThresholds
	hosts       map[int64]*hostState
	subscribers []Subscriber
}

func NewEngine(store *storage.Store, dispatcher Dispatcher, thresholds models.AlertThresholds) *Engine {
	return &Engine{
		store:      store,
		dispatcher: dispatcher,
		thresholds: thresholds,
		hosts:      make(map[int64]*hostState),
	}
}

// SetThresholds replaces the global thresholds; takes effect on the
// next evaluation.
func (e *Engine) SetThresholds(t models.AlertThresholds) {
	e.mu.Lock()
	e.thresholds = t
	e.mu.Unlock()
}

// Subscribe registers a callback for every emitted alert.
func (e *Engine) Subscribe(s Subscriber) {
	e.mu.Lock()
	e.subscribers = append(e.subscribers, s)
	e.mu.Unlock()
}

// Forget drops the tracked state for a host, for use after deletion.
func (e *Engine) Forget(hostID int64) {
	e.mu.Lock()
	delete(e.hosts, hostID)
	e.mu.Unlock()
}

// HandlePingResult runs the alert state machine for one probe outcome.
func (e *Engine) HandlePingResult(host models.Host, result models.PingResult) {
	e.mu.Lock()
	t := e.thresholds
	st, ok := e.hosts[host.ID]
	if !ok {
		st = &hostState{}
		e.hosts[host.ID] = st
	}

	var emits []models.Alert
	var status models.HostStatus

	if result.Success {
		latencyMs := result.Latency.Milliseconds()
		status = models.HostStatusUp
		switch {
		case t.LatencyCriticalMs > 0 && latencyMs >= int64(t.LatencyCriticalMs):
			status = models.HostStatusWarning
			emits = append(emits, models.Alert{
				HostID:   host.ID,
				Type:     models.AlertHighLatency,
				Severity: models.SeverityCritical,
				Title:    "High Latency",
				Message:  fmt.Sprintf("%s (%s) responded in %d ms, above the critical threshold of %d ms", host.Name, host.Address, latencyMs, t.LatencyCriticalMs),
			})
		case t.LatencyWarningMs > 0 && latencyMs >= int64(t.LatencyWarningMs):
			status = models.HostStatusWarning
			emits = append(emits, models.Alert{
				HostID:   host.ID,
				Type:     models.AlertHighLatency,
				Severity: models.SeverityWarning,
				Title:    "High Latency",
				Message:  fmt.Sprintf("%s (%s) responded in %d ms, above the warning threshold of %d ms", host.Name, host.Address, latencyMs, t.LatencyWarningMs),
			})
		}
		if st.wasDown {
			st.wasDown = false
			st.consecutiveFailures = 0
			emits = append(emits, models.Alert{
				HostID:   host.ID,
				Type:     models.AlertHostRecovered,
				Severity: models.SeverityInfo,
				Title:    "Host Recovered",
				Message:  fmt.Sprintf("%s (%s) is responding again", host.Name, host.Address),
			})
		}
		st.consecutiveFailures = 0
	} else {
		st.consecutiveFailures++
		if st.consecutiveFailures == t.ConsecutiveFailuresForDown && !st.wasDown {
			st.wasDown = true
			status = models.HostStatusDown
			emits = append(emits, models.Alert{
				HostID:   host.ID,
				Type:     models.AlertHostDown,
				Severity: models.SeverityCritical,
				Title:    "Host Down",
				Message:  fmt.Sprintf("%s (%s) failed %d consecutive pings", host.Name, host.Address, st.consecutiveFailures),
			})
		}
	}

	st.resultsSinceCheck++
	checkLoss := st.resultsSinceCheck >= packetLossWindow
	if checkLoss {
		st.resultsSinceCheck = 0
	}
	e.mu.Unlock()

	if status != "" && status != host.Status {
		if err := e.store.UpdateHostStatus(host.ID, status); err != nil {
			log.Error().Err(err).Int64("hostId", host.ID).Msg("update host status")
		}
	}
	for _, a := range emits {
		e.emit(a, host.Name)
	}
	if checkLoss {
		e.checkPacketLoss(host, t)
	}
}

// checkPacketLoss evaluates loss over the recent sample window,
// emitting once per excursion above a threshold and rearming when loss
// falls back under the warning level.
func (e *Engine) checkPacketLoss(host models.Host, t models.AlertThresholds) {
	stats, err := e.store.GetStatistics(host.ID, packetLossWindow)
	if err != nil {
		log.Error().Err(err).Int64("hostId", host.ID).Msg("compute loss statistics")
		return
	}
	if stats.TotalPings < packetLossWindow {
		return
	}

	var severity models.AlertSeverity
	switch {
	case t.PacketLossCriticalPercent > 0 && stats.PacketLossPercent >= t.PacketLossCriticalPercent:
		severity = models.SeverityCritical
	case t.PacketLossWarningPercent > 0 && stats.PacketLossPercent >= t.PacketLossWarningPercent:
		severity = models.SeverityWarning
	}

	e.mu.Lock()
	st := e.hosts[host.ID]
	if st == nil {
		e.mu.Unlock()
		return
	}
	fire := severity != "" && st.lossAlertSeverity != severity
	st.lossAlertSeverity = severity
	e.mu.Unlock()

	if !fire {
		return
	}
	e.emit(models.Alert{
		HostID:   host.ID,
		Type:     models.AlertPacketLoss,
		Severity: severity,
		Title:    "Packet Loss",
		Message:  fmt.Sprintf("%s (%s) lost %.1f%% of the last %d pings", host.Name, host.Address, stats.PacketLossPercent, stats.TotalPings),
	}, host.Name)
}

// HandleScanDiff emits an informational alert describing port state
// changes found by a scheduled scan.
func (e *Engine) HandleScanDiff(cfg models.ScheduledScanConfig, diff models.PortScanDiff) {
	if !cfg.NotifyOnChanges {
		return
	}
	e.emit(models.Alert{
		Type:     models.AlertScanComplete,
		Severity: models.SeverityWarning,
		Title:    "Port Changes Detected",
		Message: fmt.Sprintf("%s: %d port state changes (open ports %d -> %d)",
			diff.TargetAddress, len(diff.Changes), diff.OpenPortsBefore, diff.OpenPortsAfter),
	}, cfg.Name)
}

// emit persists the alert, then dispatches it, then notifies
// subscribers, in that order.
func (e *Engine) emit(a models.Alert, hostName string) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	if _, err := e.store.InsertAlert(&a); err != nil {
		log.Error().Err(err).Str("type", string(a.Type)).Msg("persist alert")
	}
	log.Info().
		Str("type", string(a.Type)).
		Str("severity", string(a.Severity)).
		Int64("hostId", a.HostID).
		Msg(a.Message)

	if e.dispatcher != nil {
		e.dispatcher.Dispatch(a, hostName)
	}

	e.mu.Lock()
	subs := append([]Subscriber(nil), e.subscribers...)
	e.mu.Unlock()
	for _, s := range subs {
		s(a)
	}
}
