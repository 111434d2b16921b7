package snmp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/models"
)

// PollCallback receives each poll outcome. Callbacks run on timer
// goroutines and must not block.
type PollCallback func(models.SnmpResult)

// DeviceStats accumulates per-device poll statistics.
type DeviceStats struct {
	TotalPolls      int
	SuccessfulPolls int
	MinResponseTime time.Duration
	MaxResponseTime time.Duration
	AvgResponseTime time.Duration
	LastValues      map[string]models.SnmpVarBind

	totalResponse time.Duration
}

func (s *DeviceStats) record(r models.SnmpResult) {
	s.TotalPolls++
	if !r.Success {
		return
	}
	s.SuccessfulPolls++
	s.totalResponse += r.ResponseTime
	if s.SuccessfulPolls == 1 || r.ResponseTime < s.MinResponseTime {
		s.MinResponseTime = r.ResponseTime
	}
	if r.ResponseTime > s.MaxResponseTime {
		s.MaxResponseTime = r.ResponseTime
	}
	s.AvgResponseTime = s.totalResponse / time.Duration(s.SuccessfulPolls)
	if s.LastValues == nil {
		s.LastValues = make(map[string]models.SnmpVarBind)
	}
	for _, vb := range r.VarBinds {
		s.LastValues[vb.OID] = vb
	}
}

type monitoredDevice struct {
	host     models.Host
	config   models.SnmpDeviceConfig
	callback PollCallback
	timer    *time.Timer
	active   bool
	stats    DeviceStats
}

// Monitor schedules recurring SNMP GETs against configured devices.
type Monitor struct {
	client *Client

	mu      sync.Mutex
	devices map[int64]*monitoredDevice
}

func NewMonitor(client *Client) *Monitor {
	return &Monitor{
		client:  client,
		devices: make(map[int64]*monitoredDevice),
	}
}

// StartMonitoring installs a device and schedules its first poll one
// interval out. A device already registered under the same host id is
// replaced; its pending timer is cancelled first.
func (m *Monitor) StartMonitoring(host models.Host, config models.SnmpDeviceConfig, cb PollCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.devices[host.ID]; ok {
		prev.active = false
		prev.timer.Stop()
	}

	interval := time.Duration(config.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	d := &monitoredDevice{host: host, config: config, callback: cb, active: true}
	d.timer = time.AfterFunc(interval, func() { m.poll(host.ID) })
	m.devices[host.ID] = d

	log.Info().
		Int64("hostId", host.ID).
		Str("address", host.Address).
		Str("version", config.Version.String()).
		Dur("interval", interval).
		Msg("snmp monitoring started")
}

// StopMonitoring deactivates one device.
func (m *Monitor) StopMonitoring(hostID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[hostID]; ok {
		d.active = false
		d.timer.Stop()
		delete(m.devices, hostID)
	}
}

// StopAll deactivates every device.
func (m *Monitor) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.devices {
		d.active = false
		d.timer.Stop()
		delete(m.devices, id)
	}
}

// Stats returns a copy of the accumulated statistics for a device.
func (m *Monitor) Stats(hostID int64) (DeviceStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[hostID]
	if !ok {
		return DeviceStats{}, false
	}
	stats := d.stats
	stats.LastValues = make(map[string]models.SnmpVarBind, len(d.stats.LastValues))
	for k, v := range d.stats.LastValues {
		stats.LastValues[k] = v
	}
	return stats, true
}

func (m *Monitor) poll(hostID int64) {
	m.mu.Lock()
	d, ok := m.devices[hostID]
	if !ok || !d.active {
		m.mu.Unlock()
		return
	}
	host := d.host
	config := d.config
	cb := d.callback
	m.mu.Unlock()

	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout*time.Duration(config.Retries+1)+time.Second)
	result, err := m.client.Get(ctx, host.Address, config.OIDs, &config)
	cancel()
	if err != nil {
		result.Success = false
		result.ErrorMessage = err.Error()
	}
	result.HostID = host.ID

	// Record and re-arm only while this poll still owns the entry; a
	// device replaced mid-poll already has its own timer chain and must
	// not inherit this result.
	m.mu.Lock()
	if cur, ok := m.devices[hostID]; ok && cur == d && cur.active {
		cur.stats.record(result)
		interval := time.Duration(config.PollIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 60 * time.Second
		}
		cur.timer = time.AfterFunc(interval, func() { m.poll(hostID) })
	}
	m.mu.Unlock()

	if cb != nil {
		cb(result)
	}
}
