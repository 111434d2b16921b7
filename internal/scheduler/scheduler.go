// Package scheduler drives recurring ICMP probes for every enabled
// host.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/netpulse/netpulse/internal/models"
)

// receiveTimeout caps how long one probe may wait for a reply
// regardless of the configured interval.
const receiveTimeout = 5 * time.Second

// Pinger is the probe the scheduler runs on every tick.
type Pinger interface {
	Ping(address string, timeout time.Duration) models.PingResult
}

// ResultCallback receives each probe outcome stamped with the host id.
// Callbacks run on timer goroutines; the scheduler does not wait for
// them before rescheduling, and they must not block.
type ResultCallback func(models.PingResult)

type monitoredHost struct {
	host     models.Host
	callback ResultCallback
	timer    *time.Timer
	active   bool
}

// Scheduler owns one timer per monitored host.
type Scheduler struct {
	pinger Pinger

	mu    sync.Mutex
	hosts map[int64]*monitoredHost
}

func New(pinger Pinger) *Scheduler {
	return &Scheduler{
		pinger: pinger,
		hosts:  make(map[int64]*monitoredHost),
	}
}

// StartMonitoring installs a host and schedules its first probe one
// interval out. An existing entry for the same id is cancelled and
// replaced.
func (s *Scheduler) StartMonitoring(host models.Host, cb ResultCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.hosts[host.ID]; ok {
		prev.active = false
		prev.timer.Stop()
	}

	interval := time.Duration(host.PingIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	mh := &monitoredHost{host: host, callback: cb, active: true}
	mh.timer = time.AfterFunc(interval, func() { s.tick(host.ID) })
	s.hosts[host.ID] = mh

	log.Debug().
		Int64("hostId", host.ID).
		Str("address", host.Address).
		Dur("interval", interval).
		Msg("host monitoring started")
}

// StopMonitoring clears the active flag and cancels the pending timer.
func (s *Scheduler) StopMonitoring(hostID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mh, ok := s.hosts[hostID]; ok {
		mh.active = false
		mh.timer.Stop()
		delete(s.hosts, hostID)
		log.Debug().Int64("hostId", hostID).Msg("host monitoring stopped")
	}
}

// StopAll cancels every monitored host.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, mh := range s.hosts {
		mh.active = false
		mh.timer.Stop()
		delete(s.hosts, id)
	}
}

// Monitoring reports whether the host currently has an active timer.
func (s *Scheduler) Monitoring(hostID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	mh, ok := s.hosts[hostID]
	return ok && mh.active
}

func (s *Scheduler) tick(hostID int64) {
	s.mu.Lock()
	mh, ok := s.hosts[hostID]
	if !ok || !mh.active {
		s.mu.Unlock()
		return
	}
	host := mh.host
	cb := mh.callback
	s.mu.Unlock()

	result := s.pinger.Ping(host.Address, receiveTimeout)
	result.HostID = host.ID

	// Re-arm only while this tick still owns the entry. A replacement
	// that happened mid-probe already has its own timer chain; re-arming
	// here would run two chains against the host.
	s.mu.Lock()
	if cur, ok := s.hosts[hostID]; ok && cur == mh && cur.active {
		interval := time.Duration(host.PingIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		cur.timer = time.AfterFunc(interval, func() { s.tick(hostID) })
	}
	s.mu.Unlock()

	if cb != nil {
		cb(result)
	}
}
