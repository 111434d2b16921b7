package snmp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/models"
)

func pollResult(ok bool, rt time.Duration, vbs ...models.SnmpVarBind) models.SnmpResult {
	return models.SnmpResult{Success: ok, ResponseTime: rt, VarBinds: vbs}
}

func TestDeviceStatsAccumulate(t *testing.T) {
	var s DeviceStats

	s.record(pollResult(true, 10*time.Millisecond,
		models.SnmpVarBind{OID: "1.3.6.1.2.1.1.5.0", Type: models.SnmpOctetString, Value: "sw1"}))
	s.record(pollResult(false, 0))
	s.record(pollResult(true, 30*time.Millisecond,
		models.SnmpVarBind{OID: "1.3.6.1.2.1.1.5.0", Type: models.SnmpOctetString, Value: "sw1-renamed"}))

	assert.Equal(t, 3, s.TotalPolls)
	assert.Equal(t, 2, s.SuccessfulPolls)
	assert.Equal(t, 10*time.Millisecond, s.MinResponseTime)
	assert.Equal(t, 30*time.Millisecond, s.MaxResponseTime)
	assert.Equal(t, 20*time.Millisecond, s.AvgResponseTime)
	// Later polls overwrite the last seen value per OID.
	assert.Equal(t, "sw1-renamed", s.LastValues["1.3.6.1.2.1.1.5.0"].Value)
}

func TestDeviceStatsFailedPollLeavesTimings(t *testing.T) {
	var s DeviceStats
	s.record(pollResult(false, 0))

	assert.Equal(t, 1, s.TotalPolls)
	assert.Zero(t, s.SuccessfulPolls)
	assert.Zero(t, s.MinResponseTime)
	assert.Empty(t, s.LastValues)
}

func TestMonitorStatsCopyIsIsolated(t *testing.T) {
	m := NewMonitor(NewClient())
	defer m.StopAll()

	host := models.Host{ID: 5, Address: "192.0.2.10"}
	cfg := models.SnmpDeviceConfig{
		HostID:              5,
		Version:             models.SnmpV2c,
		Credentials:         models.SnmpCredentials{Community: "public"},
		PollIntervalSeconds: 3600,
	}
	m.StartMonitoring(host, cfg, nil)

	m.mu.Lock()
	m.devices[5].stats.record(pollResult(true, time.Millisecond,
		models.SnmpVarBind{OID: "1.3.6.1.2.1.1.3.0", Type: models.SnmpTimeTicks, Value: "1"}))
	m.mu.Unlock()

	stats, ok := m.Stats(5)
	require.True(t, ok)
	assert.Equal(t, 1, stats.TotalPolls)

	// Mutating the copy must not leak back into the monitor.
	stats.LastValues["1.3.6.1.2.1.1.3.0"] = models.SnmpVarBind{Value: "tampered"}
	again, ok := m.Stats(5)
	require.True(t, ok)
	assert.Equal(t, "1", again.LastValues["1.3.6.1.2.1.1.3.0"].Value)

	_, ok = m.Stats(99)
	assert.False(t, ok)
}

func TestReplaceMidPollDropsOrphanedResult(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()
	addr := pc.LocalAddr().(*net.UDPAddr)

	m := NewMonitor(NewClient())
	defer m.StopAll()

	host := models.Host{ID: 3, Address: addr.IP.String()}
	cfg := models.SnmpDeviceConfig{
		HostID:              3,
		Version:             models.SnmpV2c,
		Credentials:         models.SnmpCredentials{Community: "public"},
		OIDs:                []string{"1.3.6.1.2.1.1.3.0"},
		Port:                addr.Port,
		TimeoutMs:           100,
		PollIntervalSeconds: 3600,
	}

	done := make(chan struct{})
	m.StartMonitoring(host, cfg, func(models.SnmpResult) { close(done) })

	// Fire the poll by hand; the silent agent holds it for the timeout,
	// during which the device is replaced.
	go m.poll(3)
	time.Sleep(30 * time.Millisecond)
	m.StartMonitoring(host, cfg, nil)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("orphaned poll never completed")
	}

	// The replacement keeps its own clean statistics.
	stats, ok := m.Stats(3)
	require.True(t, ok)
	assert.Zero(t, stats.TotalPolls)
}

func TestStopMonitoringRemovesDevice(t *testing.T) {
	m := NewMonitor(NewClient())

	host := models.Host{ID: 1, Address: "192.0.2.10"}
	m.StartMonitoring(host, models.SnmpDeviceConfig{PollIntervalSeconds: 3600}, nil)
	_, ok := m.Stats(1)
	require.True(t, ok)

	m.StopMonitoring(1)
	_, ok = m.Stats(1)
	assert.False(t, ok)
}
