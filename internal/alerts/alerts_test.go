package alerts

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/models"
	"github.com/netpulse/netpulse/internal/storage"
)

type captureDispatcher struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (d *captureDispatcher) Dispatch(a models.Alert, _ string) {
	d.mu.Lock()
	d.alerts = append(d.alerts, a)
	d.mu.Unlock()
}

func (d *captureDispatcher) types() []models.AlertType {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.AlertType, 0, len(d.alerts))
	for _, a := range d.alerts {
		out = append(out, a.Type)
	}
	return out
}

func testThresholds() models.AlertThresholds {
	return models.AlertThresholds{
		LatencyWarningMs:           200,
		LatencyCriticalMs:          500,
		PacketLossWarningPercent:   10,
		PacketLossCriticalPercent:  25,
		ConsecutiveFailuresForDown: 3,
	}
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store, *captureDispatcher, models.Host) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	host := models.Host{
		Name:                "gw",
		Address:             "192.168.0.1",
		PingIntervalSeconds: 30,
		Enabled:             true,
	}
	_, err = store.InsertHost(&host)
	require.NoError(t, err)

	dispatcher := &captureDispatcher{}
	return NewEngine(store, dispatcher, testThresholds()), store, dispatcher, host
}

func success(latency time.Duration) models.PingResult {
	return models.PingResult{Success: true, Latency: latency, Timestamp: time.Now()}
}

func failure() models.PingResult {
	return models.PingResult{Success: false, ErrorMessage: "receive timeout", Timestamp: time.Now()}
}

func TestHostDownAfterConsecutiveFailures(t *testing.T) {
	engine, store, dispatcher, host := newTestEngine(t)

	engine.HandlePingResult(host, failure())
	engine.HandlePingResult(host, failure())
	assert.Empty(t, dispatcher.types(), "no alert before the threshold")

	engine.HandlePingResult(host, failure())
	require.Equal(t, []models.AlertType{models.AlertHostDown}, dispatcher.types())

	// Further failures while down do not repeat the alert.
	engine.HandlePingResult(host, failure())
	engine.HandlePingResult(host, failure())
	assert.Len(t, dispatcher.types(), 1)

	got, err := store.FindHostByID(host.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HostStatusDown, got.Status)

	persisted, err := store.GetAlerts(10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, models.AlertHostDown, persisted[0].Type)
	assert.Equal(t, models.SeverityCritical, persisted[0].Severity)
}

func TestRecoveryEmitsInfoAlert(t *testing.T) {
	engine, store, dispatcher, host := newTestEngine(t)

	for i := 0; i < 3; i++ {
		engine.HandlePingResult(host, failure())
	}
	engine.HandlePingResult(host, success(50*time.Millisecond))

	require.Equal(t, []models.AlertType{models.AlertHostDown, models.AlertHostRecovered}, dispatcher.types())

	got, err := store.FindHostByID(host.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HostStatusUp, got.Status)

	// The failure counter reset: two more failures stay quiet.
	engine.HandlePingResult(host, failure())
	engine.HandlePingResult(host, failure())
	assert.Len(t, dispatcher.types(), 2)
}

func TestHighLatencySeverities(t *testing.T) {
	engine, _, dispatcher, host := newTestEngine(t)

	engine.HandlePingResult(host, success(100*time.Millisecond))
	assert.Empty(t, dispatcher.types())

	engine.HandlePingResult(host, success(300*time.Millisecond))
	engine.HandlePingResult(host, success(600*time.Millisecond))

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.alerts, 2)
	assert.Equal(t, models.AlertHighLatency, dispatcher.alerts[0].Type)
	assert.Equal(t, models.SeverityWarning, dispatcher.alerts[0].Severity)
	assert.Equal(t, models.AlertHighLatency, dispatcher.alerts[1].Type)
	assert.Equal(t, models.SeverityCritical, dispatcher.alerts[1].Severity)
}

func TestInterruptedFailureRunStaysQuiet(t *testing.T) {
	engine, _, dispatcher, host := newTestEngine(t)

	engine.HandlePingResult(host, failure())
	engine.HandlePingResult(host, failure())
	engine.HandlePingResult(host, success(50*time.Millisecond))
	engine.HandlePingResult(host, failure())
	engine.HandlePingResult(host, failure())
	assert.Empty(t, dispatcher.types())

	engine.HandlePingResult(host, failure())
	assert.Equal(t, []models.AlertType{models.AlertHostDown}, dispatcher.types())
}

func TestSubscribersRunAfterDispatch(t *testing.T) {
	engine, _, dispatcher, host := newTestEngine(t)

	var order []string
	engine.Subscribe(func(a models.Alert) {
		dispatcher.mu.Lock()
		dispatched := len(dispatcher.alerts)
		dispatcher.mu.Unlock()
		if dispatched > 0 {
			order = append(order, "after-dispatch")
		}
	})

	for i := 0; i < 3; i++ {
		engine.HandlePingResult(host, failure())
	}
	assert.Equal(t, []string{"after-dispatch"}, order)
}

func TestThresholdUpdateTakesEffect(t *testing.T) {
	engine, _, dispatcher, host := newTestEngine(t)

	thresholds := testThresholds()
	thresholds.ConsecutiveFailuresForDown = 2
	engine.SetThresholds(thresholds)

	engine.HandlePingResult(host, failure())
	engine.HandlePingResult(host, failure())
	assert.Equal(t, []models.AlertType{models.AlertHostDown}, dispatcher.types())
}

func TestScanDiffAlertHonorsNotifyFlag(t *testing.T) {
	engine, store, dispatcher, _ := newTestEngine(t)

	diff := models.PortScanDiff{
		TargetAddress: "10.0.0.9",
		Changes: []models.PortChange{
			{Port: 22, ChangeType: models.ChangeNewOpen, PreviousState: models.PortUnknown, CurrentState: models.PortOpen},
		},
		OpenPortsBefore: 0,
		OpenPortsAfter:  1,
	}

	engine.HandleScanDiff(models.ScheduledScanConfig{Name: "quiet", NotifyOnChanges: false}, diff)
	assert.Empty(t, dispatcher.types())

	engine.HandleScanDiff(models.ScheduledScanConfig{Name: "loud", NotifyOnChanges: true}, diff)
	require.Equal(t, []models.AlertType{models.AlertScanComplete}, dispatcher.types())

	persisted, err := store.GetAlerts(10)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Contains(t, persisted[0].Message, "10.0.0.9")
}
