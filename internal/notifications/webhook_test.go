package notifications

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netpulse/netpulse/internal/models"
)

func testAlert() models.Alert {
	return models.Alert{
		ID:        7,
		HostID:    3,
		Type:      models.AlertHostDown,
		Severity:  models.SeverityCritical,
		Title:     "Host Down",
		Message:   "gw unreachable",
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatchDeliversPayload(t *testing.T) {
	var got atomic.Pointer[webhookPayload]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p webhookPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		got.Store(&p)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher([]string{srv.URL}, true)
	d.Dispatch(testAlert(), "gw")

	waitFor(t, func() bool { return got.Load() != nil })
	p := got.Load()
	assert.EqualValues(t, 7, p.ID)
	assert.Equal(t, "gw", p.HostName)
	assert.Equal(t, "host_down", p.Type)
	assert.Equal(t, "critical", p.Severity)
	assert.EqualValues(t, testAlert().Timestamp.Unix(), p.Timestamp)
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := NewWebhookDispatcher([]string{srv.URL}, true)
	d.backoff = time.Millisecond
	d.Dispatch(testAlert(), "gw")

	waitFor(t, func() bool { return hits.Load() == 3 })
	// Delivery succeeded on the third attempt; no further requests.
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 3, hits.Load())
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher([]string{srv.URL}, true)
	d.backoff = time.Millisecond
	d.Dispatch(testAlert(), "gw")

	waitFor(t, func() bool { return hits.Load() == maxAttempts })
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, maxAttempts, hits.Load())
}

func TestDispatchDisabledSendsNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher([]string{srv.URL}, false)
	d.Dispatch(testAlert(), "gw")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, hits.Load())

	// Re-enable at runtime.
	d.SetEnabled(true)
	d.Dispatch(testAlert(), "gw")
	waitFor(t, func() bool { return hits.Load() == 1 })
}

func TestSetEndpointsFansOut(t *testing.T) {
	var a, b atomic.Int32
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { a.Add(1) }))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { b.Add(1) }))
	defer srvB.Close()

	d := NewWebhookDispatcher(nil, true)
	d.SetEndpoints([]string{srvA.URL, srvB.URL})
	d.Dispatch(testAlert(), "gw")

	waitFor(t, func() bool { return a.Load() == 1 && b.Load() == 1 })
}
