// Package telemetry exposes internal counters over a Prometheus
// endpoint on a side listener, separate from the JSON API.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	PingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_pings_total",
		Help: "ICMP probes executed, by outcome.",
	}, []string{"result"})

	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_alerts_total",
		Help: "Alerts emitted, by severity.",
	}, []string{"severity"})

	PortScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "netpulse_port_scans_total",
		Help: "Port scans completed.",
	})

	SnmpPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_snmp_polls_total",
		Help: "SNMP polls executed, by outcome.",
	}, []string{"result"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "netpulse_http_requests_total",
		Help: "API requests served, by method and status code.",
	}, []string{"method", "code"})
)

// Outcome returns the label value for a success flag.
func Outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Serve runs the /metrics endpoint until the listener fails. Intended
// to run in its own goroutine.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("telemetry listener started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("telemetry listener stopped")
	}
}
