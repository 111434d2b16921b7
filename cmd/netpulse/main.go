package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/netpulse/netpulse/internal/alerts"
	"github.com/netpulse/netpulse/internal/api"
	"github.com/netpulse/netpulse/internal/config"
	"github.com/netpulse/netpulse/internal/logging"
	"github.com/netpulse/netpulse/internal/models"
	"github.com/netpulse/netpulse/internal/notifications"
	"github.com/netpulse/netpulse/internal/probe"
	"github.com/netpulse/netpulse/internal/retention"
	"github.com/netpulse/netpulse/internal/scans"
	"github.com/netpulse/netpulse/internal/scheduler"
	"github.com/netpulse/netpulse/internal/snmp"
	"github.com/netpulse/netpulse/internal/storage"
	"github.com/netpulse/netpulse/internal/telemetry"
)

// Version is set at build time via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "netpulse",
	Short:   "NetPulse - host availability and network reachability monitor",
	Long:    `NetPulse continuously probes configured hosts (ICMP echo, TCP port scans, SNMP polling), persists the results, raises alerts against thresholds, and serves everything over an HTTP/JSON API.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("NetPulse %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var metricsAddr string

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address for the Prometheus /metrics listener (disabled when empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "netpulse",
		FilePath:  filepath.Join(cfg.DataDirPath(), "netpulse.log"),
	})
	defer logging.Shutdown()

	log.Info().
		Str("version", Version).
		Str("config", cfg.Path()).
		Msg("netpulse starting")

	secrets, err := config.OpenSecretStore(cfg.DataDirPath())
	if err != nil {
		return fmt.Errorf("open secret store: %w", err)
	}

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	// Retention sweeps on startup, then daily when enabled.
	janitor := retention.NewJanitor(store, cfg.RetentionDays)
	if err := janitor.Start(cfg.AutoCleanup); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}
	defer janitor.Stop()

	dispatcher := notifications.NewWebhookDispatcher(cfg.WebhookURLs, cfg.WebhooksEnabled)
	engine := alerts.NewEngine(store, dispatcher, cfg.AlertThresholds)
	engine.Subscribe(func(a models.Alert) {
		telemetry.AlertsTotal.WithLabelValues(string(a.Severity)).Inc()
	})

	sched := scheduler.New(probe.NewPinger())
	startHost := func(h models.Host) {
		host := h
		sched.StartMonitoring(host, func(result models.PingResult) {
			telemetry.PingsTotal.WithLabelValues(telemetry.Outcome(result.Success)).Inc()
			if _, err := store.InsertPingResult(&result); err != nil {
				log.Error().Err(err).Int64("hostId", host.ID).Msg("persist ping result")
			}
			if err := store.UpdateHostLastChecked(host.ID); err != nil {
				log.Error().Err(err).Int64("hostId", host.ID).Msg("stamp last checked")
			}
			engine.HandlePingResult(host, result)
		})
	}

	hosts, err := store.FindEnabledHosts()
	if err != nil {
		return fmt.Errorf("load hosts: %w", err)
	}
	for _, h := range hosts {
		startHost(h)
	}
	log.Info().Int("hosts", len(hosts)).Msg("host monitoring started")

	// Scheduled port scans share one scanner; diffs feed the alert
	// engine.
	scanner := probe.NewPortScanner()
	scanEngine := scans.NewEngine(store, scanner,
		cfg.PortScan.MaxConcurrency,
		time.Duration(cfg.PortScan.TimeoutMs)*time.Millisecond,
		scans.Callbacks{
			OnScanComplete: func(models.ScheduledScanConfig, []models.PortScanResult) {
				telemetry.PortScansTotal.Inc()
			},
			OnDiff: engine.HandleScanDiff,
		})
	if err := scanEngine.Start(); err != nil {
		return fmt.Errorf("start scan engine: %w", err)
	}
	defer scanEngine.Stop()

	snmpMonitor := snmp.NewMonitor(snmp.NewClient())
	if err := startSnmpMonitoring(store, snmpMonitor); err != nil {
		return fmt.Errorf("start snmp monitoring: %w", err)
	}
	defer snmpMonitor.StopAll()

	watcher := config.NewWatcher(cfg.DataDirPath(), func(next *config.Config) {
		engine.SetThresholds(next.AlertThresholds)
		dispatcher.SetEndpoints(next.WebhookURLs)
		dispatcher.SetEnabled(next.WebhooksEnabled)
		log.Info().Msg("configuration reloaded")
	})
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	if metricsAddr != "" {
		go telemetry.Serve(metricsAddr)
	}

	var httpServer *http.Server
	if cfg.RestAPIEnabled {
		server := &api.Server{
			Store:   store,
			Version: Version,
			Defaults: api.HostDefaults{
				PingIntervalSeconds: cfg.DefaultPingIntervalSeconds,
				WarningThresholdMs:  cfg.DefaultWarningThresholdMs,
				CriticalThresholdMs: cfg.DefaultCriticalThresholdMs,
			},
			HostChanged: func(h models.Host) {
				engine.Forget(h.ID)
				if h.Enabled {
					startHost(h)
				} else {
					sched.StopMonitoring(h.ID)
				}
			},
			HostRemoved: func(id int64) {
				sched.StopMonitoring(id)
				snmpMonitor.StopMonitoring(id)
				engine.Forget(id)
			},
		}
		router := server.Routes(func() string {
			return secrets.Get(config.SecretRestAPIKey)
		})
		httpServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.RestAPIPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info().Int("port", cfg.RestAPIPort).Msg("api listener started")
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("api listener failed")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	sched.StopAll()
	scanner.Cancel()
	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("api shutdown")
		}
	}
	return nil
}

// startSnmpMonitoring installs pollers for every enabled SNMP device
// config, persisting each poll outcome.
func startSnmpMonitoring(store *storage.Store, monitor *snmp.Monitor) error {
	configs, err := store.FindEnabledSnmpDeviceConfigs()
	if err != nil {
		return err
	}
	for _, sc := range configs {
		host, err := store.FindHostByID(sc.HostID)
		if err != nil {
			log.Warn().Err(err).Int64("hostId", sc.HostID).Msg("snmp config references missing host")
			continue
		}
		deviceID := sc.ID
		monitor.StartMonitoring(*host, sc, func(result models.SnmpResult) {
			telemetry.SnmpPollsTotal.WithLabelValues(telemetry.Outcome(result.Success)).Inc()
			if _, err := store.InsertSnmpResult(&result); err != nil {
				log.Error().Err(err).Int64("hostId", result.HostID).Msg("persist snmp result")
			}
			if err := store.MarkSnmpDevicePolled(deviceID); err != nil {
				log.Error().Err(err).Int64("deviceId", deviceID).Msg("stamp snmp poll")
			}
		})
	}
	if len(configs) > 0 {
		log.Info().Int("devices", len(configs)).Msg("snmp monitoring started")
	}
	return nil
}
