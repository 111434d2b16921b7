// Package config loads and persists the NetPulse configuration and its
// companion secret store.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/netpulse/netpulse/internal/models"
	"github.com/rs/zerolog/log"
)

const configFileName = "netpulse.json"

// PortScanDefaults are the initial parameters for interactive scans.
type PortScanDefaults struct {
	PortRange      models.PortRange `json:"portRange"`
	MaxConcurrency int              `json:"maxConcurrency"`
	TimeoutMs      int              `json:"timeoutMs"`
}

// WindowGeometry survives restarts so a desktop frontend can restore
// itself. The server never interprets it.
type WindowGeometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Config is the on-disk configuration. It is written atomically
// (tmp + rename) to <appData>/netpulse.json.
type Config struct {
	DatabasePath string `json:"databasePath"`

	AlertThresholds models.AlertThresholds `json:"alertThresholds"`

	DefaultPingIntervalSeconds int `json:"defaultPingIntervalSeconds"`
	DefaultWarningThresholdMs  int `json:"defaultWarningThresholdMs"`
	DefaultCriticalThresholdMs int `json:"defaultCriticalThresholdMs"`

	RetentionDays int  `json:"retentionDays"`
	AutoCleanup   bool `json:"autoCleanup"`

	PortScan PortScanDefaults `json:"portScan"`

	RestAPIEnabled bool `json:"restApiEnabled"`
	RestAPIPort    int  `json:"restApiPort"`

	DesktopNotifications bool     `json:"desktopNotifications"`
	WebhooksEnabled      bool     `json:"webhooksEnabled"`
	WebhookURLs          []string `json:"webhookUrls"`

	Theme          string         `json:"theme"`
	Window         WindowGeometry `json:"window"`
	MinimizeToTray bool           `json:"minimizeToTray"`
	StartMinimized bool           `json:"startMinimized"`

	LogLevel  string `json:"logLevel"`
	LogFormat string `json:"logFormat"`

	// dataDir is where the config file itself lives. Not serialized.
	dataDir string
}

// Default returns the configuration used when no file exists yet.
func Default(dataDir string) *Config {
	return &Config{
		DatabasePath: filepath.Join(dataDir, "netpulse.db"),
		AlertThresholds: models.AlertThresholds{
			LatencyWarningMs:           200,
			LatencyCriticalMs:          500,
			PacketLossWarningPercent:   10,
			PacketLossCriticalPercent:  25,
			ConsecutiveFailuresForDown: 3,
		},
		DefaultPingIntervalSeconds: 30,
		DefaultWarningThresholdMs:  200,
		DefaultCriticalThresholdMs: 500,
		RetentionDays:              30,
		AutoCleanup:                true,
		PortScan: PortScanDefaults{
			PortRange:      models.PortRangeCommon,
			MaxConcurrency: 100,
			TimeoutMs:      2000,
		},
		RestAPIEnabled:       true,
		RestAPIPort:          8080,
		DesktopNotifications: true,
		WebhooksEnabled:      false,
		Theme:                "system",
		Window:               WindowGeometry{Width: 1280, Height: 800},
		LogLevel:             "info",
		LogFormat:            "auto",
		dataDir:              dataDir,
	}
}

// DataDir resolves the application data directory, honoring
// NETPULSE_DATA_DIR.
func DataDir() (string, error) {
	if dir := os.Getenv("NETPULSE_DATA_DIR"); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(base, "netpulse"), nil
}

// Load reads the config file from the data directory, creating it with
// defaults on first start. A .env file beside the config and process
// environment variables override selected fields.
func Load() (*Config, error) {
	dataDir, err := DataDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(dataDir)
}

// LoadFrom is Load rooted at an explicit data directory.
func LoadFrom(dataDir string) (*Config, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Optional .env beside the config file, teacher-style.
	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("No .env overrides loaded")
	}

	cfg := Default(dataDir)
	path := filepath.Join(dataDir, configFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("write initial config: %w", err)
		}
		log.Info().Str("path", path).Msg("Created default configuration")
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.dataDir = dataDir
	}

	cfg.applyEnvOverrides()
	cfg.normalize()
	return cfg, nil
}

// Path returns the location of the config file.
func (c *Config) Path() string { return filepath.Join(c.dataDir, configFileName) }

// DataDirPath returns the directory holding the config, secrets, database
// and logs.
func (c *Config) DataDirPath() string { return c.dataDir }

// Save writes the config atomically: marshal to a temp file in the same
// directory, fsync, rename over the target.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return atomicWrite(c.Path(), data, 0o600)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NETPULSE_DB_PATH"); v != "" {
		c.DatabasePath = v
	}
	if v := os.Getenv("NETPULSE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 && port < 65536 {
			c.RestAPIPort = port
		} else {
			log.Warn().Str("value", v).Msg("Ignoring invalid NETPULSE_API_PORT")
		}
	}
	if v := os.Getenv("NETPULSE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("NETPULSE_API_ENABLED"); v != "" {
		c.RestAPIEnabled = parseBool(v, c.RestAPIEnabled)
	}
}

// normalize clamps loaded values back into their documented ranges.
func (c *Config) normalize() {
	if c.DefaultPingIntervalSeconds < 1 {
		c.DefaultPingIntervalSeconds = 1
	}
	if c.RetentionDays < 1 {
		c.RetentionDays = 1
	}
	if c.AlertThresholds.ConsecutiveFailuresForDown < 1 {
		c.AlertThresholds.ConsecutiveFailuresForDown = 1
	}
	if c.PortScan.MaxConcurrency < 1 {
		c.PortScan.MaxConcurrency = 1
	}
	if c.PortScan.TimeoutMs < 1 {
		c.PortScan.TimeoutMs = 1000
	}
	if c.RestAPIPort <= 0 || c.RestAPIPort > 65535 {
		c.RestAPIPort = 8080
	}
}

func parseBool(s string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func atomicWrite(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
