package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// migrations are applied in order, each exactly once, each under its own
// transaction. The schema_migrations table is the single source of truth
// for the applied version. Entries are additive only: never edit or
// reorder a shipped migration.
var migrations = []string{
	// 1: hosts
	`CREATE TABLE hosts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL UNIQUE,
		ping_interval_seconds INTEGER NOT NULL DEFAULT 30,
		warning_threshold_ms INTEGER NOT NULL DEFAULT 200,
		critical_threshold_ms INTEGER NOT NULL DEFAULT 500,
		status TEXT NOT NULL DEFAULT 'unknown',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		last_checked TEXT
	)`,

	// 2: ping_results
	`CREATE TABLE ping_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id INTEGER NOT NULL REFERENCES hosts(id) ON DELETE CASCADE,
		timestamp TEXT NOT NULL,
		latency_us INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		ttl INTEGER,
		error_message TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_ping_results_host ON ping_results(host_id);
	CREATE INDEX idx_ping_results_time ON ping_results(timestamp)`,

	// 3: alerts
	`CREATE TABLE alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id INTEGER NOT NULL,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_alerts_time ON alerts(timestamp)`,

	// 4: port_scan_results
	`CREATE TABLE port_scan_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_address TEXT NOT NULL,
		port INTEGER NOT NULL,
		state TEXT NOT NULL,
		service_name TEXT NOT NULL DEFAULT '',
		scan_timestamp TEXT NOT NULL
	);
	CREATE INDEX idx_port_scan_results_target ON port_scan_results(target_address)`,

	// 5: host_groups, and group membership on hosts
	`CREATE TABLE host_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		parent_id INTEGER REFERENCES host_groups(id) ON DELETE SET NULL,
		created_at TEXT NOT NULL
	);
	ALTER TABLE hosts ADD COLUMN group_id INTEGER REFERENCES host_groups(id) ON DELETE SET NULL`,

	// 6: scheduled_scans
	`CREATE TABLE scheduled_scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		target_address TEXT NOT NULL,
		port_range TEXT NOT NULL,
		custom_ports TEXT NOT NULL DEFAULT '',
		interval_minutes INTEGER NOT NULL DEFAULT 60,
		enabled INTEGER NOT NULL DEFAULT 1,
		notify_on_changes INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		last_run_at TEXT,
		next_run_at TEXT
	)`,

	// 7: port_scan_diffs
	`CREATE TABLE port_scan_diffs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		target_address TEXT NOT NULL,
		previous_scan_time TEXT NOT NULL,
		current_scan_time TEXT NOT NULL,
		changes TEXT NOT NULL DEFAULT '[]',
		total_ports_scanned INTEGER NOT NULL DEFAULT 0,
		open_ports_before INTEGER NOT NULL DEFAULT 0,
		open_ports_after INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_port_scan_diffs_target ON port_scan_diffs(target_address)`,

	// 8: SNMP device configs, results and per-result varbinds
	`CREATE TABLE snmp_device_configs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id INTEGER NOT NULL UNIQUE REFERENCES hosts(id) ON DELETE CASCADE,
		version INTEGER NOT NULL DEFAULT 1,
		community TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL DEFAULT '',
		security_level TEXT NOT NULL DEFAULT '',
		auth_protocol TEXT NOT NULL DEFAULT '',
		auth_password TEXT NOT NULL DEFAULT '',
		priv_protocol TEXT NOT NULL DEFAULT '',
		priv_password TEXT NOT NULL DEFAULT '',
		context_name TEXT NOT NULL DEFAULT '',
		context_engine_id TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL DEFAULT 161,
		timeout_ms INTEGER NOT NULL DEFAULT 2000,
		retries INTEGER NOT NULL DEFAULT 1,
		poll_interval_seconds INTEGER NOT NULL DEFAULT 60,
		oids TEXT NOT NULL DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		last_polled TEXT
	);
	CREATE TABLE snmp_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host_id INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		version INTEGER NOT NULL,
		response_time_us INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		error_status INTEGER NOT NULL DEFAULT 0,
		error_index INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX idx_snmp_results_host ON snmp_results(host_id);
	CREATE INDEX idx_snmp_results_time ON snmp_results(timestamp);
	CREATE TABLE snmp_varbinds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		result_id INTEGER NOT NULL REFERENCES snmp_results(id) ON DELETE CASCADE,
		oid TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		int_value INTEGER,
		counter_value INTEGER
	);
	CREATE INDEX idx_snmp_varbinds_result ON snmp_varbinds(result_id)`,
}

// migrate applies any pending migrations in order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		err := s.transaction(func(tx *sql.Tx) error {
			if _, err := tx.Exec(migrations[i]); err != nil {
				return fmt.Errorf("apply migration %d: %w", version, err)
			}
			if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				version, fmtTime(time.Now())); err != nil {
				return fmt.Errorf("record migration %d: %w", version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		log.Debug().Int("version", version).Msg("Applied migration")
	}

	if current < len(migrations) {
		log.Info().Int("from", current).Int("to", len(migrations)).Msg("Schema migrated")
	}
	return nil
}

// SchemaVersion reports the highest applied migration version.
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}
