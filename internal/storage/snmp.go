package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/models"
)

const snmpConfigColumns = `id, host_id, version, community, username, security_level,
	auth_protocol, auth_password, priv_protocol, priv_password, context_name,
	context_engine_id, port, timeout_ms, retries, poll_interval_seconds, oids,
	enabled, created_at, last_polled`

// InsertSnmpDeviceConfig persists SNMP polling parameters for a host.
// One config per host; the host_id column is unique.
func (s *Store) InsertSnmpDeviceConfig(c *models.SnmpDeviceConfig) (int64, error) {
	if c.Port == 0 {
		c.Port = 161
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := s.exec(`INSERT INTO snmp_device_configs
		(host_id, version, community, username, security_level, auth_protocol,
		 auth_password, priv_protocol, priv_password, context_name, context_engine_id,
		 port, timeout_ms, retries, poll_interval_seconds, oids, enabled, created_at, last_polled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.HostID, int(c.Version), c.Credentials.Community, c.Credentials.Username,
		c.Credentials.SecurityLevel, c.Credentials.AuthProtocol, c.Credentials.AuthPassword,
		c.Credentials.PrivProtocol, c.Credentials.PrivPassword, c.Credentials.ContextName,
		c.Credentials.ContextEngineID, c.Port, c.TimeoutMs, c.Retries, c.PollIntervalSeconds,
		strings.Join(c.OIDs, ","), boolToInt(c.Enabled), fmtTime(c.CreatedAt), fmtTimePtr(c.LastPolled))
	if err != nil {
		return 0, fmt.Errorf("insert snmp config: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("snmp config insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateSnmpDeviceConfig rewrites a config row.
func (s *Store) UpdateSnmpDeviceConfig(c *models.SnmpDeviceConfig) error {
	res, err := s.exec(`UPDATE snmp_device_configs SET
		version = ?, community = ?, username = ?, security_level = ?, auth_protocol = ?,
		auth_password = ?, priv_protocol = ?, priv_password = ?, context_name = ?,
		context_engine_id = ?, port = ?, timeout_ms = ?, retries = ?,
		poll_interval_seconds = ?, oids = ?, enabled = ?
		WHERE id = ?`,
		int(c.Version), c.Credentials.Community, c.Credentials.Username,
		c.Credentials.SecurityLevel, c.Credentials.AuthProtocol, c.Credentials.AuthPassword,
		c.Credentials.PrivProtocol, c.Credentials.PrivPassword, c.Credentials.ContextName,
		c.Credentials.ContextEngineID, c.Port, c.TimeoutMs, c.Retries, c.PollIntervalSeconds,
		strings.Join(c.OIDs, ","), boolToInt(c.Enabled), c.ID)
	if err != nil {
		return fmt.Errorf("update snmp config: %w", err)
	}
	return requireAffected(res)
}

// DeleteSnmpDeviceConfig removes a config.
func (s *Store) DeleteSnmpDeviceConfig(id int64) error {
	res, err := s.exec(`DELETE FROM snmp_device_configs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snmp config: %w", err)
	}
	return requireAffected(res)
}

// FindSnmpDeviceConfigByHost returns the config for a host.
func (s *Store) FindSnmpDeviceConfigByHost(hostID int64) (*models.SnmpDeviceConfig, error) {
	row := s.db.QueryRow(`SELECT `+snmpConfigColumns+` FROM snmp_device_configs WHERE host_id = ?`, hostID)
	c, err := scanSnmpConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// FindEnabledSnmpDeviceConfigs returns every pollable config.
func (s *Store) FindEnabledSnmpDeviceConfigs() ([]models.SnmpDeviceConfig, error) {
	rows, err := s.db.Query(`SELECT ` + snmpConfigColumns + ` FROM snmp_device_configs WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("query snmp configs: %w", err)
	}
	defer rows.Close()

	var configs []models.SnmpDeviceConfig
	for rows.Next() {
		c, err := scanSnmpConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

// MarkSnmpDevicePolled stamps last_polled with the current time.
func (s *Store) MarkSnmpDevicePolled(id int64) error {
	res, err := s.exec(`UPDATE snmp_device_configs SET last_polled = ? WHERE id = ?`, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark snmp device polled: %w", err)
	}
	return requireAffected(res)
}

func scanSnmpConfig(sc rowScanner) (*models.SnmpDeviceConfig, error) {
	var (
		c          models.SnmpDeviceConfig
		version    int
		oids       string
		enabled    int
		createdAt  string
		lastPolled sql.NullString
	)
	err := sc.Scan(&c.ID, &c.HostID, &version, &c.Credentials.Community, &c.Credentials.Username,
		&c.Credentials.SecurityLevel, &c.Credentials.AuthProtocol, &c.Credentials.AuthPassword,
		&c.Credentials.PrivProtocol, &c.Credentials.PrivPassword, &c.Credentials.ContextName,
		&c.Credentials.ContextEngineID, &c.Port, &c.TimeoutMs, &c.Retries, &c.PollIntervalSeconds,
		&oids, &enabled, &createdAt, &lastPolled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan snmp config: %w", err)
	}
	c.Version = models.SnmpVersion(version)
	if oids != "" {
		c.OIDs = strings.Split(oids, ",")
	}
	c.Enabled = enabled != 0
	c.CreatedAt = parseTime(createdAt)
	c.LastPolled = parseTimePtr(lastPolled)
	return &c, nil
}

// InsertSnmpResult persists a poll outcome and its varbinds in one
// transaction.
func (s *Store) InsertSnmpResult(r *models.SnmpResult) (int64, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	var id int64
	err := s.transaction(func(tx *sql.Tx) error {
		res, err := tx.Exec(`INSERT INTO snmp_results
			(host_id, timestamp, version, response_time_us, success, error_message, error_status, error_index)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.HostID, fmtTime(r.Timestamp), int(r.Version), r.ResponseTime.Microseconds(),
			boolToInt(r.Success), r.ErrorMessage, r.ErrorStatus, r.ErrorIndex)
		if err != nil {
			return fmt.Errorf("insert snmp result: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("snmp result insert id: %w", err)
		}
		if len(r.VarBinds) == 0 {
			return nil
		}
		stmt, err := tx.Prepare(`INSERT INTO snmp_varbinds
			(result_id, oid, type, value, int_value, counter_value)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare varbind insert: %w", err)
		}
		defer stmt.Close()
		for _, vb := range r.VarBinds {
			var counter any
			if vb.CounterValue != nil {
				// SQLite stores signed 64-bit; the uint64 bit pattern
				// survives the round trip.
				counter = int64(*vb.CounterValue)
			}
			if _, err := stmt.Exec(id, vb.OID, string(vb.Type), vb.Value, vb.IntValue, counter); err != nil {
				return fmt.Errorf("insert varbind: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// GetSnmpResults returns up to limit results for a host, latest first,
// with varbinds attached.
func (s *Store) GetSnmpResults(hostID int64, limit int) ([]models.SnmpResult, error) {
	rows, err := s.db.Query(`SELECT id, host_id, timestamp, version, response_time_us,
		success, error_message, error_status, error_index
		FROM snmp_results WHERE host_id = ? ORDER BY id DESC LIMIT ?`, hostID, limit)
	if err != nil {
		return nil, fmt.Errorf("query snmp results: %w", err)
	}
	defer rows.Close()

	var results []models.SnmpResult
	for rows.Next() {
		var (
			r       models.SnmpResult
			ts      string
			version int
			rtUS    int64
			success int
		)
		if err := rows.Scan(&r.ID, &r.HostID, &ts, &version, &rtUS, &success,
			&r.ErrorMessage, &r.ErrorStatus, &r.ErrorIndex); err != nil {
			return nil, fmt.Errorf("scan snmp result: %w", err)
		}
		r.Timestamp = parseTime(ts)
		r.Version = models.SnmpVersion(version)
		r.ResponseTime = time.Duration(rtUS) * time.Microsecond
		r.Success = success != 0
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		vbs, err := s.getVarBinds(results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].VarBinds = vbs
	}
	return results, nil
}

func (s *Store) getVarBinds(resultID int64) ([]models.SnmpVarBind, error) {
	rows, err := s.db.Query(`SELECT oid, type, value, int_value, counter_value
		FROM snmp_varbinds WHERE result_id = ? ORDER BY id`, resultID)
	if err != nil {
		return nil, fmt.Errorf("query varbinds: %w", err)
	}
	defer rows.Close()

	var vbs []models.SnmpVarBind
	for rows.Next() {
		var (
			vb      models.SnmpVarBind
			typ     string
			intVal  sql.NullInt64
			counter sql.NullInt64
		)
		if err := rows.Scan(&vb.OID, &typ, &vb.Value, &intVal, &counter); err != nil {
			return nil, fmt.Errorf("scan varbind: %w", err)
		}
		vb.Type = models.SnmpValueType(typ)
		if intVal.Valid {
			v := intVal.Int64
			vb.IntValue = &v
		}
		if counter.Valid {
			v := uint64(counter.Int64)
			vb.CounterValue = &v
		}
		vbs = append(vbs, vb)
	}
	return vbs, rows.Err()
}

// CleanupSnmpResultsOlderThan deletes aged SNMP results; their varbinds
// cascade.
func (s *Store) CleanupSnmpResultsOlderThan(maxAge time.Duration) (int64, error) {
	return s.cleanupOlderThan(`DELETE FROM snmp_results WHERE timestamp < ?`, maxAge)
}
