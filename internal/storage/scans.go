package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/models"
)

const scheduledScanColumns = `id, name, target_address, port_range, custom_ports,
	interval_minutes, enabled, notify_on_changes, created_at, last_run_at, next_run_at`

// InsertScheduledScan persists a new scan schedule.
func (s *Store) InsertScheduledScan(c *models.ScheduledScanConfig) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := s.exec(`INSERT INTO scheduled_scans
		(name, target_address, port_range, custom_ports, interval_minutes,
		 enabled, notify_on_changes, created_at, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Name, c.TargetAddress, string(c.PortRange), encodePorts(c.CustomPorts),
		c.IntervalMinutes, boolToInt(c.Enabled), boolToInt(c.NotifyOnChanges),
		fmtTime(c.CreatedAt), fmtTimePtr(c.LastRunAt), fmtTimePtr(c.NextRunAt))
	if err != nil {
		return 0, fmt.Errorf("insert scheduled scan: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("scheduled scan insert id: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateScheduledScan rewrites a schedule row.
func (s *Store) UpdateScheduledScan(c *models.ScheduledScanConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	res, err := s.exec(`UPDATE scheduled_scans SET
		name = ?, target_address = ?, port_range = ?, custom_ports = ?,
		interval_minutes = ?, enabled = ?, notify_on_changes = ?,
		last_run_at = ?, next_run_at = ?
		WHERE id = ?`,
		c.Name, c.TargetAddress, string(c.PortRange), encodePorts(c.CustomPorts),
		c.IntervalMinutes, boolToInt(c.Enabled), boolToInt(c.NotifyOnChanges),
		fmtTimePtr(c.LastRunAt), fmtTimePtr(c.NextRunAt), c.ID)
	if err != nil {
		return fmt.Errorf("update scheduled scan: %w", err)
	}
	return requireAffected(res)
}

// DeleteScheduledScan removes a schedule.
func (s *Store) DeleteScheduledScan(id int64) error {
	res, err := s.exec(`DELETE FROM scheduled_scans WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled scan: %w", err)
	}
	return requireAffected(res)
}

// FindScheduledScanByID returns one schedule or ErrNotFound.
func (s *Store) FindScheduledScanByID(id int64) (*models.ScheduledScanConfig, error) {
	row := s.db.QueryRow(`SELECT `+scheduledScanColumns+` FROM scheduled_scans WHERE id = ?`, id)
	c, err := scanScheduledScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// FindAllScheduledScans returns every schedule.
func (s *Store) FindAllScheduledScans() ([]models.ScheduledScanConfig, error) {
	return s.queryScheduledScans(`SELECT ` + scheduledScanColumns + ` FROM scheduled_scans ORDER BY name`)
}

// FindEnabledScheduledScans returns the schedules the engine should run.
func (s *Store) FindEnabledScheduledScans() ([]models.ScheduledScanConfig, error) {
	return s.queryScheduledScans(`SELECT ` + scheduledScanColumns + ` FROM scheduled_scans WHERE enabled = 1 ORDER BY name`)
}

// MarkScheduledScanRun stamps lastRunAt now and nextRunAt one interval
// out.
func (s *Store) MarkScheduledScanRun(id int64, intervalMinutes int) error {
	now := time.Now()
	next := now.Add(time.Duration(intervalMinutes) * time.Minute)
	res, err := s.exec(`UPDATE scheduled_scans SET last_run_at = ?, next_run_at = ? WHERE id = ?`,
		fmtTime(now), fmtTime(next), id)
	if err != nil {
		return fmt.Errorf("mark scheduled scan run: %w", err)
	}
	return requireAffected(res)
}

func (s *Store) queryScheduledScans(query string, args ...any) ([]models.ScheduledScanConfig, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scheduled scans: %w", err)
	}
	defer rows.Close()

	var configs []models.ScheduledScanConfig
	for rows.Next() {
		c, err := scanScheduledScan(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *c)
	}
	return configs, rows.Err()
}

func scanScheduledScan(sc rowScanner) (*models.ScheduledScanConfig, error) {
	var (
		c         models.ScheduledScanConfig
		portRange string
		ports     string
		enabled   int
		notify    int
		createdAt string
		lastRun   sql.NullString
		nextRun   sql.NullString
	)
	err := sc.Scan(&c.ID, &c.Name, &c.TargetAddress, &portRange, &ports,
		&c.IntervalMinutes, &enabled, &notify, &createdAt, &lastRun, &nextRun)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan scheduled scan: %w", err)
	}
	c.PortRange = models.PortRange(portRange)
	c.CustomPorts = decodePorts(ports)
	c.Enabled = enabled != 0
	c.NotifyOnChanges = notify != 0
	c.CreatedAt = parseTime(createdAt)
	c.LastRunAt = parseTimePtr(lastRun)
	c.NextRunAt = parseTimePtr(nextRun)
	return &c, nil
}

func encodePorts(ports []int) string {
	if len(ports) == 0 {
		return ""
	}
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func decodePorts(s string) []int {
	if s == "" {
		return nil
	}
	var ports []int
	for _, part := range strings.Split(s, ",") {
		if p, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			ports = append(ports, p)
		}
	}
	return ports
}

// InsertPortScanDiff persists a diff; the change list is stored as JSON.
func (s *Store) InsertPortScanDiff(d *models.PortScanDiff) (int64, error) {
	changes, err := json.Marshal(d.Changes)
	if err != nil {
		return 0, fmt.Errorf("marshal diff changes: %w", err)
	}
	res, err := s.exec(`INSERT INTO port_scan_diffs
		(target_address, previous_scan_time, current_scan_time, changes,
		 total_ports_scanned, open_ports_before, open_ports_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.TargetAddress, fmtTime(d.PreviousScanTime), fmtTime(d.CurrentScanTime),
		string(changes), d.TotalPortsScanned, d.OpenPortsBefore, d.OpenPortsAfter)
	if err != nil {
		return 0, fmt.Errorf("insert port scan diff: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("port scan diff insert id: %w", err)
	}
	d.ID = id
	return id, nil
}

// GetPortScanDiffs returns up to limit diffs for a target, latest first.
func (s *Store) GetPortScanDiffs(address string, limit int) ([]models.PortScanDiff, error) {
	rows, err := s.db.Query(`SELECT id, target_address, previous_scan_time, current_scan_time,
		changes, total_ports_scanned, open_ports_before, open_ports_after
		FROM port_scan_diffs WHERE target_address = ? ORDER BY id DESC LIMIT ?`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("query port scan diffs: %w", err)
	}
	defer rows.Close()

	var diffs []models.PortScanDiff
	for rows.Next() {
		var (
			d       models.PortScanDiff
			prev    string
			curr    string
			changes string
		)
		if err := rows.Scan(&d.ID, &d.TargetAddress, &prev, &curr, &changes,
			&d.TotalPortsScanned, &d.OpenPortsBefore, &d.OpenPortsAfter); err != nil {
			return nil, fmt.Errorf("scan port scan diff: %w", err)
		}
		d.PreviousScanTime = parseTime(prev)
		d.CurrentScanTime = parseTime(curr)
		if err := json.Unmarshal([]byte(changes), &d.Changes); err != nil {
			return nil, fmt.Errorf("parse diff changes: %w", err)
		}
		diffs = append(diffs, d)
	}
	return diffs, rows.Err()
}

// CleanupPortScanDiffsOlderThan deletes aged diffs.
func (s *Store) CleanupPortScanDiffsOlderThan(maxAge time.Duration) (int64, error) {
	return s.cleanupOlderThan(`DELETE FROM port_scan_diffs WHERE current_scan_time < ?`, maxAge)
}
