package storage

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/netpulse/netpulse/internal/models"
)

// InsertPingResult persists one probe outcome.
func (s *Store) InsertPingResult(r *models.PingResult) (int64, error) {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	res, err := s.exec(`INSERT INTO ping_results
		(host_id, timestamp, latency_us, success, ttl, error_message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.HostID, fmtTime(r.Timestamp), r.LatencyMicros(), boolToInt(r.Success), r.TTL, r.ErrorMessage)
	if err != nil {
		return 0, fmt.Errorf("insert ping result: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ping result insert id: %w", err)
	}
	r.ID = id
	return id, nil
}

// GetPingResults returns up to limit results for a host, latest first.
func (s *Store) GetPingResults(hostID int64, limit int) ([]models.PingResult, error) {
	return s.queryPingResults(`SELECT id, host_id, timestamp, latency_us, success, ttl, error_message
		FROM ping_results WHERE host_id = ? ORDER BY id DESC LIMIT ?`, hostID, limit)
}

// GetPingResultsSince returns results at or after t, ascending.
func (s *Store) GetPingResultsSince(hostID int64, t time.Time) ([]models.PingResult, error) {
	return s.queryPingResults(`SELECT id, host_id, timestamp, latency_us, success, ttl, error_message
		FROM ping_results WHERE host_id = ? AND timestamp >= ? ORDER BY id ASC`, hostID, fmtTime(t))
}

// GetStatistics aggregates the most recent sampleCount results for a
// host. Min/max/avg cover only successful samples; jitter is the mean
// absolute deviation of successful latencies from their average, zero
// when fewer than two successful samples exist.
func (s *Store) GetStatistics(hostID int64, sampleCount int) (*models.PingStatistics, error) {
	results, err := s.GetPingResults(hostID, sampleCount)
	if err != nil {
		return nil, err
	}

	stats := &models.PingStatistics{TotalPings: len(results)}
	if len(results) == 0 {
		return stats, nil
	}

	var (
		sum time.Duration
		min time.Duration
		max time.Duration
	)
	for _, r := range results {
		if !r.Success {
			continue
		}
		stats.SuccessfulPings++
		sum += r.Latency
		if stats.SuccessfulPings == 1 || r.Latency < min {
			min = r.Latency
		}
		if r.Latency > max {
			max = r.Latency
		}
	}
	stats.PacketLossPercent = 100 * (1 - float64(stats.SuccessfulPings)/float64(stats.TotalPings))

	if stats.SuccessfulPings == 0 {
		return stats, nil
	}
	stats.MinLatency = min
	stats.MaxLatency = max
	stats.AvgLatency = sum / time.Duration(stats.SuccessfulPings)

	if stats.SuccessfulPings >= 2 {
		var dev time.Duration
		for _, r := range results {
			if !r.Success {
				continue
			}
			d := r.Latency - stats.AvgLatency
			if d < 0 {
				d = -d
			}
			dev += d
		}
		stats.Jitter = dev / time.Duration(stats.SuccessfulPings)
	}
	return stats, nil
}

func (s *Store) queryPingResults(query string, args ...any) ([]models.PingResult, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ping results: %w", err)
	}
	defer rows.Close()

	var results []models.PingResult
	for rows.Next() {
		var (
			r         models.PingResult
			ts        string
			latencyUS int64
			success   int
			ttl       sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.HostID, &ts, &latencyUS, &success, &ttl, &r.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan ping result: %w", err)
		}
		r.Timestamp = parseTime(ts)
		r.Latency = time.Duration(latencyUS) * time.Microsecond
		r.Success = success != 0
		if ttl.Valid {
			v := int(ttl.Int64)
			r.TTL = &v
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// InsertAlert persists an alert row.
func (s *Store) InsertAlert(a *models.Alert) (int64, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	res, err := s.exec(`INSERT INTO alerts
		(host_id, type, severity, title, message, timestamp, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.HostID, string(a.Type), string(a.Severity), a.Title, a.Message,
		fmtTime(a.Timestamp), boolToInt(a.Acknowledged))
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("alert insert id: %w", err)
	}
	a.ID = id
	return id, nil
}

// GetAlerts returns up to limit alerts, latest first.
func (s *Store) GetAlerts(limit int) ([]models.Alert, error) {
	return s.queryAlerts(`SELECT id, host_id, type, severity, title, message, timestamp, acknowledged
		FROM alerts ORDER BY id DESC LIMIT ?`, limit)
}

// GetAlertsFiltered applies an AlertFilter as a conjunction of its set
// fields; an empty filter behaves like GetAlerts.
func (s *Store) GetAlertsFiltered(filter models.AlertFilter, limit int) ([]models.Alert, error) {
	query := `SELECT id, host_id, type, severity, title, message, timestamp, acknowledged FROM alerts`
	var (
		clauses []string
		args    []any
	)
	if filter.Severity != nil {
		clauses = append(clauses, `severity = ?`)
		args = append(args, string(*filter.Severity))
	}
	if filter.Type != nil {
		clauses = append(clauses, `type = ?`)
		args = append(args, string(*filter.Type))
	}
	if filter.Acknowledged != nil {
		clauses = append(clauses, `acknowledged = ?`)
		args = append(args, boolToInt(*filter.Acknowledged))
	}
	if filter.SearchText != "" {
		clauses = append(clauses, `(title LIKE ? COLLATE NOCASE OR message LIKE ? COLLATE NOCASE)`)
		pattern := "%" + filter.SearchText + "%"
		args = append(args, pattern, pattern)
	}
	for i, c := range clauses {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryAlerts(query, args...)
}

// GetUnacknowledgedAlerts returns every open alert, latest first.
func (s *Store) GetUnacknowledgedAlerts() ([]models.Alert, error) {
	return s.queryAlerts(`SELECT id, host_id, type, severity, title, message, timestamp, acknowledged
		FROM alerts WHERE acknowledged = 0 ORDER BY id DESC`)
}

// AcknowledgeAlert flags one alert as seen.
func (s *Store) AcknowledgeAlert(id int64) error {
	res, err := s.exec(`UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("acknowledge alert: %w", err)
	}
	return requireAffected(res)
}

// AcknowledgeAllAlerts flags every open alert, returning the count.
func (s *Store) AcknowledgeAllAlerts() (int64, error) {
	res, err := s.exec(`UPDATE alerts SET acknowledged = 1 WHERE acknowledged = 0`)
	if err != nil {
		return 0, fmt.Errorf("acknowledge all alerts: %w", err)
	}
	return res.RowsAffected()
}

// ClearAlerts removes every alert row. Internal maintenance operation;
// not exposed over HTTP.
func (s *Store) ClearAlerts() error {
	_, err := s.exec(`DELETE FROM alerts`)
	if err != nil {
		return fmt.Errorf("clear alerts: %w", err)
	}
	return nil
}

func (s *Store) queryAlerts(query string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var (
			a     models.Alert
			typ   string
			sev   string
			ts    string
			acked int
		)
		if err := rows.Scan(&a.ID, &a.HostID, &typ, &sev, &a.Title, &a.Message, &ts, &acked); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = models.AlertType(typ)
		a.Severity = models.AlertSeverity(sev)
		a.Timestamp = parseTime(ts)
		a.Acknowledged = acked != 0
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// InsertPortScanResults persists a batch of scan rows in one transaction.
func (s *Store) InsertPortScanResults(results []models.PortScanResult) error {
	if len(results) == 0 {
		return nil
	}
	return s.transaction(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO port_scan_results
			(target_address, port, state, service_name, scan_timestamp)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare port scan insert: %w", err)
		}
		defer stmt.Close()
		for i := range results {
			r := &results[i]
			if r.ScanTimestamp.IsZero() {
				r.ScanTimestamp = time.Now()
			}
			if _, err := stmt.Exec(r.TargetAddress, r.Port, string(r.State), r.ServiceName,
				fmtTime(r.ScanTimestamp)); err != nil {
				return fmt.Errorf("insert port scan result: %w", err)
			}
		}
		return nil
	})
}

// GetPortScanResults returns up to limit rows for one target, latest
// first.
func (s *Store) GetPortScanResults(address string, limit int) ([]models.PortScanResult, error) {
	rows, err := s.db.Query(`SELECT id, target_address, port, state, service_name, scan_timestamp
		FROM port_scan_results WHERE target_address = ? ORDER BY id DESC LIMIT ?`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("query port scan results: %w", err)
	}
	defer rows.Close()

	var results []models.PortScanResult
	for rows.Next() {
		var (
			r     models.PortScanResult
			state string
			ts    string
		)
		if err := rows.Scan(&r.ID, &r.TargetAddress, &r.Port, &state, &r.ServiceName, &ts); err != nil {
			return nil, fmt.Errorf("scan port scan result: %w", err)
		}
		r.State = models.PortState(state)
		r.ScanTimestamp = parseTime(ts)
		results = append(results, r)
	}
	return results, rows.Err()
}

// ExportPingResultsJSON renders a host's recent results as a JSON array.
func (s *Store) ExportPingResultsJSON(hostID int64, limit int) ([]byte, error) {
	results, err := s.GetPingResults(hostID, limit)
	if err != nil {
		return nil, err
	}
	type row struct {
		Timestamp string  `json:"timestamp"`
		LatencyMs float64 `json:"latency_ms"`
		Success   bool    `json:"success"`
		TTL       *int    `json:"ttl"`
	}
	out := make([]row, 0, len(results))
	for _, r := range results {
		out = append(out, row{
			Timestamp: r.Timestamp.UTC().Format(timeLayout),
			LatencyMs: float64(r.Latency.Microseconds()) / 1000,
			Success:   r.Success,
			TTL:       r.TTL,
		})
	}
	return json.MarshalIndent(out, "", "  ")
}

// ExportPingResultsCSV renders a host's recent results as CSV with the
// fixed header timestamp,latency_ms,success,ttl.
func (s *Store) ExportPingResultsCSV(hostID int64, limit int) ([]byte, error) {
	results, err := s.GetPingResults(hostID, limit)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"timestamp", "latency_ms", "success", "ttl"}); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range results {
		ttl := ""
		if r.TTL != nil {
			ttl = strconv.Itoa(*r.TTL)
		}
		record := []string{
			r.Timestamp.UTC().Format(timeLayout),
			strconv.FormatFloat(float64(r.Latency.Microseconds())/1000, 'f', 3, 64),
			strconv.FormatBool(r.Success),
			ttl,
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// CleanupPingResultsOlderThan deletes aged ping rows, returning the count.
func (s *Store) CleanupPingResultsOlderThan(maxAge time.Duration) (int64, error) {
	return s.cleanupOlderThan(`DELETE FROM ping_results WHERE timestamp < ?`, maxAge)
}

// CleanupAlertsOlderThan deletes aged alerts.
func (s *Store) CleanupAlertsOlderThan(maxAge time.Duration) (int64, error) {
	return s.cleanupOlderThan(`DELETE FROM alerts WHERE timestamp < ?`, maxAge)
}

// CleanupPortScanResultsOlderThan deletes aged scan rows.
func (s *Store) CleanupPortScanResultsOlderThan(maxAge time.Duration) (int64, error) {
	return s.cleanupOlderThan(`DELETE FROM port_scan_results WHERE scan_timestamp < ?`, maxAge)
}

func (s *Store) cleanupOlderThan(query string, maxAge time.Duration) (int64, error) {
	cutoff := fmtTime(time.Now().Add(-maxAge))
	res, err := s.exec(query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return res.RowsAffected()
}
