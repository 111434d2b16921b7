package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/netpulse/netpulse/internal/models"
)

const hostColumns = `id, name, address, ping_interval_seconds, warning_threshold_ms,
	critical_threshold_ms, status, enabled, group_id, created_at, last_checked`

// InsertHost validates and persists a new host, returning its id.
func (s *Store) InsertHost(h *models.Host) (int64, error) {
	if err := h.Validate(); err != nil {
		return 0, err
	}
	if h.Status == "" {
		h.Status = models.HostStatusUnknown
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}

	res, err := s.exec(`INSERT INTO hosts
		(name, address, ping_interval_seconds, warning_threshold_ms, critical_threshold_ms,
		 status, enabled, group_id, created_at, last_checked)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Name, h.Address, h.PingIntervalSeconds, h.WarningThresholdMs, h.CriticalThresholdMs,
		string(h.Status), boolToInt(h.Enabled), h.GroupID, fmtTime(h.CreatedAt), fmtTimePtr(h.LastChecked))
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateAddress
		}
		return 0, fmt.Errorf("insert host: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("host insert id: %w", err)
	}
	h.ID = id
	return id, nil
}

// UpdateHost rewrites all mutable columns of the host row.
func (s *Store) UpdateHost(h *models.Host) error {
	if err := h.Validate(); err != nil {
		return err
	}
	res, err := s.exec(`UPDATE hosts SET
		name = ?, address = ?, ping_interval_seconds = ?, warning_threshold_ms = ?,
		critical_threshold_ms = ?, status = ?, enabled = ?, group_id = ?
		WHERE id = ?`,
		h.Name, h.Address, h.PingIntervalSeconds, h.WarningThresholdMs, h.CriticalThresholdMs,
		string(h.Status), boolToInt(h.Enabled), h.GroupID, h.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateAddress
		}
		return fmt.Errorf("update host: %w", err)
	}
	return requireAffected(res)
}

// DeleteHost removes a host; ping results cascade.
func (s *Store) DeleteHost(id int64) error {
	res, err := s.exec(`DELETE FROM hosts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete host: %w", err)
	}
	return requireAffected(res)
}

// FindHostByID returns one host or ErrNotFound.
func (s *Store) FindHostByID(id int64) (*models.Host, error) {
	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE id = ?`, id)
	return scanHost(row)
}

// FindHostByAddress returns the host with the unique address.
func (s *Store) FindHostByAddress(address string) (*models.Host, error) {
	row := s.db.QueryRow(`SELECT `+hostColumns+` FROM hosts WHERE address = ?`, address)
	return scanHost(row)
}

// FindAllHosts returns every host ordered by name.
func (s *Store) FindAllHosts() ([]models.Host, error) {
	return s.queryHosts(`SELECT ` + hostColumns + ` FROM hosts ORDER BY name`)
}

// FindEnabledHosts returns the hosts the scheduler should probe.
func (s *Store) FindEnabledHosts() ([]models.Host, error) {
	return s.queryHosts(`SELECT ` + hostColumns + ` FROM hosts WHERE enabled = 1 ORDER BY name`)
}

// FindHostsByGroup returns hosts in a group; a nil groupID selects the
// ungrouped hosts.
func (s *Store) FindHostsByGroup(groupID *int64) ([]models.Host, error) {
	if groupID == nil {
		return s.queryHosts(`SELECT ` + hostColumns + ` FROM hosts WHERE group_id IS NULL ORDER BY name`)
	}
	return s.queryHosts(`SELECT `+hostColumns+` FROM hosts WHERE group_id = ? ORDER BY name`, *groupID)
}

// UpdateHostStatus writes the alert-engine-owned status column.
func (s *Store) UpdateHostStatus(id int64, status models.HostStatus) error {
	res, err := s.exec(`UPDATE hosts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update host status: %w", err)
	}
	return requireAffected(res)
}

// UpdateHostLastChecked stamps the host with the current time.
func (s *Store) UpdateHostLastChecked(id int64) error {
	res, err := s.exec(`UPDATE hosts SET last_checked = ? WHERE id = ?`, fmtTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update host last_checked: %w", err)
	}
	return requireAffected(res)
}

// SetHostGroup moves the host into a group, or out of any group when
// groupID is nil.
func (s *Store) SetHostGroup(id int64, groupID *int64) error {
	res, err := s.exec(`UPDATE hosts SET group_id = ? WHERE id = ?`, groupID, id)
	if err != nil {
		return fmt.Errorf("set host group: %w", err)
	}
	return requireAffected(res)
}

// CountHosts returns the number of host rows.
func (s *Store) CountHosts() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM hosts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hosts: %w", err)
	}
	return n, nil
}

func (s *Store) queryHosts(query string, args ...any) ([]models.Host, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query hosts: %w", err)
	}
	defer rows.Close()

	var hosts []models.Host
	for rows.Next() {
		h, err := scanHostRow(rows)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, *h)
	}
	return hosts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHostRow(sc rowScanner) (*models.Host, error) {
	var (
		h           models.Host
		status      string
		enabled     int
		groupID     sql.NullInt64
		createdAt   string
		lastChecked sql.NullString
	)
	err := sc.Scan(&h.ID, &h.Name, &h.Address, &h.PingIntervalSeconds, &h.WarningThresholdMs,
		&h.CriticalThresholdMs, &status, &enabled, &groupID, &createdAt, &lastChecked)
	if err != nil {
		return nil, fmt.Errorf("scan host: %w", err)
	}
	h.Status = models.HostStatus(status)
	h.Enabled = enabled != 0
	if groupID.Valid {
		g := groupID.Int64
		h.GroupID = &g
	}
	h.CreatedAt = parseTime(createdAt)
	h.LastChecked = parseTimePtr(lastChecked)
	return &h, nil
}

func scanHost(row *sql.Row) (*models.Host, error) {
	h, err := scanHostRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return h, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
