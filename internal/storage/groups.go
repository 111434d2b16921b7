package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/netpulse/netpulse/internal/models"
)

// InsertHostGroup persists a new group and returns its id. The parent
// chain is walked to reject cycles before insertion (the parent graph
// must stay a forest).
func (s *Store) InsertHostGroup(g *models.HostGroup) (int64, error) {
	if g.Name == "" {
		return 0, &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	res, err := s.exec(`INSERT INTO host_groups (name, description, parent_id, created_at)
		VALUES (?, ?, ?, ?)`,
		g.Name, g.Description, g.ParentID, fmtTime(g.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert host group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("host group insert id: %w", err)
	}
	g.ID = id
	return id, nil
}

// UpdateHostGroup rewrites the group row, refusing parent assignments
// that would introduce a cycle.
func (s *Store) UpdateHostGroup(g *models.HostGroup) error {
	if g.Name == "" {
		return &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if g.ParentID != nil {
		ok, err := s.parentChainSafe(g.ID, *g.ParentID)
		if err != nil {
			return err
		}
		if !ok {
			return &models.ValidationError{Field: "parentId", Reason: "would create a cycle"}
		}
	}
	res, err := s.exec(`UPDATE host_groups SET name = ?, description = ?, parent_id = ? WHERE id = ?`,
		g.Name, g.Description, g.ParentID, g.ID)
	if err != nil {
		return fmt.Errorf("update host group: %w", err)
	}
	return requireAffected(res)
}

// DeleteHostGroup removes a group. Child groups and member hosts have
// their references nulled by the schema's ON DELETE SET NULL.
func (s *Store) DeleteHostGroup(id int64) error {
	res, err := s.exec(`DELETE FROM host_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete host group: %w", err)
	}
	return requireAffected(res)
}

// FindHostGroupByID returns one group or ErrNotFound.
func (s *Store) FindHostGroupByID(id int64) (*models.HostGroup, error) {
	row := s.db.QueryRow(`SELECT id, name, description, parent_id, created_at
		FROM host_groups WHERE id = ?`, id)
	g, err := scanHostGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

// FindAllHostGroups returns every group ordered by name.
func (s *Store) FindAllHostGroups() ([]models.HostGroup, error) {
	return s.queryHostGroups(`SELECT id, name, description, parent_id, created_at
		FROM host_groups ORDER BY name`)
}

// FindRootGroups returns groups without a parent.
func (s *Store) FindRootGroups() ([]models.HostGroup, error) {
	return s.queryHostGroups(`SELECT id, name, description, parent_id, created_at
		FROM host_groups WHERE parent_id IS NULL ORDER BY name`)
}

// FindGroupsByParent returns the direct children of a group.
func (s *Store) FindGroupsByParent(parentID int64) ([]models.HostGroup, error) {
	return s.queryHostGroups(`SELECT id, name, description, parent_id, created_at
		FROM host_groups WHERE parent_id = ? ORDER BY name`, parentID)
}

// parentChainSafe reports whether assigning candidate as the parent of
// group id keeps the graph acyclic.
func (s *Store) parentChainSafe(id, candidate int64) (bool, error) {
	current := candidate
	for depth := 0; depth < 1000; depth++ {
		if current == id {
			return false, nil
		}
		var parent sql.NullInt64
		err := s.db.QueryRow(`SELECT parent_id FROM host_groups WHERE id = ?`, current).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("walk group parents: %w", err)
		}
		if !parent.Valid {
			return true, nil
		}
		current = parent.Int64
	}
	return false, nil
}

func (s *Store) queryHostGroups(query string, args ...any) ([]models.HostGroup, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query host groups: %w", err)
	}
	defer rows.Close()

	var groups []models.HostGroup
	for rows.Next() {
		g, err := scanHostGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

func scanHostGroup(sc rowScanner) (*models.HostGroup, error) {
	var (
		g         models.HostGroup
		parentID  sql.NullInt64
		createdAt string
	)
	if err := sc.Scan(&g.ID, &g.Name, &g.Description, &parentID, &createdAt); err != nil {
		return nil, fmt.Errorf("scan host group: %w", err)
	}
	if parentID.Valid {
		p := parentID.Int64
		g.ParentID = &p
	}
	g.CreatedAt = parseTime(createdAt)
	return &g, nil
}
