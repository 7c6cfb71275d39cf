package store

import (
	"database/sql"
	"fmt"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// Design lifecycle stages.
const (
	StageDesign         = "design"
	StageImplementation = "implementation"
	StageComplete       = "complete"
)

// Design statuses.
const (
	StatusRunning  = "running"
	StatusApproved = "approved"
	StatusFailed   = "failed"
)

// Design is one unit of work from intake to completion.
type Design struct {
	ID             string
	Description    string
	Stage          string
	Status         string
	PageID         string
	ParentKey      string
	ReviewAttempts int
	CreatedAt      string
	UpdatedAt      string
}

// CreateDesign inserts a new design in stage "design", status "running".
func (s *Store) CreateDesign(id, description string) (*Design, error) {
	ts := now()
	_, err := s.db.Exec(`INSERT INTO designs (id, description, stage, status, review_attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)`,
		id, description, StageDesign, StatusRunning, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("creating design %s: %w", id, err)
	}
	return s.GetDesign(id)
}

// GetDesign fetches a design by id. Returns ErrNotFound if absent.
func (s *Store) GetDesign(id string) (*Design, error) {
	row := s.db.QueryRow(`SELECT id, description, stage, status,
		COALESCE(page_id, ''), COALESCE(parent_key, ''),
		review_attempts, created_at, updated_at
		FROM designs WHERE id = ?`, id)

	var d Design
	err := row.Scan(&d.ID, &d.Description, &d.Stage, &d.Status,
		&d.PageID, &d.ParentKey, &d.ReviewAttempts, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("design %s: %w", id, cerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting design %s: %w", id, err)
	}
	return &d, nil
}

// UpdateDesignStatus sets the status of a design.
func (s *Store) UpdateDesignStatus(id, status string) error {
	return s.updateDesign(id, `UPDATE designs SET status = ?, updated_at = ? WHERE id = ?`, status)
}

// UpdateDesignStage sets the lifecycle stage of a design.
func (s *Store) UpdateDesignStage(id, stage string) error {
	return s.updateDesign(id, `UPDATE designs SET stage = ?, updated_at = ? WHERE id = ?`, stage)
}

// SetDesignPageID records the published document page for a design.
func (s *Store) SetDesignPageID(id, pageID string) error {
	return s.updateDesign(id, `UPDATE designs SET page_id = ?, updated_at = ? WHERE id = ?`, pageID)
}

// SetDesignParentKey records the issue-tracker parent for a design.
func (s *Store) SetDesignParentKey(id, parentKey string) error {
	return s.updateDesign(id, `UPDATE designs SET parent_key = ?, updated_at = ? WHERE id = ?`, parentKey)
}

func (s *Store) updateDesign(id, query, value string) error {
	res, err := s.db.Exec(query, value, now(), id)
	if err != nil {
		return fmt.Errorf("updating design %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("design %s: %w", id, cerrors.ErrNotFound)
	}
	return nil
}

// IncrementDesignReviewAttempts bumps the review counter and returns
// the new value.
func (s *Store) IncrementDesignReviewAttempts(id string) (int, error) {
	_, err := s.db.Exec(`UPDATE designs SET review_attempts = review_attempts + 1, updated_at = ? WHERE id = ?`, now(), id)
	if err != nil {
		return 0, fmt.Errorf("incrementing review attempts for %s: %w", id, err)
	}
	var attempts int
	if err := s.db.QueryRow(`SELECT review_attempts FROM designs WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("reading review attempts for %s: %w", id, err)
	}
	return attempts, nil
}

// ListDesignsByStatus returns designs in the given status, oldest first.
func (s *Store) ListDesignsByStatus(status string) ([]*Design, error) {
	rows, err := s.db.Query(`SELECT id, description, stage, status,
		COALESCE(page_id, ''), COALESCE(parent_key, ''),
		review_attempts, created_at, updated_at
		FROM designs WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, fmt.Errorf("listing designs by status %s: %w", status, err)
	}
	defer rows.Close()

	var designs []*Design
	for rows.Next() {
		var d Design
		if err := rows.Scan(&d.ID, &d.Description, &d.Stage, &d.Status,
			&d.PageID, &d.ParentKey, &d.ReviewAttempts, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning design: %w", err)
		}
		designs = append(designs, &d)
	}
	return designs, rows.Err()
}
