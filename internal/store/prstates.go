package store

import (
	"database/sql"
	"fmt"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// PR progression stages. Merged and failed are terminal.
const (
	PRStageImplementation = "implementation"
	PRStageInReview       = "in_review"
	PRStageMerged         = "merged"
	PRStageFailed         = "failed"
)

// CI / review status values.
const (
	CheckPending = "pending"
	CheckPassing = "passing"
	CheckFailing = "failing"
)

// prStageOrder ranks stages for the monotonic-advance check. Failed
// may be entered from any non-terminal stage.
var prStageOrder = map[string]int{
	PRStageImplementation: 0,
	PRStageInReview:       1,
	PRStageMerged:         2,
}

// PRState is the per-pull-request progression record.
type PRState struct {
	PRNumber       int
	DesignID       string
	Stage          string
	IssueKey       string
	ParentKey      string
	FeatureSlug    string
	CIStatus       string
	ReviewStatus   string
	CIAttempts     int
	ReviewAttempts int
	CreatedAt      string
	UpdatedAt      string
}

// CreatePRState inserts a new PR record in stage "implementation".
func (s *Store) CreatePRState(prNumber int, designID, issueKey, parentKey, featureSlug string) (*PRState, error) {
	ts := now()
	_, err := s.db.Exec(`INSERT INTO pr_states
		(pr_number, design_id, stage, issue_key, parent_key, feature_slug, ci_status, review_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		prNumber, designID, PRStageImplementation, issueKey, parentKey,
		nullable(featureSlug), CheckPending, CheckPending, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("creating PR state %d: %w", prNumber, err)
	}
	return s.GetPRState(prNumber)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetPRState fetches a PR record by number. Returns ErrNotFound if absent.
func (s *Store) GetPRState(prNumber int) (*PRState, error) {
	row := s.db.QueryRow(`SELECT pr_number, design_id, stage, issue_key, parent_key,
		COALESCE(feature_slug, ''), ci_status, review_status,
		ci_attempts, review_attempts, created_at, updated_at
		FROM pr_states WHERE pr_number = ?`, prNumber)
	return scanPRState(row)
}

func scanPRState(row *sql.Row) (*PRState, error) {
	var p PRState
	err := row.Scan(&p.PRNumber, &p.DesignID, &p.Stage, &p.IssueKey, &p.ParentKey,
		&p.FeatureSlug, &p.CIStatus, &p.ReviewStatus,
		&p.CIAttempts, &p.ReviewAttempts, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("PR state: %w", cerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning PR state: %w", err)
	}
	return &p, nil
}

// ListPRStatesByDesign returns every PR record for a design.
func (s *Store) ListPRStatesByDesign(designID string) ([]*PRState, error) {
	rows, err := s.db.Query(`SELECT pr_number, design_id, stage, issue_key, parent_key,
		COALESCE(feature_slug, ''), ci_status, review_status,
		ci_attempts, review_attempts, created_at, updated_at
		FROM pr_states WHERE design_id = ? ORDER BY pr_number`, designID)
	if err != nil {
		return nil, fmt.Errorf("listing PR states for %s: %w", designID, err)
	}
	defer rows.Close()

	var states []*PRState
	for rows.Next() {
		var p PRState
		if err := rows.Scan(&p.PRNumber, &p.DesignID, &p.Stage, &p.IssueKey, &p.ParentKey,
			&p.FeatureSlug, &p.CIStatus, &p.ReviewStatus,
			&p.CIAttempts, &p.ReviewAttempts, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning PR state: %w", err)
		}
		states = append(states, &p)
	}
	return states, rows.Err()
}

// UpdatePRStage advances a PR to a new stage. Stages only move
// forward; merged and failed are terminal.
func (s *Store) UpdatePRStage(prNumber int, stage string) error {
	current, err := s.GetPRState(prNumber)
	if err != nil {
		return err
	}
	if current.Stage == PRStageMerged || current.Stage == PRStageFailed {
		return fmt.Errorf("PR %d is terminal in stage %s: %w", prNumber, current.Stage, cerrors.ErrInvalidInput)
	}
	if stage != PRStageFailed {
		from, okFrom := prStageOrder[current.Stage]
		to, okTo := prStageOrder[stage]
		if !okTo {
			return fmt.Errorf("unknown PR stage %q: %w", stage, cerrors.ErrInvalidInput)
		}
		if okFrom && to < from {
			return fmt.Errorf("PR %d cannot move back from %s to %s: %w",
				prNumber, current.Stage, stage, cerrors.ErrInvalidInput)
		}
	}

	_, err = s.db.Exec(`UPDATE pr_states SET stage = ?, updated_at = ? WHERE pr_number = ?`,
		stage, now(), prNumber)
	if err != nil {
		return fmt.Errorf("updating PR %d stage: %w", prNumber, err)
	}
	return nil
}

// UpdatePRCIStatus sets the CI status field.
func (s *Store) UpdatePRCIStatus(prNumber int, status string) error {
	return s.updatePRField(prNumber, "ci_status", status)
}

// UpdatePRReviewStatus sets the review status field.
func (s *Store) UpdatePRReviewStatus(prNumber int, status string) error {
	return s.updatePRField(prNumber, "review_status", status)
}

func (s *Store) updatePRField(prNumber int, column, value string) error {
	res, err := s.db.Exec(`UPDATE pr_states SET `+column+` = ?, updated_at = ? WHERE pr_number = ?`,
		value, now(), prNumber)
	if err != nil {
		return fmt.Errorf("updating PR %d %s: %w", prNumber, column, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("PR %d: %w", prNumber, cerrors.ErrNotFound)
	}
	return nil
}

// IncrementPRCIAttempts bumps the CI attempt counter and returns the new value.
func (s *Store) IncrementPRCIAttempts(prNumber int) (int, error) {
	return s.incrementPRCounter(prNumber, "ci_attempts")
}

// IncrementPRReviewAttempts bumps the review attempt counter and returns the new value.
func (s *Store) IncrementPRReviewAttempts(prNumber int) (int, error) {
	return s.incrementPRCounter(prNumber, "review_attempts")
}

func (s *Store) incrementPRCounter(prNumber int, column string) (int, error) {
	_, err := s.db.Exec(`UPDATE pr_states SET `+column+` = `+column+` + 1, updated_at = ? WHERE pr_number = ?`,
		now(), prNumber)
	if err != nil {
		return 0, fmt.Errorf("incrementing PR %d %s: %w", prNumber, column, err)
	}
	var attempts int
	if err := s.db.QueryRow(`SELECT `+column+` FROM pr_states WHERE pr_number = ?`, prNumber).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("reading PR %d %s: %w", prNumber, column, err)
	}
	return attempts, nil
}

// ResetPRCIAttempts zeroes the CI counter (manual retry endpoint).
func (s *Store) ResetPRCIAttempts(prNumber int) error {
	return s.resetPRCounter(prNumber, "ci_attempts")
}

// ResetPRReviewAttempts zeroes the review counter (manual retry endpoint).
func (s *Store) ResetPRReviewAttempts(prNumber int) error {
	return s.resetPRCounter(prNumber, "review_attempts")
}

func (s *Store) resetPRCounter(prNumber int, column string) error {
	res, err := s.db.Exec(`UPDATE pr_states SET `+column+` = 0, updated_at = ? WHERE pr_number = ?`,
		now(), prNumber)
	if err != nil {
		return fmt.Errorf("resetting PR %d %s: %w", prNumber, column, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("PR %d: %w", prNumber, cerrors.ErrNotFound)
	}
	return nil
}

// PRReadyForHuman reports whether both CI and review are passing.
func (s *Store) PRReadyForHuman(prNumber int) (bool, error) {
	p, err := s.GetPRState(prNumber)
	if err != nil {
		return false, err
	}
	return p.CIStatus == CheckPassing && p.ReviewStatus == CheckPassing, nil
}

// AllSiblingsMerged reports whether every PR under the design has
// merged. Returns false when the design has no PRs.
func (s *Store) AllSiblingsMerged(designID string) (bool, error) {
	var total, merged int
	err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(stage = ?), 0)
		FROM pr_states WHERE design_id = ?`, PRStageMerged, designID).Scan(&total, &merged)
	if err != nil {
		return false, fmt.Errorf("checking siblings for %s: %w", designID, err)
	}
	return total > 0 && merged == total, nil
}
