package store

import (
	"database/sql"
	"fmt"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// DesignOutput points at a file written by an agent. Only paths are
// stored; content never crosses the queues.
type DesignOutput struct {
	DesignID  string
	Key       string
	Path      string
	CreatedAt string
}

// SaveOutput records an output path under (design, key). A second
// save with the same key replaces the path.
func (s *Store) SaveOutput(designID, key, path string) error {
	_, err := s.db.Exec(`INSERT INTO design_outputs (design_id, output_key, path, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(design_id, output_key) DO UPDATE SET path = excluded.path`,
		designID, key, path, now())
	if err != nil {
		return fmt.Errorf("saving output %s/%s: %w", designID, key, err)
	}
	return nil
}

// GetOutput fetches the output path for (design, key).
func (s *Store) GetOutput(designID, key string) (*DesignOutput, error) {
	row := s.db.QueryRow(`SELECT design_id, output_key, path, created_at
		FROM design_outputs WHERE design_id = ? AND output_key = ?`, designID, key)

	var o DesignOutput
	err := row.Scan(&o.DesignID, &o.Key, &o.Path, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("output %s/%s: %w", designID, key, cerrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting output %s/%s: %w", designID, key, err)
	}
	return &o, nil
}

// ListOutputs returns every output row for a design, oldest first.
func (s *Store) ListOutputs(designID string) ([]*DesignOutput, error) {
	rows, err := s.db.Query(`SELECT design_id, output_key, path, created_at
		FROM design_outputs WHERE design_id = ? ORDER BY created_at`, designID)
	if err != nil {
		return nil, fmt.Errorf("listing outputs for %s: %w", designID, err)
	}
	defer rows.Close()

	var outputs []*DesignOutput
	for rows.Next() {
		var o DesignOutput
		if err := rows.Scan(&o.DesignID, &o.Key, &o.Path, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning output: %w", err)
		}
		outputs = append(outputs, &o)
	}
	return outputs, rows.Err()
}
