package orch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout maps designs onto the filesystem. Design ids isolate
// designs, revision suffixes isolate design revisions, issue keys
// isolate parallel feature work; concurrent jobs never share a path.
type Layout struct {
	Base string
}

// DesignDocPath returns the path for a design document revision.
// Revision 0 is design_doc.md; revision N is design_doc.rN.md.
func (l Layout) DesignDocPath(designID string, revision int) string {
	name := "design_doc.md"
	if revision > 0 {
		name = fmt.Sprintf("design_doc.r%d.md", revision)
	}
	return filepath.Join(l.Base, designID, "design", name)
}

// DesignDocKey returns the output key for a design document revision.
func (l Layout) DesignDocKey(revision int) string {
	if revision > 0 {
		return fmt.Sprintf("design_doc.r%d", revision)
	}
	return "design_doc"
}

// FoundationDir returns the workspace for a foundation issue.
func (l Layout) FoundationDir(designID, issueKey string) string {
	return filepath.Join(l.Base, designID, "implementation", "foundation", issueKey)
}

// FeatureDir returns the workspace for a feature issue.
func (l Layout) FeatureDir(designID, issueKey string) string {
	return filepath.Join(l.Base, designID, "implementation", "features", issueKey)
}

// WriteFile writes content, creating parent directories as needed.
func (l Layout) WriteFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadFile reads a stored artifact.
func (l Layout) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}
