package runner

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// GitWorktrees manages isolated git worktrees under a base directory.
// One worktree per branch; branch names already isolate parallel
// feature work, so paths never collide.
type GitWorktrees struct {
	RepoDir string
	BaseDir string
	logger  zerolog.Logger
}

// NewGitWorktrees creates a worktree manager rooted at baseDir.
func NewGitWorktrees(repoDir, baseDir string, logger zerolog.Logger) *GitWorktrees {
	return &GitWorktrees{
		RepoDir: repoDir,
		BaseDir: baseDir,
		logger:  logger.With().Str("component", "worktrees").Logger(),
	}
}

// Create adds a fresh worktree on a new branch and returns its path.
func (g *GitWorktrees) Create(ctx context.Context, branch string) (string, error) {
	if branch == "" {
		return "", fmt.Errorf("worktree branch is required")
	}
	dir := filepath.Join(g.BaseDir, sanitizeBranch(branch))

	cmd := exec.CommandContext(ctx, "git", "-C", g.RepoDir, "worktree", "add", "-b", branch, dir)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("git worktree add %s: %s: %w", branch, strings.TrimSpace(string(out)), err)
	}

	g.logger.Info().Str("branch", branch).Str("dir", dir).Msg("worktree created")
	return dir, nil
}

// Remove deletes a worktree and prunes its registration.
func (g *GitWorktrees) Remove(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", g.RepoDir, "worktree", "remove", "--force", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git worktree remove %s: %s: %w", path, strings.TrimSpace(string(out)), err)
	}
	g.logger.Info().Str("dir", path).Msg("worktree removed")
	return nil
}

func sanitizeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}
