package orch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRoster_MissingFileYieldsDefaults(t *testing.T) {
	roster, err := LoadRoster(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.True(t, roster.Spec(AgentCodeWriter).Worktree)
	assert.False(t, roster.Spec(AgentArchitect).Worktree)
}

func TestLoadRoster_ParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	content := `agents:
  architect:
    allowed_tools: [Read, Grep]
  code_writer:
    allowed_tools: [Read, Write, Bash]
    worktree: true
    keep_worktree: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	roster, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Read", "Grep"}, roster.Spec(AgentArchitect).AllowedTools)
	assert.True(t, roster.Spec(AgentCodeWriter).Worktree)
	assert.True(t, roster.Spec(AgentCodeWriter).KeepWorktree)
	assert.Empty(t, roster.Spec("unknown").AllowedTools)
}

func TestLoadRoster_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agents: [not a map"), 0o644))
	_, err := LoadRoster(path)
	assert.Error(t, err)
}
