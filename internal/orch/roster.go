package orch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Agent names known to the route map.
const (
	AgentArchitect  = "architect"
	AgentCodeWriter = "code_writer"
	AgentReviewer   = "reviewer"
)

// Task types known to the route map.
const (
	TaskDesign         = "design"
	TaskFeedback       = "feedback"
	TaskImplementation = "implementation"
	TaskCIFix          = "ci_fix"
	TaskReviewFix      = "review_fix"
	TaskHumanFeedback  = "human_feedback"
	TaskDesignReview   = "design_review"
	TaskCodeReview     = "code_review"
)

// AgentSpec configures one agent in the roster file.
type AgentSpec struct {
	AllowedTools []string `yaml:"allowed_tools"`
	Worktree     bool     `yaml:"worktree"`
	KeepWorktree bool     `yaml:"keep_worktree"`
}

// Roster is the set of agents the orchestrator may run, loaded from
// agents.yaml.
type Roster struct {
	Agents map[string]AgentSpec `yaml:"agents"`
}

// defaultRoster covers a deployment with no roster file.
func defaultRoster() *Roster {
	return &Roster{Agents: map[string]AgentSpec{
		AgentArchitect:  {},
		AgentReviewer:   {},
		AgentCodeWriter: {Worktree: true},
	}}
}

// LoadRoster reads the roster file. A missing file yields the default
// roster; a malformed file is an error.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaultRoster(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading roster %s: %w", path, err)
	}

	var roster Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return nil, fmt.Errorf("parsing roster %s: %w", path, err)
	}
	if roster.Agents == nil {
		return defaultRoster(), nil
	}
	return &roster, nil
}

// Spec returns the configuration for an agent, zero-valued when the
// roster does not mention it.
func (r *Roster) Spec(agent string) AgentSpec {
	return r.Agents[agent]
}
