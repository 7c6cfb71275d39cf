package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	HTTPPort    int    `envconfig:"HTTP_PORT" default:"8080"`

	// State store
	DBPath string `envconfig:"DB_PATH" default:"conductor.db"`

	// Design artifact root. Agents write files under
	// {DesignDir}/{designID}/... and only paths travel across queues.
	DesignDir string `envconfig:"DESIGN_DIR" default:"designs"`

	// Queue concurrency caps
	ArchitectWorkers    int `envconfig:"ARCHITECT_WORKERS" default:"2"`
	CodeWriterWorkers   int `envconfig:"CODE_WRITER_WORKERS" default:"3"`
	ReviewerWorkers     int `envconfig:"REVIEWER_WORKERS" default:"2"`
	OrchestratorWorkers int `envconfig:"ORCHESTRATOR_WORKERS" default:"1"`

	// Retry caps for the pipeline state machine
	MaxCIRetries     int `envconfig:"MAX_CI_RETRIES" default:"10"`
	MaxReviewRetries int `envconfig:"MAX_REVIEW_RETRIES" default:"10"`

	// Agent runner
	AgentBin       string        `envconfig:"AGENT_BIN" default:"claude"`
	AgentTimeout   time.Duration `envconfig:"AGENT_TIMEOUT" default:"1h"`
	AgentHeartbeat time.Duration `envconfig:"AGENT_HEARTBEAT" default:"10m"`
	AgentRoster    string        `envconfig:"AGENT_ROSTER" default:"agents.yaml"`
	RepoDir        string        `envconfig:"REPO_DIR" default:"."`

	// Polling bridge
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`

	// Slack
	SlackSigningSecret string `envconfig:"SLACK_SIGNING_SECRET"`
	SlackBotToken      string `envconfig:"SLACK_BOT_TOKEN"`
	SlackWebhookURL    string `envconfig:"SLACK_WEBHOOK_URL"`
	SlackChannel       string `envconfig:"SLACK_CHANNEL"`

	// GitHub App
	GitHubWebhookSecret  string `envconfig:"GITHUB_WEBHOOK_SECRET"`
	GitHubAppID          int64  `envconfig:"GITHUB_APP_ID"`
	GitHubInstallationID int64  `envconfig:"GITHUB_INSTALLATION_ID"`
	GitHubPrivateKeyPath string `envconfig:"GITHUB_PRIVATE_KEY_PATH"`
	GitHubOwner          string `envconfig:"GITHUB_OWNER"`
	GitHubRepo           string `envconfig:"GITHUB_REPO"`

	// Jira (basic auth)
	JiraBaseURL    string `envconfig:"JIRA_BASE_URL"`
	JiraAPIEmail   string `envconfig:"JIRA_API_EMAIL"`
	JiraAPIToken   string `envconfig:"JIRA_API_TOKEN"`
	JiraProjectKey string `envconfig:"JIRA_PROJECT_KEY"`

	// Confluence
	ConfluenceBaseURL  string `envconfig:"CONFLUENCE_BASE_URL"`
	ConfluenceAPIEmail string `envconfig:"CONFLUENCE_API_EMAIL"`
	ConfluenceAPIToken string `envconfig:"CONFLUENCE_API_TOKEN"`
	ConfluenceSpaceKey string `envconfig:"CONFLUENCE_SPACE_KEY"`

	// Shutdown
	DrainGracePeriod time.Duration `envconfig:"DRAIN_GRACE_PERIOD" default:"30s"`
}

// SlackEnabled returns true if Slack credentials are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" || c.SlackWebhookURL != ""
}

// GitHubEnabled returns true if GitHub App credentials are configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubAppID > 0 && c.GitHubPrivateKeyPath != ""
}

// JiraEnabled returns true if Jira base URL is configured.
func (c *Config) JiraEnabled() bool {
	return c.JiraBaseURL != ""
}

// ConfluenceEnabled returns true if Confluence base URL is configured.
func (c *Config) ConfluenceEnabled() bool {
	return c.ConfluenceBaseURL != ""
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}
