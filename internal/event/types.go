// Package event defines the orchestrator's domain events and the
// first-match dispatcher that routes them onto named job queues.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type discriminates the closed set of orchestrator events.
type Type string

const (
	TaskRequested      Type = "task:requested"
	PageApproved       Type = "page:approved"
	PageComment        Type = "page:comment"
	PRChangesRequested Type = "pr:changes_requested"
	PRComment          Type = "pr:comment"
	PRApproved         Type = "pr:approved"
	PRMerged           Type = "pr:merged"
	CIFailed           Type = "ci:failed"
	CIPassed           Type = "ci:passed"
	AgentCompleted     Type = "agent:completed"
	StageCompleted     Type = "stage:completed"

	// AgentTask is an internal work order pushed directly onto an
	// agent queue by the route map. It never crosses the dispatcher.
	AgentTask Type = "agent:task"
)

// Source identifiers for event origins.
const (
	SourceSlack      = "slack"
	SourceGitHub     = "github"
	SourceConfluence = "confluence"
	SourceInternal   = "internal"
)

// AgentResult is the settled outcome of one supervised agent run,
// carried on agent:completed events.
type AgentResult struct {
	Success    bool
	Result     string
	CostUSD    float64
	DurationMS int64
	NumTurns   int
	SessionID  string
	OutputPath string
	OutputKey  string
	Err        string
}

// Event is the tagged variant flowing through the dispatcher. Type
// selects the variant; only the field group for that variant is
// populated. Handlers switch on Type and must not rely on fields
// outside their variant's group.
type Event struct {
	ID        string
	Source    string
	Type      Type
	Raw       json.RawMessage
	Timestamp time.Time

	// Source-control events
	PRNumber int
	Branch   string
	IssueKey string
	CheckRun int64

	// Document events
	PageID   string
	DesignID string

	// Chat events
	Message    string
	SenderID   string
	SenderName string
	Channel    string
	ThreadTS   string
	Ack        func(text string)

	// Comment-bearing events; always non-nil with length >= 1.
	Comments []string

	// Agent completion
	Agent  string
	Task   string
	Result *AgentResult

	// Stage completion
	FromStage string
	ToStage   string
}

// New constructs an Event with a generated ID and current timestamp.
func New(source string, t Type) Event {
	return Event{
		ID:        "evt_" + uuid.NewString(),
		Source:    source,
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}
