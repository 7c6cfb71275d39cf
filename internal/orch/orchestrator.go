// Package orch is the orchestrator brain: queue workers that run
// agents, the route map that advances the pipeline after each agent
// completes, and the handlers that react to external events. All
// state transitions execute on the orchestrator queue, which has
// concurrency 1, so no handler needs locks.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/confluence"
	cerrors "github.com/p-blackswan/conductor/internal/errors"
	"github.com/p-blackswan/conductor/internal/event"
	ghclient "github.com/p-blackswan/conductor/internal/github"
	"github.com/p-blackswan/conductor/internal/jira"
	"github.com/p-blackswan/conductor/internal/retry"
	"github.com/p-blackswan/conductor/internal/runner"
	"github.com/p-blackswan/conductor/internal/store"
)

// IssueTracker is the Jira surface the orchestrator needs.
type IssueTracker interface {
	CreateIssue(ctx context.Context, summary, description, issueType string) (*jira.Issue, error)
	CreateSubTask(ctx context.Context, parentKey, summary, description string) (*jira.Issue, error)
	GetSubTasks(ctx context.Context, parentKey string) ([]jira.Issue, error)
	Transition(ctx context.Context, issueKey, transitionName string) error
	AddComment(ctx context.Context, issueKey, body string) error
}

// DocumentStore is the Confluence surface the orchestrator needs.
type DocumentStore interface {
	CreatePage(ctx context.Context, title, body, parentID string) (*confluence.Page, error)
	UpdatePage(ctx context.Context, pageID, title, body string, version int) (*confluence.Page, error)
	FindPage(ctx context.Context, title string) (*confluence.Page, error)
	SetContentState(ctx context.Context, pageID, name string) error
}

// SourceControl is the GitHub surface the orchestrator needs.
type SourceControl interface {
	GetPR(ctx context.Context, number int) (*ghclient.PR, error)
	FindPR(ctx context.Context, branch string) (*ghclient.PR, error)
	MergePR(ctx context.Context, number int) error
	GetPRReviewComments(ctx context.Context, number int) ([]string, error)
	GetCheckRunLogs(ctx context.Context, runID int64) (string, error)
	GetPRBranch(ctx context.Context, number int) (string, error)
}

// Chat is the Slack surface the orchestrator needs.
type Chat interface {
	Send(ctx context.Context, text, threadTS string) error
	PostMessage(ctx context.Context, channel, text, threadTS string) (string, error)
	GetUserName(ctx context.Context, userID string) string
}

// AgentRunner supervises one agent subprocess per call.
type AgentRunner interface {
	Run(ctx context.Context, spec runner.Spec) (*runner.Result, error)
}

// Pusher is the queue surface workers push follow-up jobs onto.
type Pusher interface {
	Push(ev event.Event)
}

// Dispatcher re-enters internal events into the routing fabric.
type Dispatcher interface {
	Dispatch(ev event.Event)
}

// Stats receives agent run outcomes.
type Stats interface {
	AgentRun(agent, task string, success bool, d time.Duration)
}

// Config bounds the orchestrator's retry behaviour.
type Config struct {
	MaxCIRetries     int
	MaxReviewRetries int
	AgentTimeout     time.Duration
	AgentHeartbeat   time.Duration
}

// Orchestrator owns the pipeline.
type Orchestrator struct {
	store      *store.Store
	issues     IssueTracker
	docs       DocumentStore
	scm        SourceControl
	chat       Chat
	runner     AgentRunner
	roster     *Roster
	layout     Layout
	cfg        Config
	queues     map[string]Pusher
	dispatcher Dispatcher
	stats      Stats
	logger     zerolog.Logger
}

// New creates the orchestrator. Queues and the dispatcher are bound
// later via Bind, after the queues have been constructed around the
// orchestrator's worker functions.
func New(
	st *store.Store,
	issues IssueTracker,
	docs DocumentStore,
	scm SourceControl,
	chat Chat,
	agentRunner AgentRunner,
	roster *Roster,
	layout Layout,
	cfg Config,
	stats Stats,
	logger zerolog.Logger,
) *Orchestrator {
	if cfg.MaxCIRetries <= 0 {
		cfg.MaxCIRetries = 10
	}
	if cfg.MaxReviewRetries <= 0 {
		cfg.MaxReviewRetries = 10
	}
	return &Orchestrator{
		store:  st,
		issues: issues,
		docs:   docs,
		scm:    scm,
		chat:   chat,
		runner: agentRunner,
		roster: roster,
		layout: layout,
		cfg:    cfg,
		stats:  stats,
		logger: logger.With().Str("component", "orch").Logger(),
	}
}

// Bind wires the queues and dispatcher once they exist.
func (o *Orchestrator) Bind(queues map[string]Pusher, dispatcher Dispatcher) {
	o.queues = queues
	o.dispatcher = dispatcher
}

// requireIssues fails fast when Jira was never configured.
func (o *Orchestrator) requireIssues() (IssueTracker, error) {
	if o.issues == nil {
		return nil, fmt.Errorf("issue tracker not configured: %w", cerrors.ErrUnavailable)
	}
	return o.issues, nil
}

// requireDocs fails fast when Confluence was never configured.
func (o *Orchestrator) requireDocs() (DocumentStore, error) {
	if o.docs == nil {
		return nil, fmt.Errorf("document store not configured: %w", cerrors.ErrUnavailable)
	}
	return o.docs, nil
}

// requireSCM fails fast when GitHub was never configured.
func (o *Orchestrator) requireSCM() (SourceControl, error) {
	if o.scm == nil {
		return nil, fmt.Errorf("source control not configured: %w", cerrors.ErrUnavailable)
	}
	return o.scm, nil
}

// push enqueues a follow-up job on a named queue.
func (o *Orchestrator) push(queueName string, ev event.Event) {
	q, ok := o.queues[queueName]
	if !ok {
		o.logger.Error().Str("queue", queueName).Msg("push to unknown queue")
		return
	}
	q.Push(ev)
}

// notify sends a pipeline notification, threading under the design's
// originating chat message when intake metadata is available.
func (o *Orchestrator) notify(ctx context.Context, designID, text string) {
	threadTS := ""
	if designID != "" {
		if out, err := o.store.GetOutput(designID, intakeOutputKey); err == nil {
			threadTS = out.Path
		}
	}
	err := retry.Do(ctx, retry.Chat(), func(ctx context.Context) error {
		return o.chat.Send(ctx, text, threadTS)
	})
	if err != nil {
		o.logger.Warn().Err(err).Str("design", designID).Msg("notification failed")
	}
}

// intakeOutputKey stores the originating chat thread for a design.
// The path column carries the thread timestamp; intake metadata is
// not a file.
const intakeOutputKey = "intake"
