package orch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/runner"
)

// ArchitectWorker drains the architect queue: design intake and
// feedback revisions.
func (o *Orchestrator) ArchitectWorker(ctx context.Context, ev event.Event) error {
	switch {
	case ev.Type == event.TaskRequested:
		return o.runDesign(ctx, ev)
	case ev.Type == event.PageComment || ev.Task == TaskFeedback:
		return o.runFeedback(ctx, ev)
	default:
		return fmt.Errorf("architect queue cannot handle %s", ev.Type)
	}
}

func (o *Orchestrator) runDesign(ctx context.Context, ev event.Event) error {
	designID := ev.DesignID
	if designID == "" {
		designID = uuid.NewString()
		if _, err := o.store.CreateDesign(designID, ev.Message); err != nil {
			return err
		}
		if ev.ThreadTS != "" {
			if err := o.store.SaveOutput(designID, intakeOutputKey, ev.ThreadTS); err != nil {
				o.logger.Warn().Err(err).Str("design", designID).Msg("saving intake thread failed")
			}
		}
		if ev.Ack != nil {
			ev.Ack("Got it — starting design")
		}
	}

	sender := ev.SenderName
	if sender == "" && ev.SenderID != "" {
		sender = o.chat.GetUserName(ctx, ev.SenderID)
	}

	prompt := fmt.Sprintf("Write a design document for the following request from %s:\n\n%s\n\nInclude an implementation plan with '## Foundation' and '## Features' sections listing work items as bullets.",
		sender, ev.Message)

	res, err := o.runAgent(ctx, AgentArchitect, prompt, "")
	if err != nil {
		o.notify(ctx, designID, fmt.Sprintf("Failed: design agent error: %v", err))
		return err
	}

	path := o.layout.DesignDocPath(designID, 0)
	if err := o.layout.WriteFile(path, res.Output); err != nil {
		return err
	}

	o.emitAgentCompleted(AgentArchitect, TaskDesign, designID, ev, res, path, o.layout.DesignDocKey(0))
	return nil
}

func (o *Orchestrator) runFeedback(ctx context.Context, ev event.Event) error {
	design, err := o.store.GetDesign(ev.DesignID)
	if err != nil {
		return err
	}

	current, err := o.store.GetOutput(design.ID, o.latestDesignDocKey(design.ID))
	if err != nil {
		return err
	}
	doc, err := o.layout.ReadFile(current.Path)
	if err != nil {
		return err
	}

	revision := o.designDocRevisions(design.ID) // next revision number
	prompt := fmt.Sprintf("Revise the design document below to address this feedback:\n\n%s\n\n---\n\n%s",
		strings.Join(ev.Comments, "\n"), doc)

	res, err := o.runAgent(ctx, AgentArchitect, prompt, "")
	if err != nil {
		o.notify(ctx, design.ID, fmt.Sprintf("Failed: design revision error: %v", err))
		return err
	}

	path := o.layout.DesignDocPath(design.ID, revision)
	if err := o.layout.WriteFile(path, res.Output); err != nil {
		return err
	}

	o.emitAgentCompleted(AgentArchitect, TaskFeedback, design.ID, ev, res, path, o.layout.DesignDocKey(revision))
	return nil
}

// CodeWriterWorker drains the code-writer queue: implementation runs
// and the three fix variants.
func (o *Orchestrator) CodeWriterWorker(ctx context.Context, ev event.Event) error {
	task := ev.Task
	if task == "" {
		switch ev.Type {
		case event.PRChangesRequested, event.PRComment:
			task = TaskHumanFeedback
		default:
			return fmt.Errorf("code_writer queue cannot handle %s", ev.Type)
		}
	}

	designID := ev.DesignID
	if designID == "" && ev.PRNumber > 0 {
		if pr, err := o.store.GetPRState(ev.PRNumber); err == nil {
			designID = pr.DesignID
			if ev.IssueKey == "" {
				ev.IssueKey = pr.IssueKey
			}
		}
	}

	prompt, err := o.codeWriterPrompt(ctx, task, ev)
	if err != nil {
		return err
	}

	res, err := o.runAgent(ctx, AgentCodeWriter, prompt, ev.Branch)
	if err != nil {
		o.notify(ctx, designID, fmt.Sprintf("Failed: code writer error on %s: %v", ev.IssueKey, err))
		return err
	}

	done := event.New(event.SourceInternal, event.AgentCompleted)
	done.Agent = AgentCodeWriter
	done.Task = task
	done.DesignID = designID
	done.IssueKey = ev.IssueKey
	done.Branch = ev.Branch
	done.PRNumber = ev.PRNumber
	done.Result = resultToEvent(res)
	o.dispatcher.Dispatch(done)
	return nil
}

func (o *Orchestrator) codeWriterPrompt(ctx context.Context, task string, ev event.Event) (string, error) {
	switch task {
	case TaskImplementation:
		design, err := o.store.GetDesign(ev.DesignID)
		if err != nil {
			return "", err
		}
		out, err := o.store.GetOutput(design.ID, o.latestDesignDocKey(design.ID))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Implement %s (%s) on branch %s following the design document at %s. Open a pull request when done.",
			ev.IssueKey, ev.Message, ev.Branch, out.Path), nil

	case TaskCIFix:
		return fmt.Sprintf("CI is failing on branch %s (PR #%d). Diagnose the failure and push a fix.\n\nFailure log:\n%s",
			ev.Branch, ev.PRNumber, ev.Message), nil

	case TaskReviewFix:
		var comments []string
		if o.scm != nil {
			var err error
			comments, err = o.scm.GetPRReviewComments(ctx, ev.PRNumber)
			if err != nil {
				o.logger.Warn().Err(err).Int("pr", ev.PRNumber).Msg("review comment fetch failed")
			}
		}
		return fmt.Sprintf("Automated review rejected PR #%d. Address the review comments and push an update.\n\n%s",
			ev.PRNumber, strings.Join(comments, "\n")), nil

	case TaskHumanFeedback:
		return fmt.Sprintf("A human requested changes on PR #%d. Address each point and push an update.\n\n%s",
			ev.PRNumber, strings.Join(ev.Comments, "\n")), nil

	default:
		return "", fmt.Errorf("unknown code_writer task %q", task)
	}
}

// ReviewerWorker drains the reviewer queue: design review gates and
// automated code review.
func (o *Orchestrator) ReviewerWorker(ctx context.Context, ev event.Event) error {
	var prompt string
	switch ev.Task {
	case TaskDesignReview:
		out, err := o.store.GetOutput(ev.DesignID, ev.Result.OutputKey)
		if err != nil {
			return err
		}
		doc, err := o.layout.ReadFile(out.Path)
		if err != nil {
			return err
		}
		prompt = fmt.Sprintf("Review this design document. Exit non-zero if it must be revised.\n\n%s", doc)

	case TaskCodeReview:
		prompt = fmt.Sprintf("Review pull request #%d on branch %s. Exit non-zero if changes are required.",
			ev.PRNumber, ev.Branch)

	default:
		return fmt.Errorf("reviewer queue cannot handle task %q", ev.Task)
	}

	res, err := o.runAgent(ctx, AgentReviewer, prompt, "")
	if err != nil {
		return err
	}

	done := event.New(event.SourceInternal, event.AgentCompleted)
	done.Agent = AgentReviewer
	done.Task = ev.Task
	done.DesignID = ev.DesignID
	done.IssueKey = ev.IssueKey
	done.Branch = ev.Branch
	done.PRNumber = ev.PRNumber
	done.Result = resultToEvent(res)
	if ev.Result != nil {
		done.Result.OutputPath = ev.Result.OutputPath
		done.Result.OutputKey = ev.Result.OutputKey
	}
	o.dispatcher.Dispatch(done)
	return nil
}

// runAgent runs one supervised agent with roster settings applied.
func (o *Orchestrator) runAgent(ctx context.Context, agent, prompt, branch string) (*runner.Result, error) {
	spec := o.roster.Spec(agent)
	runSpec := runner.Spec{
		Agent:        agent,
		Prompt:       prompt,
		AllowedTools: spec.AllowedTools,
		Timeout:      o.cfg.AgentTimeout,
		Heartbeat:    o.cfg.AgentHeartbeat,
		Worktree:     spec.Worktree && branch != "",
		KeepWorktree: spec.KeepWorktree,
		Branch:       branch,
	}

	res, err := o.runner.Run(ctx, runSpec)
	if o.stats != nil {
		success := err == nil && res != nil && res.Success
		var d = o.cfg.AgentTimeout
		if res != nil {
			d = res.Duration
		}
		o.stats.AgentRun(agent, "", success, d)
	}
	return res, err
}

func (o *Orchestrator) emitAgentCompleted(agent, task, designID string, src event.Event, res *runner.Result, path, key string) {
	done := event.New(event.SourceInternal, event.AgentCompleted)
	done.Agent = agent
	done.Task = task
	done.DesignID = designID
	done.IssueKey = src.IssueKey
	done.Branch = src.Branch
	done.PRNumber = src.PRNumber
	done.Result = resultToEvent(res)
	done.Result.OutputPath = path
	done.Result.OutputKey = key
	o.dispatcher.Dispatch(done)
}

func resultToEvent(res *runner.Result) *event.AgentResult {
	if res == nil {
		return &event.AgentResult{}
	}
	return &event.AgentResult{
		Success:    res.Success && !res.IsError,
		Result:     res.Output,
		CostUSD:    res.CostUSD,
		DurationMS: res.DurationMS,
		NumTurns:   res.NumTurns,
		SessionID:  res.SessionID,
	}
}

// latestDesignDocKey returns the key of the newest design document
// revision for a design.
func (o *Orchestrator) latestDesignDocKey(designID string) string {
	n := o.designDocRevisions(designID)
	return o.layout.DesignDocKey(n - 1)
}

// designDocRevisions counts stored design_doc outputs; the result is
// the next free revision number.
func (o *Orchestrator) designDocRevisions(designID string) int {
	outputs, err := o.store.ListOutputs(designID)
	if err != nil {
		return 0
	}
	n := 0
	for _, out := range outputs {
		if out.Key == "design_doc" || strings.HasPrefix(out.Key, "design_doc.r") {
			n++
		}
	}
	return n
}
