package orch

import (
	"context"
	"fmt"
	"strings"

	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/jira"
	"github.com/p-blackswan/conductor/internal/retry"
	"github.com/p-blackswan/conductor/internal/store"
)

// handlePageApproved records the human approval and emits the stage
// transition.
func (o *Orchestrator) handlePageApproved(ctx context.Context, ev event.Event) error {
	design, err := o.store.GetDesign(ev.DesignID)
	if err != nil {
		return err
	}
	// The poller re-reports approval every tick; only act once.
	if design.Status == store.StatusApproved || design.Stage != store.StageDesign {
		return nil
	}

	if err := o.store.UpdateDesignStatus(design.ID, store.StatusApproved); err != nil {
		return err
	}

	done := event.New(event.SourceInternal, event.StageCompleted)
	done.DesignID = design.ID
	done.FromStage = store.StageDesign
	done.ToStage = store.StageImplementation
	o.dispatcher.Dispatch(done)
	return nil
}

// handleStageCompleted starts implementation: parse the plan, create
// the parent issue and sub-tasks, then run the foundation first or
// fan the features out.
func (o *Orchestrator) handleStageCompleted(ctx context.Context, ev event.Event) error {
	if ev.FromStage != store.StageDesign || ev.ToStage != store.StageImplementation {
		o.logger.Warn().Str("from", ev.FromStage).Str("to", ev.ToStage).Msg("unhandled stage transition")
		return nil
	}

	design, err := o.store.GetDesign(ev.DesignID)
	if err != nil {
		return err
	}
	// Replays are no-ops once the stage has advanced.
	if design.Stage != store.StageDesign {
		return nil
	}

	plan, err := o.loadPlan(design.ID)
	if err != nil {
		o.notify(ctx, design.ID, fmt.Sprintf("Failed: cannot parse implementation plan: %v", err))
		return err
	}

	issues, err := o.requireIssues()
	if err != nil {
		return err
	}
	parentKey := design.ParentKey
	if parentKey == "" {
		var parent *jira.Issue
		err := retry.Do(ctx, retry.Atlassian(), func(ctx context.Context) error {
			var createErr error
			parent, createErr = issues.CreateIssue(ctx, design.Description,
				fmt.Sprintf("Parent issue for design %s", design.ID), "Task")
			return createErr
		})
		if err != nil {
			return err
		}
		parentKey = parent.Key
		if err := o.store.SetDesignParentKey(design.ID, parentKey); err != nil {
			return err
		}
	}

	if err := o.store.UpdateDesignStage(design.ID, store.StageImplementation); err != nil {
		return err
	}

	items := plan.Features
	if plan.Foundation != nil {
		items = append([]WorkItem{*plan.Foundation}, items...)
	}
	keys, err := o.ensureSubTasks(ctx, parentKey, items)
	if err != nil {
		return err
	}

	o.notify(ctx, design.ID, "Implementation started")

	if plan.Foundation != nil {
		o.enqueueImplementation(design.ID, keys[plan.Foundation.Title], *plan.Foundation)
		return nil
	}
	for _, feat := range plan.Features {
		o.enqueueImplementation(design.ID, keys[feat.Title], feat)
	}
	return nil
}

// loadPlan re-parses the newest design document.
func (o *Orchestrator) loadPlan(designID string) (*Plan, error) {
	out, err := o.store.GetOutput(designID, o.latestDesignDocKey(designID))
	if err != nil {
		return nil, err
	}
	doc, err := o.layout.ReadFile(out.Path)
	if err != nil {
		return nil, err
	}
	return ParsePlan(doc)
}

// ensureSubTasks creates one sub-task per work item, skipping items
// whose summary already exists under the parent.
func (o *Orchestrator) ensureSubTasks(ctx context.Context, parentKey string, items []WorkItem) (map[string]string, error) {
	existing, err := o.issues.GetSubTasks(ctx, parentKey)
	if err != nil {
		return nil, err
	}
	bySummary := make(map[string]string, len(existing))
	for _, issue := range existing {
		bySummary[issue.Fields.Summary] = issue.Key
	}

	keys := make(map[string]string, len(items))
	for _, item := range items {
		if key, ok := bySummary[item.Title]; ok {
			keys[item.Title] = key
			continue
		}
		sub, err := o.issues.CreateSubTask(ctx, parentKey, item.Title, "")
		if err != nil {
			return nil, err
		}
		keys[item.Title] = sub.Key
	}
	return keys, nil
}

// enqueueImplementation pushes one code-writer job. The route map
// never enqueues a second job for a stage already advancing: jobs are
// only created here and on foundation merge, each exactly once per
// issue key.
func (o *Orchestrator) enqueueImplementation(designID, issueKey string, item WorkItem) {
	job := event.New(event.SourceInternal, event.AgentTask)
	job.Task = TaskImplementation
	job.DesignID = designID
	job.IssueKey = issueKey
	job.Message = item.Title
	job.Branch = fmt.Sprintf("feature/%s-%s", strings.ToLower(issueKey), item.Slug)
	o.push("code_writer", job)
}

// handleCIFailed triages the failure and decides between fix, retry
// and escalation. The attempt cap is checked before the increment so
// the counter never exceeds it.
func (o *Orchestrator) handleCIFailed(ctx context.Context, ev event.Event) error {
	pr, err := o.resolvePRState(ctx, ev)
	if err != nil {
		return err
	}
	if pr.Stage == store.PRStageMerged || pr.Stage == store.PRStageFailed {
		return nil
	}

	logText := ev.Message
	if logText == "" && ev.CheckRun != 0 && o.scm != nil {
		logText, err = o.scm.GetCheckRunLogs(ctx, ev.CheckRun)
		if err != nil {
			o.logger.Warn().Err(err).Int64("check_run", ev.CheckRun).Msg("check run log fetch failed")
		}
	}
	class := ClassifyCIFailure(logText)

	switch class {
	case FailureEnvironment:
		o.notify(ctx, pr.DesignID, fmt.Sprintf("Failed: environment CI failure on PR #%d, manual action needed", pr.PRNumber))
		return o.store.UpdatePRCIStatus(pr.PRNumber, store.CheckFailing)

	case FailureFlaky:
		if pr.CIAttempts >= 1 {
			o.notify(ctx, pr.DesignID, fmt.Sprintf("Failed: CI on PR #%d keeps flaking, manual action needed", pr.PRNumber))
			return o.store.UpdatePRCIStatus(pr.PRNumber, store.CheckFailing)
		}
		if _, err := o.store.IncrementPRCIAttempts(pr.PRNumber); err != nil {
			return err
		}
		return o.enqueueCIFix(ctx, pr, logText)

	case FailureAgentFixable, FailureUnknown:
		if pr.CIAttempts >= o.cfg.MaxCIRetries {
			if err := o.store.UpdatePRStage(pr.PRNumber, store.PRStageFailed); err != nil {
				return err
			}
			o.notify(ctx, pr.DesignID, fmt.Sprintf("Failed: PR #%d exhausted CI attempts", pr.PRNumber))
			return nil
		}
		if _, err := o.store.IncrementPRCIAttempts(pr.PRNumber); err != nil {
			return err
		}
		return o.enqueueCIFix(ctx, pr, logText)
	}
	return nil
}

func (o *Orchestrator) enqueueCIFix(ctx context.Context, pr *store.PRState, logText string) error {
	if err := o.store.UpdatePRCIStatus(pr.PRNumber, store.CheckFailing); err != nil {
		return err
	}
	branch := ""
	if o.scm != nil {
		var err error
		branch, err = o.scm.GetPRBranch(ctx, pr.PRNumber)
		if err != nil {
			o.logger.Warn().Err(err).Int("pr", pr.PRNumber).Msg("branch lookup failed")
		}
	}

	fix := event.New(event.SourceInternal, event.AgentTask)
	fix.Task = TaskCIFix
	fix.DesignID = pr.DesignID
	fix.IssueKey = pr.IssueKey
	fix.Branch = branch
	fix.PRNumber = pr.PRNumber
	fix.Message = logText
	o.push("code_writer", fix)
	return nil
}

// handleCIPassed updates status and checks the human gate.
func (o *Orchestrator) handleCIPassed(ctx context.Context, ev event.Event) error {
	pr, err := o.resolvePRState(ctx, ev)
	if err != nil {
		return err
	}
	if pr.Stage == store.PRStageMerged || pr.Stage == store.PRStageFailed {
		return nil
	}
	if err := o.store.UpdatePRCIStatus(pr.PRNumber, store.CheckPassing); err != nil {
		return err
	}
	return o.checkReadyForHuman(ctx, pr.PRNumber, pr.DesignID)
}

// handlePRApproved squash-merges and advances the issue tree.
func (o *Orchestrator) handlePRApproved(ctx context.Context, ev event.Event) error {
	pr, err := o.resolvePRState(ctx, ev)
	if err != nil {
		return err
	}

	if _, err := o.requireSCM(); err != nil {
		return err
	}

	// Idempotency guard: a webhook replay after merge is a no-op.
	ghPR, err := o.scm.GetPR(ctx, pr.PRNumber)
	if err != nil {
		return err
	}
	if ghPR == nil {
		return fmt.Errorf("PR #%d vanished from source control", pr.PRNumber)
	}
	if !ghPR.Merged {
		err := retry.Do(ctx, retry.GitHub(), func(ctx context.Context) error {
			return o.scm.MergePR(ctx, pr.PRNumber)
		})
		if err != nil {
			return err
		}
	}

	return o.finishMergedPR(ctx, pr)
}

// handlePRMerged records an externally observed merge.
func (o *Orchestrator) handlePRMerged(ctx context.Context, ev event.Event) error {
	pr, err := o.resolvePRState(ctx, ev)
	if err != nil {
		return err
	}
	return o.finishMergedPR(ctx, pr)
}

// finishMergedPR transitions the sub-task, releases gated feature
// work after a foundation merge, and closes the design when the last
// sibling lands.
func (o *Orchestrator) finishMergedPR(ctx context.Context, pr *store.PRState) error {
	if pr.Stage != store.PRStageMerged {
		if err := o.store.UpdatePRStage(pr.PRNumber, store.PRStageMerged); err != nil {
			return err
		}
		if pr.IssueKey != "" && o.issues != nil {
			if err := o.issues.Transition(ctx, pr.IssueKey, "Done"); err != nil {
				o.logger.Warn().Err(err).Str("issue", pr.IssueKey).Msg("sub-task transition failed")
			}
			if err := o.issues.AddComment(ctx, pr.IssueKey, fmt.Sprintf("Merged in PR #%d", pr.PRNumber)); err != nil {
				o.logger.Warn().Err(err).Str("issue", pr.IssueKey).Msg("merge comment failed")
			}
		}
		o.notify(ctx, pr.DesignID, fmt.Sprintf("PR merged: #%d (%s)", pr.PRNumber, pr.IssueKey))

		// A foundation PR (no feature slug) gates the feature fan-out.
		if pr.FeatureSlug == "" {
			if err := o.fanOutFeatures(ctx, pr.DesignID); err != nil {
				return err
			}
			// The feature PRs just released have no records yet, so
			// the foundation is not the last sibling.
			if plan, err := o.loadPlan(pr.DesignID); err == nil && len(plan.Features) > 0 {
				return nil
			}
		}
	}

	allMerged, err := o.store.AllSiblingsMerged(pr.DesignID)
	if err != nil {
		return err
	}
	if !allMerged {
		return nil
	}

	design, err := o.store.GetDesign(pr.DesignID)
	if err != nil {
		return err
	}
	if design.Stage == store.StageComplete {
		return nil
	}
	if design.ParentKey != "" && o.issues != nil {
		if err := o.issues.Transition(ctx, design.ParentKey, "Done"); err != nil {
			o.logger.Warn().Err(err).Str("issue", design.ParentKey).Msg("parent transition failed")
		}
	}
	if err := o.store.UpdateDesignStage(design.ID, store.StageComplete); err != nil {
		return err
	}
	o.notify(ctx, design.ID, fmt.Sprintf("All PRs merged, design %s complete", design.ID))
	return nil
}

// fanOutFeatures enqueues one code-writer job per feature item that
// does not already have a PR under way.
func (o *Orchestrator) fanOutFeatures(ctx context.Context, designID string) error {
	if _, err := o.requireIssues(); err != nil {
		return err
	}
	design, err := o.store.GetDesign(designID)
	if err != nil {
		return err
	}
	plan, err := o.loadPlan(designID)
	if err != nil {
		return err
	}
	if len(plan.Features) == 0 {
		return nil
	}

	keys, err := o.ensureSubTasks(ctx, design.ParentKey, plan.Features)
	if err != nil {
		return err
	}

	states, err := o.store.ListPRStatesByDesign(designID)
	if err != nil {
		return err
	}
	active := make(map[string]bool, len(states))
	for _, st := range states {
		active[st.IssueKey] = true
	}

	for _, feat := range plan.Features {
		key := keys[feat.Title]
		if active[key] {
			continue
		}
		o.enqueueImplementation(designID, key, feat)
	}
	return nil
}

// resolvePRState finds the PR record for an event, falling back to a
// branch lookup when the webhook carried no PR number.
func (o *Orchestrator) resolvePRState(ctx context.Context, ev event.Event) (*store.PRState, error) {
	number := ev.PRNumber
	if number == 0 && ev.Branch != "" && o.scm != nil {
		pr, err := o.scm.FindPR(ctx, ev.Branch)
		if err != nil {
			return nil, err
		}
		if pr != nil {
			number = pr.Number
		}
	}
	if number == 0 {
		return nil, fmt.Errorf("event %s names no PR", ev.ID)
	}
	return o.store.GetPRState(number)
}
