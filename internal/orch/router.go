package orch

import (
	"context"
	"fmt"

	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/store"
)

// OrchestratorWorker drains the orchestrator queue. Concurrency 1
// makes every branch below a serialised state transition.
func (o *Orchestrator) OrchestratorWorker(ctx context.Context, ev event.Event) error {
	switch ev.Type {
	case event.AgentCompleted:
		return o.route(ctx, ev)
	case event.PageApproved:
		return o.handlePageApproved(ctx, ev)
	case event.StageCompleted:
		return o.handleStageCompleted(ctx, ev)
	case event.CIFailed:
		return o.handleCIFailed(ctx, ev)
	case event.CIPassed:
		return o.handleCIPassed(ctx, ev)
	case event.PRApproved:
		return o.handlePRApproved(ctx, ev)
	case event.PRMerged:
		return o.handlePRMerged(ctx, ev)
	default:
		return fmt.Errorf("orchestrator queue cannot handle %s", ev.Type)
	}
}

// route advances the pipeline after an agent settles. Keyed by
// (agent, task); unknown pairs log and return.
func (o *Orchestrator) route(ctx context.Context, ev event.Event) error {
	switch ev.Agent + ":" + ev.Task {
	case AgentArchitect + ":" + TaskDesign, AgentArchitect + ":" + TaskFeedback:
		return o.routeArchitectDone(ctx, ev)
	case AgentReviewer + ":" + TaskDesignReview:
		return o.routeDesignReviewed(ctx, ev)
	case AgentCodeWriter + ":" + TaskImplementation:
		return o.routeImplementationDone(ctx, ev)
	case AgentCodeWriter + ":" + TaskCIFix:
		return o.routeCIFixDone(ctx, ev)
	case AgentCodeWriter + ":" + TaskReviewFix, AgentCodeWriter + ":" + TaskHumanFeedback:
		return o.routeFixDone(ctx, ev)
	case AgentReviewer + ":" + TaskCodeReview:
		return o.routeCodeReviewed(ctx, ev)
	default:
		o.logger.Warn().Str("agent", ev.Agent).Str("task", ev.Task).Msg("no route for agent completion")
		return nil
	}
}

// routeArchitectDone persists the document output and runs the review
// gate.
func (o *Orchestrator) routeArchitectDone(ctx context.Context, ev event.Event) error {
	if ev.Result == nil || ev.Result.OutputPath == "" {
		return fmt.Errorf("architect completion without output path for design %s", ev.DesignID)
	}
	if err := o.store.SaveOutput(ev.DesignID, ev.Result.OutputKey, ev.Result.OutputPath); err != nil {
		return err
	}

	review := event.New(event.SourceInternal, event.AgentTask)
	review.Task = TaskDesignReview
	review.DesignID = ev.DesignID
	review.Result = &event.AgentResult{OutputPath: ev.Result.OutputPath, OutputKey: ev.Result.OutputKey}
	o.push("reviewer", review)
	return nil
}

// routeDesignReviewed publishes on pass, loops back through the
// architect on fail, and fails the design when revisions exhaust.
func (o *Orchestrator) routeDesignReviewed(ctx context.Context, ev event.Event) error {
	design, err := o.store.GetDesign(ev.DesignID)
	if err != nil {
		return err
	}

	if ev.Result != nil && ev.Result.Success {
		return o.publishDesign(ctx, design, ev)
	}

	if design.ReviewAttempts >= o.cfg.MaxReviewRetries {
		if err := o.store.UpdateDesignStatus(design.ID, store.StatusFailed); err != nil {
			return err
		}
		o.notify(ctx, design.ID, fmt.Sprintf("Failed: design %s exhausted review attempts", design.ID))
		return nil
	}
	if _, err := o.store.IncrementDesignReviewAttempts(design.ID); err != nil {
		return err
	}

	feedback := event.New(event.SourceInternal, event.AgentTask)
	feedback.Task = TaskFeedback
	feedback.DesignID = design.ID
	feedback.Comments = []string{reviewFeedback(ev)}
	o.push("architect", feedback)
	return nil
}

func reviewFeedback(ev event.Event) string {
	if ev.Result != nil && ev.Result.Result != "" {
		return ev.Result.Result
	}
	return "The review gate rejected the document; tighten the design and resubmit."
}

// publishDesign creates or updates the Confluence page and flips it
// to In Review.
func (o *Orchestrator) publishDesign(ctx context.Context, design *store.Design, ev event.Event) error {
	if _, err := o.requireDocs(); err != nil {
		return err
	}
	doc, err := o.layout.ReadFile(ev.Result.OutputPath)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("[%s] %s", design.ID, design.Description)

	pageID := design.PageID
	var link string
	if pageID == "" {
		// Idempotency guard: a prior run may have published already.
		existing, err := o.docs.FindPage(ctx, title)
		if err != nil {
			return err
		}
		if existing != nil {
			pageID = existing.ID
			link = existing.Link
			if _, err := o.docs.UpdatePage(ctx, pageID, title, doc, existing.Version); err != nil {
				return err
			}
		} else {
			page, err := o.docs.CreatePage(ctx, title, doc, "")
			if err != nil {
				return err
			}
			pageID = page.ID
			link = page.Link
		}
		if err := o.store.SetDesignPageID(design.ID, pageID); err != nil {
			return err
		}
	} else {
		page, err := o.docs.FindPage(ctx, title)
		if err != nil {
			return err
		}
		version := 1
		if page != nil {
			version = page.Version
			link = page.Link
		}
		if _, err := o.docs.UpdatePage(ctx, pageID, title, doc, version); err != nil {
			return err
		}
	}

	if err := o.docs.SetContentState(ctx, pageID, "In Review"); err != nil {
		return err
	}

	o.notify(ctx, design.ID, fmt.Sprintf("Design ready for review: %s", link))
	return nil
}

// routeImplementationDone verifies the PR and starts the CI and
// review pipelines.
func (o *Orchestrator) routeImplementationDone(ctx context.Context, ev event.Event) error {
	if _, err := o.requireSCM(); err != nil {
		return err
	}
	pr, err := o.scm.FindPR(ctx, ev.Branch)
	if err != nil {
		return err
	}
	if pr == nil {
		o.notify(ctx, ev.DesignID, fmt.Sprintf("Failed: no PR found for branch %s (%s)", ev.Branch, ev.IssueKey))
		return fmt.Errorf("no PR for branch %s", ev.Branch)
	}

	if _, err := o.store.GetPRState(pr.Number); err != nil {
		design, derr := o.store.GetDesign(ev.DesignID)
		if derr != nil {
			return derr
		}
		slug := ""
		if ev.Message != "" {
			slug = Slugify(ev.Message)
		}
		if _, err := o.store.CreatePRState(pr.Number, design.ID, ev.IssueKey, design.ParentKey, slug); err != nil {
			return err
		}
	}

	// CI starts on push; the automated review starts here.
	review := event.New(event.SourceInternal, event.AgentTask)
	review.Task = TaskCodeReview
	review.DesignID = ev.DesignID
	review.IssueKey = ev.IssueKey
	review.Branch = ev.Branch
	review.PRNumber = pr.Number
	o.push("reviewer", review)
	return nil
}

// routeCIFixDone marks CI pending again; the next check_suite webhook
// decides the outcome.
func (o *Orchestrator) routeCIFixDone(ctx context.Context, ev event.Event) error {
	if ev.PRNumber == 0 {
		return fmt.Errorf("ci_fix completion without PR number")
	}
	return o.store.UpdatePRCIStatus(ev.PRNumber, store.CheckPending)
}

// routeFixDone re-runs the automated review after any fix.
func (o *Orchestrator) routeFixDone(ctx context.Context, ev event.Event) error {
	review := event.New(event.SourceInternal, event.AgentTask)
	review.Task = TaskCodeReview
	review.DesignID = ev.DesignID
	review.IssueKey = ev.IssueKey
	review.Branch = ev.Branch
	review.PRNumber = ev.PRNumber
	o.push("reviewer", review)
	return nil
}

// routeCodeReviewed updates review status and either reports ready
// for human or loops back through the code writer.
func (o *Orchestrator) routeCodeReviewed(ctx context.Context, ev event.Event) error {
	pr, err := o.store.GetPRState(ev.PRNumber)
	if err != nil {
		return err
	}

	if ev.Result != nil && ev.Result.Success {
		if err := o.store.UpdatePRReviewStatus(pr.PRNumber, store.CheckPassing); err != nil {
			return err
		}
		return o.checkReadyForHuman(ctx, pr.PRNumber, pr.DesignID)
	}

	if pr.ReviewAttempts >= o.cfg.MaxReviewRetries {
		if err := o.store.UpdatePRStage(pr.PRNumber, store.PRStageFailed); err != nil {
			return err
		}
		o.notify(ctx, pr.DesignID, fmt.Sprintf("Failed: PR #%d exhausted review attempts", pr.PRNumber))
		return nil
	}
	if _, err := o.store.IncrementPRReviewAttempts(pr.PRNumber); err != nil {
		return err
	}
	if err := o.store.UpdatePRReviewStatus(pr.PRNumber, store.CheckFailing); err != nil {
		return err
	}

	fix := event.New(event.SourceInternal, event.AgentTask)
	fix.Task = TaskReviewFix
	fix.DesignID = pr.DesignID
	fix.IssueKey = pr.IssueKey
	fix.Branch = ev.Branch
	fix.PRNumber = pr.PRNumber
	o.push("code_writer", fix)
	return nil
}

// checkReadyForHuman advances a PR to in_review when both gates pass.
func (o *Orchestrator) checkReadyForHuman(ctx context.Context, prNumber int, designID string) error {
	ready, err := o.store.PRReadyForHuman(prNumber)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}
	if err := o.store.UpdatePRStage(prNumber, store.PRStageInReview); err != nil {
		o.logger.Debug().Err(err).Int("pr", prNumber).Msg("stage already advanced")
	}

	link := ""
	if o.scm != nil {
		if pr, err := o.scm.GetPR(ctx, prNumber); err == nil && pr != nil {
			link = pr.URL
		}
	}
	o.notify(ctx, designID, fmt.Sprintf("PR ready for human review: %s", link))
	return nil
}
