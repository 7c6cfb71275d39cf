package ingest

import (
	"encoding/json"
	"fmt"

	gh "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/conductor/internal/event"
)

// GitHubParser maps GitHub webhook payloads to source-control events.
// The event name arrives in the X-GitHub-Event header.
type GitHubParser struct {
	logger zerolog.Logger
}

// NewGitHubParser creates a parser.
func NewGitHubParser(logger zerolog.Logger) *GitHubParser {
	return &GitHubParser{logger: logger.With().Str("component", "ingest.github").Logger()}
}

// Parse maps one webhook delivery to zero or more events.
func (p *GitHubParser) Parse(eventName string, body []byte) ([]event.Event, error) {
	switch eventName {
	case "check_suite":
		return p.parseCheckSuite(body)
	case "pull_request_review":
		return p.parseReview(body)
	case "pull_request":
		return p.parsePullRequest(body)
	case "issue_comment":
		return p.parseIssueComment(body)
	default:
		p.logger.Debug().Str("event", eventName).Msg("ignoring event type")
		return nil, nil
	}
}

func (p *GitHubParser) parseCheckSuite(body []byte) ([]event.Event, error) {
	var payload gh.CheckSuiteEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding check_suite: %w", err)
	}
	suite := payload.GetCheckSuite()
	if suite == nil {
		return nil, nil
	}

	var t event.Type
	switch suite.GetConclusion() {
	case "failure", "timed_out":
		t = event.CIFailed
	case "success":
		t = event.CIPassed
	default:
		return nil, nil
	}

	ev := event.New(event.SourceGitHub, t)
	ev.Raw = json.RawMessage(body)
	ev.Branch = suite.GetHeadBranch()
	ev.IssueKey = ExtractIssueKey(ev.Branch)
	ev.CheckRun = suite.GetID()
	if prs := suite.PullRequests; len(prs) > 0 {
		ev.PRNumber = prs[0].GetNumber()
	}
	return []event.Event{ev}, nil
}

func (p *GitHubParser) parseReview(body []byte) ([]event.Event, error) {
	var payload gh.PullRequestReviewEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding pull_request_review: %w", err)
	}
	pr := payload.GetPullRequest()
	if pr == nil {
		return nil, nil
	}

	var t event.Type
	switch payload.GetReview().GetState() {
	case "approved":
		t = event.PRApproved
	case "changes_requested":
		t = event.PRChangesRequested
	default:
		return nil, nil
	}

	ev := event.New(event.SourceGitHub, t)
	ev.Raw = json.RawMessage(body)
	ev.PRNumber = pr.GetNumber()
	if pr.Head != nil {
		ev.Branch = pr.Head.GetRef()
	}
	ev.IssueKey = ExtractIssueKey(ev.Branch)
	if t == event.PRChangesRequested {
		if b := payload.GetReview().GetBody(); b != "" {
			ev.Comments = []string{b}
		} else {
			ev.Comments = []string{"Changes requested"}
		}
	}
	return []event.Event{ev}, nil
}

func (p *GitHubParser) parsePullRequest(body []byte) ([]event.Event, error) {
	var payload gh.PullRequestEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding pull_request: %w", err)
	}
	pr := payload.GetPullRequest()
	if pr == nil {
		return nil, nil
	}
	if payload.GetAction() != "closed" || !pr.GetMerged() {
		return nil, nil
	}

	ev := event.New(event.SourceGitHub, event.PRMerged)
	ev.Raw = json.RawMessage(body)
	ev.PRNumber = pr.GetNumber()
	if pr.Head != nil {
		ev.Branch = pr.Head.GetRef()
	}
	ev.IssueKey = ExtractIssueKey(ev.Branch)
	return []event.Event{ev}, nil
}

func (p *GitHubParser) parseIssueComment(body []byte) ([]event.Event, error) {
	var payload gh.IssueCommentEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding issue_comment: %w", err)
	}
	issue := payload.GetIssue()
	// Only comments on issues that are pull requests matter here.
	if issue == nil || issue.PullRequestLinks == nil {
		return nil, nil
	}
	comment := payload.GetComment().GetBody()
	if comment == "" {
		return nil, nil
	}

	ev := event.New(event.SourceGitHub, event.PRComment)
	ev.Raw = json.RawMessage(body)
	ev.PRNumber = issue.GetNumber()
	ev.Comments = []string{comment}
	return []event.Event{ev}, nil
}
