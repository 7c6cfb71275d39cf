package github

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gh "github.com/google/go-github/v60/github"
)

// PR is the subset of pull-request data the orchestrator needs.
type PR struct {
	Number int
	Title  string
	Branch string
	Merged bool
	State  string
	URL    string
}

func prFromAPI(pr *gh.PullRequest) *PR {
	out := &PR{
		Number: pr.GetNumber(),
		Title:  pr.GetTitle(),
		Merged: pr.GetMerged(),
		State:  pr.GetState(),
		URL:    pr.GetHTMLURL(),
	}
	if pr.Head != nil {
		out.Branch = pr.Head.GetRef()
	}
	return out
}

// isNotFound reports whether err is a GitHub 404.
func isNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == 404
	}
	return false
}

// GetPR fetches a PR by number. 404 returns (nil, nil); other errors
// propagate.
func (c *Client) GetPR(ctx context.Context, number int) (*PR, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	pr, _, err := api.PullRequests.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting PR %d: %w", number, err)
	}
	return prFromAPI(pr), nil
}

// FindPR returns the first listed PR, open or closed, whose head is
// branch, or nil.
func (c *Client) FindPR(ctx context.Context, branch string) (*PR, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	prs, _, err := api.PullRequests.List(ctx, c.owner, c.repo, &gh.PullRequestListOptions{
		Head:  c.owner + ":" + branch,
		State: "all",
	})
	if err != nil {
		return nil, fmt.Errorf("finding PR for branch %s: %w", branch, err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prFromAPI(prs[0]), nil
}

// MergePR squash-merges a PR.
func (c *Client) MergePR(ctx context.Context, number int) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	_, _, err = api.PullRequests.Merge(ctx, c.owner, c.repo, number, "", &gh.PullRequestOptions{
		MergeMethod: "squash",
	})
	if err != nil {
		return fmt.Errorf("merging PR %d: %w", number, err)
	}
	c.logger.Info().Int("pr", number).Msg("PR merged")
	return nil
}

// GetPRReviewComments returns review comment bodies in creation order.
func (c *Client) GetPRReviewComments(ctx context.Context, number int) ([]string, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	comments, _, err := api.PullRequests.ListComments(ctx, c.owner, c.repo, number, &gh.PullRequestListCommentsOptions{
		Sort:      "created",
		Direction: "asc",
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing review comments for PR %d: %w", number, err)
	}

	bodies := make([]string, 0, len(comments))
	for _, cm := range comments {
		if body := cm.GetBody(); body != "" {
			bodies = append(bodies, body)
		}
	}
	return bodies, nil
}

// GetCheckRunLogs returns the textual output of a check run, used by
// the failure classifier.
func (c *Client) GetCheckRunLogs(ctx context.Context, runID int64) (string, error) {
	api, err := c.api(ctx)
	if err != nil {
		return "", err
	}
	run, _, err := api.Checks.GetCheckRun(ctx, c.owner, c.repo, runID)
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("getting check run %d: %w", runID, err)
	}

	var parts []string
	if out := run.GetOutput(); out != nil {
		for _, s := range []string{out.GetTitle(), out.GetSummary(), out.GetText()} {
			if s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

// GetPRBranch returns the head branch name of a PR, or "" on 404.
func (c *Client) GetPRBranch(ctx context.Context, number int) (string, error) {
	pr, err := c.GetPR(ctx, number)
	if err != nil {
		return "", err
	}
	if pr == nil {
		return "", nil
	}
	return pr.Branch, nil
}
