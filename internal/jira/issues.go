package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// Issue represents a Jira issue.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains Jira issue field data.
type IssueFields struct {
	Summary     string     `json:"summary"`
	Description string     `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Project     *Project   `json:"project,omitempty"`
	IssueType   *IssueType `json:"issuetype,omitempty"`
	Parent      *Parent    `json:"parent,omitempty"`
	Labels      []string   `json:"labels,omitempty"`
}

type Status struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type Project struct {
	Key string `json:"key"`
	ID  string `json:"id,omitempty"`
}

type IssueType struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

type Parent struct {
	Key string `json:"key"`
}

// Transition represents a Jira issue transition.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	To   Status `json:"to"`
}

// CreateIssue creates a new issue in the configured project.
func (c *Client) CreateIssue(ctx context.Context, summary, description, issueType string) (*Issue, error) {
	req := map[string]interface{}{
		"fields": IssueFields{
			Summary:     summary,
			Description: description,
			Project:     &Project{Key: c.projectKey},
			IssueType:   &IssueType{Name: issueType},
		},
	}
	return c.createIssue(ctx, req)
}

// CreateSubTask creates a sub-task under parentKey. The issue type is
// always forced to Sub-task.
func (c *Client) CreateSubTask(ctx context.Context, parentKey, summary, description string) (*Issue, error) {
	req := map[string]interface{}{
		"fields": IssueFields{
			Summary:     summary,
			Description: description,
			Project:     &Project{Key: c.projectKey},
			IssueType:   &IssueType{Name: "Sub-task"},
			Parent:      &Parent{Key: parentKey},
		},
	}
	return c.createIssue(ctx, req)
}

func (c *Client) createIssue(ctx context.Context, req map[string]interface{}) (*Issue, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	resp, err := c.do(ctx, "POST", "/rest/api/3/issue", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	var issue Issue
	if err := decodeResponse(resp, &issue); err != nil {
		return nil, err
	}

	c.logger.Info().Str("key", issue.Key).Msg("issue created")
	return &issue, nil
}

// GetSubTasks returns the sub-tasks of parentKey.
func (c *Client) GetSubTasks(ctx context.Context, parentKey string) ([]Issue, error) {
	jql := fmt.Sprintf("parent = %s ORDER BY created ASC", parentKey)
	resp, err := c.do(ctx, "GET",
		"/rest/api/3/search?fields=summary,status&jql="+url.QueryEscape(jql), nil)
	if err != nil {
		return nil, fmt.Errorf("listing sub-tasks of %s: %w", parentKey, err)
	}

	var result struct {
		Issues []Issue `json:"issues"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	return result.Issues, nil
}

// Transition moves an issue through the transition matching
// transitionName, resolved case-insensitively. Fails if no such
// transition is available.
func (c *Client) Transition(ctx context.Context, issueKey, transitionName string) error {
	resp, err := c.do(ctx, "GET", fmt.Sprintf("/rest/api/3/issue/%s/transitions", issueKey), nil)
	if err != nil {
		return fmt.Errorf("getting transitions for %s: %w", issueKey, err)
	}

	var list struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := decodeResponse(resp, &list); err != nil {
		return err
	}

	var id string
	for _, t := range list.Transitions {
		if strings.EqualFold(t.Name, transitionName) {
			id = t.ID
			break
		}
	}
	if id == "" {
		return fmt.Errorf("transition %q not available on %s: %w", transitionName, issueKey, cerrors.ErrNotFound)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"transition": map[string]string{"id": id},
	})
	if _, err := c.do(ctx, "POST", fmt.Sprintf("/rest/api/3/issue/%s/transitions", issueKey), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("transitioning issue %s: %w", issueKey, err)
	}

	c.logger.Info().Str("key", issueKey).Str("transition", transitionName).Msg("issue transitioned")
	return nil
}

// AddComment posts a comment in Atlassian document format with a
// single paragraph.
func (c *Client) AddComment(ctx context.Context, issueKey, text string) error {
	body, _ := json.Marshal(map[string]interface{}{
		"body": map[string]interface{}{
			"type":    "doc",
			"version": 1,
			"content": []map[string]interface{}{
				{
					"type": "paragraph",
					"content": []map[string]interface{}{
						{"type": "text", "text": text},
					},
				},
			},
		},
	})

	if _, err := c.do(ctx, "POST", fmt.Sprintf("/rest/api/3/issue/%s/comment", issueKey), bytes.NewReader(body)); err != nil {
		return fmt.Errorf("commenting on %s: %w", issueKey, err)
	}
	return nil
}
