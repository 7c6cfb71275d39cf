package confluence

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Comment is a page comment visible to the polling bridge.
type Comment struct {
	ID        string
	Body      string
	Author    string
	CreatedAt time.Time
}

type commentEnvelope struct {
	ID   string `json:"id"`
	Body struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		When time.Time `json:"when"`
		By   struct {
			DisplayName string `json:"displayName"`
			PublicName  string `json:"publicName"`
			Username    string `json:"username"`
		} `json:"by"`
	} `json:"version"`
}

func (e *commentEnvelope) comment() Comment {
	author := e.Version.By.DisplayName
	if author == "" {
		author = e.Version.By.PublicName
	}
	if author == "" {
		author = e.Version.By.Username
	}
	if author == "" {
		author = "unknown"
	}
	return Comment{
		ID:        e.ID,
		Body:      e.Body.Storage.Value,
		Author:    author,
		CreatedAt: e.Version.When,
	}
}

// GetNewComments returns footer and inline comments created strictly
// after since, oldest first. Comments created exactly at since are
// excluded.
func (c *Client) GetNewComments(ctx context.Context, pageID string, since time.Time) ([]Comment, error) {
	var all []Comment
	for _, location := range []string{"footer", "inline"} {
		batch, err := c.listComments(ctx, pageID, location)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}

	var fresh []Comment
	for _, cm := range all {
		if cm.CreatedAt.After(since) {
			fresh = append(fresh, cm)
		}
	}

	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].CreatedAt.Before(fresh[j].CreatedAt)
	})
	return fresh, nil
}

func (c *Client) listComments(ctx context.Context, pageID, location string) ([]Comment, error) {
	path := fmt.Sprintf("/rest/api/content/%s/child/comment?expand=body.storage,version&location=%s&limit=100",
		pageID, location)
	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing %s comments of %s: %w", location, pageID, err)
	}

	var result struct {
		Results []commentEnvelope `json:"results"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}

	comments := make([]Comment, 0, len(result.Results))
	for i := range result.Results {
		comments = append(comments, result.Results[i].comment())
	}
	return comments, nil
}
