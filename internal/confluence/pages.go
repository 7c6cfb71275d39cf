package confluence

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// Page is a Confluence page with the fields the orchestrator needs.
type Page struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version int    `json:"-"`
	Link    string `json:"-"`
}

type pageEnvelope struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Version struct {
		Number int `json:"number"`
	} `json:"version"`
	Links struct {
		WebUI string `json:"webui"`
		Base  string `json:"base"`
	} `json:"_links"`
}

func (e *pageEnvelope) page() *Page {
	return &Page{
		ID:      e.ID,
		Title:   e.Title,
		Version: e.Version.Number,
		Link:    e.Links.Base + e.Links.WebUI,
	}
}

// CreatePage creates a page in the configured space, optionally under
// a parent page.
func (c *Client) CreatePage(ctx context.Context, title, body, parentID string) (*Page, error) {
	payload := map[string]interface{}{
		"type":  "page",
		"title": title,
		"space": map[string]string{"key": c.spaceKey},
		"body": map[string]interface{}{
			"storage": map[string]string{"value": body, "representation": "storage"},
		},
	}
	if parentID != "" {
		payload["ancestors"] = []map[string]string{{"id": parentID}}
	}

	raw, _ := json.Marshal(payload)
	resp, err := c.do(ctx, "POST", "/rest/api/content", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("creating page %q: %w", title, err)
	}

	var env pageEnvelope
	if err := decodeResponse(resp, &env); err != nil {
		return nil, err
	}
	c.logger.Info().Str("page_id", env.ID).Str("title", title).Msg("page created")
	return env.page(), nil
}

// UpdatePage replaces a page's title and body, bumping the version.
// The caller supplies the current version number.
func (c *Client) UpdatePage(ctx context.Context, pageID, title, body string, version int) (*Page, error) {
	payload := map[string]interface{}{
		"type":    "page",
		"title":   title,
		"version": map[string]int{"number": version + 1},
		"body": map[string]interface{}{
			"storage": map[string]string{"value": body, "representation": "storage"},
		},
	}

	raw, _ := json.Marshal(payload)
	resp, err := c.do(ctx, "PUT", "/rest/api/content/"+pageID, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("updating page %s: %w", pageID, err)
	}

	var env pageEnvelope
	if err := decodeResponse(resp, &env); err != nil {
		return nil, err
	}
	c.logger.Info().Str("page_id", pageID).Int("version", env.Version.Number).Msg("page updated")
	return env.page(), nil
}

// FindPage looks a page up by exact title in the configured space.
// Returns nil when no page matches.
func (c *Client) FindPage(ctx context.Context, title string) (*Page, error) {
	path := fmt.Sprintf("/rest/api/content?spaceKey=%s&title=%s&expand=version",
		url.QueryEscape(c.spaceKey), url.QueryEscape(title))
	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, fmt.Errorf("finding page %q: %w", title, err)
	}

	var result struct {
		Results []pageEnvelope `json:"results"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	if len(result.Results) == 0 {
		return nil, nil
	}
	return result.Results[0].page(), nil
}

// GetContentState returns the page's content state name, or "" when
// the page has none.
func (c *Client) GetContentState(ctx context.Context, pageID string) (string, error) {
	resp, err := c.do(ctx, "GET", fmt.Sprintf("/wiki/rest/api/content/%s/state", pageID), nil)
	if err != nil {
		var apiErr *cerrors.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return "", nil
		}
		return "", fmt.Errorf("getting content state of %s: %w", pageID, err)
	}

	var result struct {
		ContentState struct {
			Name string `json:"name"`
		} `json:"contentState"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return "", err
	}
	return result.ContentState.Name, nil
}

// SetContentState sets a named content state on the page. Tries PUT
// first and falls back to POST when the state does not exist yet.
func (c *Client) SetContentState(ctx context.Context, pageID, name string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"name":   name,
		"status": "current",
	})

	path := fmt.Sprintf("/wiki/rest/api/content/%s/state", pageID)
	resp, err := c.do(ctx, "PUT", path, bytes.NewReader(payload))
	if err == nil {
		drain(resp)
		return nil
	}

	var apiErr *cerrors.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		resp, err = c.do(ctx, "POST", path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("setting content state on %s: %w", pageID, err)
		}
		drain(resp)
		return nil
	}
	return fmt.Errorf("setting content state on %s: %w", pageID, err)
}

// GetPagesInReview lists pages in the space that are in the review
// cycle: content state "In Review", or "approved" so the poller can
// observe the approval transition.
func (c *Client) GetPagesInReview(ctx context.Context) ([]*Page, error) {
	path := fmt.Sprintf("/rest/api/content?spaceKey=%s&expand=version&limit=100", url.QueryEscape(c.spaceKey))
	resp, err := c.do(ctx, "GET", path, nil)
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}

	var result struct {
		Results []pageEnvelope `json:"results"`
	}
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}

	var pages []*Page
	for i := range result.Results {
		page := result.Results[i].page()
		state, err := c.GetContentState(ctx, page.ID)
		if err != nil {
			c.logger.Warn().Err(err).Str("page_id", page.ID).Msg("content state lookup failed")
			continue
		}
		if state == "In Review" || state == "approved" {
			pages = append(pages, page)
		}
	}
	return pages, nil
}
