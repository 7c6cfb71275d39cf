// Package slack is the outbound chat side of the pipeline:
// notifications and user-name lookups. Inbound request verification
// lives in internal/ingest.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// BotAPI abstracts the Slack Web API client for testing.
type BotAPI interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
}

// HTTPClient abstracts the webhook HTTP call for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client posts messages via incoming webhook or the Web API and
// resolves user display names.
type Client struct {
	api        BotAPI
	webhookURL string
	channel    string
	httpClient HTTPClient
	logger     zerolog.Logger
}

// NewClient creates a chat client. botToken and webhookURL are each
// optional; calls that need the missing one fail with ErrUnavailable.
func NewClient(botToken, webhookURL, channel string, logger zerolog.Logger) *Client {
	c := &Client{
		webhookURL: webhookURL,
		channel:    channel,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("component", "slack").Logger(),
	}
	if botToken != "" {
		c.api = slackapi.New(botToken)
	}
	return c
}

// SetAPI injects a fake Web API client (for testing).
func (c *Client) SetAPI(api BotAPI) { c.api = api }

// SetHTTPClient injects a fake webhook HTTP client (for testing).
func (c *Client) SetHTTPClient(hc HTTPClient) { c.httpClient = hc }

// Send posts text through the incoming webhook, optionally threaded.
func (c *Client) Send(ctx context.Context, text, threadTS string) error {
	if c.webhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured: %w", cerrors.ErrUnavailable)
	}

	payload := map[string]string{"text": text}
	if threadTS != "" {
		payload["thread_ts"] = threadTS
	}
	raw, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return cerrors.NewAPIError("slack", resp.StatusCode, string(body))
	}
	return nil
}

// PostMessage posts via the Web API, optionally threaded, and returns
// the message timestamp.
func (c *Client) PostMessage(ctx context.Context, channel, text, threadTS string) (string, error) {
	if c.api == nil {
		return "", fmt.Errorf("slack bot token not configured: %w", cerrors.ErrUnavailable)
	}
	if channel == "" {
		channel = c.channel
	}

	opts := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if threadTS != "" {
		opts = append(opts, slackapi.MsgOptionTS(threadTS))
	}
	_, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		return "", fmt.Errorf("posting message: %w", err)
	}
	return ts, nil
}

// GetUserName resolves a user id to a human-readable name, falling
// back through profile display name, profile real name, real name and
// login, ending at the raw id.
func (c *Client) GetUserName(ctx context.Context, userID string) string {
	if c.api == nil {
		return userID
	}
	user, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil || user == nil {
		c.logger.Debug().Err(err).Str("user", userID).Msg("user lookup failed")
		return userID
	}

	for _, candidate := range []string{
		user.Profile.DisplayName,
		user.Profile.RealName,
		user.RealName,
		user.Name,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return userID
}
