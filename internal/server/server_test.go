package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/conductor/internal/event"
	"github.com/p-blackswan/conductor/internal/ingest"
	"github.com/p-blackswan/conductor/internal/store"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

type captureDispatcher struct {
	events []event.Event
}

func (d *captureDispatcher) Dispatch(ev event.Event) { d.events = append(d.events, ev) }

func newTestServer(t *testing.T) (*Server, *captureDispatcher, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	d := &captureDispatcher{}
	srv := New(Config{
		SlackVerifier:  &ingest.SlackVerifier{Secret: "slack-secret"},
		SlackParser:    ingest.NewSlackParser(nil, testLogger()),
		GitHubVerifier: &ingest.GitHubVerifier{Secret: "gh-secret"},
		GitHubParser:   ingest.NewGitHubParser(testLogger()),
		Retry:          st,
	}, d, testLogger())
	return srv, d, st
}

func slackSign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "v0:%d:", ts)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func githubSign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook_SlackHappyPath(t *testing.T) {
	srv, d, _ := newTestServer(t)

	body := []byte(`{"type":"event_callback","event":{"type":"message","text":"Build payments","user":"U1","channel":"C1","ts":"1.1"}}`)
	ts := time.Now().Unix()

	req := httptest.NewRequest("POST", "/webhook/slack", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Slack-Signature", slackSign("slack-secret", ts, body))

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	payload, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &out))
	assert.Equal(t, true, out["ok"])

	require.Len(t, d.events, 1)
	assert.Equal(t, event.TaskRequested, d.events[0].Type)
	assert.Equal(t, "Build payments", d.events[0].Message)
}

func TestWebhook_SlackReplayRejected(t *testing.T) {
	srv, d, _ := newTestServer(t)

	body := []byte(`{"type":"event_callback","event":{"type":"message","text":"Build payments","user":"U1"}}`)
	ts := time.Now().Add(-400 * time.Second).Unix()

	req := httptest.NewRequest("POST", "/webhook/slack", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Slack-Signature", slackSign("slack-secret", ts, body))

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)

	payload, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(payload), "replay attack")
	assert.Empty(t, d.events, "no events dispatch on verification failure")
}

func TestWebhook_SlackBadSignature(t *testing.T) {
	srv, d, _ := newTestServer(t)

	body := []byte(`{"type":"event_callback"}`)
	req := httptest.NewRequest("POST", "/webhook/slack", bytes.NewReader(body))
	req.Header.Set("X-Slack-Request-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Empty(t, d.events)
}

func TestWebhook_GitHubCheckSuite(t *testing.T) {
	srv, d, _ := newTestServer(t)

	body := []byte(`{"action":"completed","check_suite":{"id":9,"conclusion":"failure","head_branch":"fix/tos-99-bug","pull_requests":[{"number":42}]}}`)
	req := httptest.NewRequest("POST", "/webhook/github", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", githubSign("gh-secret", body))
	req.Header.Set("X-GitHub-Event", "check_suite")

	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	require.Len(t, d.events, 1)
	assert.Equal(t, event.CIFailed, d.events[0].Type)
	assert.Equal(t, 42, d.events[0].PRNumber)
	assert.Equal(t, "TOS-99", d.events[0].IssueKey)
}

func TestWebhook_UnknownSource(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/webhook/gitlab", bytes.NewReader([]byte(`{}`)))
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestRetryCI_ResetsCounterAndReplays(t *testing.T) {
	srv, d, st := newTestServer(t)
	_, err := st.CreateDesign("d-1", "x")
	require.NoError(t, err)
	_, err = st.CreatePRState(88, "d-1", "TOS-2", "TOS-1", "")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = st.IncrementPRCIAttempts(88)
		require.NoError(t, err)
	}

	req := httptest.NewRequest("POST", "/retry/88/ci", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	pr, err := st.GetPRState(88)
	require.NoError(t, err)
	assert.Equal(t, 0, pr.CIAttempts)

	require.Len(t, d.events, 1)
	assert.Equal(t, event.CIFailed, d.events[0].Type)
	assert.Equal(t, 88, d.events[0].PRNumber)
}

func TestRetryReview_ResetsCounter(t *testing.T) {
	srv, d, st := newTestServer(t)
	_, err := st.CreateDesign("d-1", "x")
	require.NoError(t, err)
	_, err = st.CreatePRState(88, "d-1", "TOS-2", "TOS-1", "")
	require.NoError(t, err)
	_, err = st.IncrementPRReviewAttempts(88)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/retry/88/review", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	pr, err := st.GetPRState(88)
	require.NoError(t, err)
	assert.Equal(t, 0, pr.ReviewAttempts)
	require.Len(t, d.events, 1)
}

func TestRetry_UnknownPR(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/retry/999/ci", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}

func TestTrigger_ReemitsTask(t *testing.T) {
	srv, d, st := newTestServer(t)
	_, err := st.CreateDesign("d-1", "Build payments")
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/trigger/d-1", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	require.Len(t, d.events, 1)
	assert.Equal(t, event.TaskRequested, d.events[0].Type)
	assert.Equal(t, "d-1", d.events[0].DesignID)
	assert.Equal(t, "Build payments", d.events[0].Message)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
