package slack

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

type fakeWebhookHTTP struct {
	requests []map[string]string
	status   int
}

func (f *fakeWebhookHTTP) Do(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	var payload map[string]string
	_ = json.Unmarshal(body, &payload)
	f.requests = append(f.requests, payload)

	status := f.status
	if status == 0 {
		status = 200
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("ok"))}, nil
}

type fakeBotAPI struct {
	user     *slackapi.User
	userErr  error
	messages []string
}

func (f *fakeBotAPI) PostMessageContext(_ context.Context, channelID string, _ ...slackapi.MsgOption) (string, string, error) {
	f.messages = append(f.messages, channelID)
	return channelID, "167.89", nil
}

func (f *fakeBotAPI) GetUserInfoContext(_ context.Context, _ string) (*slackapi.User, error) {
	return f.user, f.userErr
}

func TestSend_ViaWebhook(t *testing.T) {
	hc := &fakeWebhookHTTP{}
	c := NewClient("", "https://hooks.slack.com/services/T/B/X", "C1", testLogger())
	c.SetHTTPClient(hc)

	require.NoError(t, c.Send(context.Background(), "PR merged", ""))
	require.NoError(t, c.Send(context.Background(), "threaded", "1700.1"))

	require.Len(t, hc.requests, 2)
	assert.Equal(t, "PR merged", hc.requests[0]["text"])
	_, hasThread := hc.requests[0]["thread_ts"]
	assert.False(t, hasThread)
	assert.Equal(t, "1700.1", hc.requests[1]["thread_ts"])
}

func TestSend_NotConfigured(t *testing.T) {
	c := NewClient("", "", "", testLogger())
	assert.Error(t, c.Send(context.Background(), "hello", ""))
}

func TestPostMessage(t *testing.T) {
	api := &fakeBotAPI{}
	c := NewClient("", "", "C-default", testLogger())
	c.SetAPI(api)

	ts, err := c.PostMessage(context.Background(), "", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "167.89", ts)
	assert.Equal(t, []string{"C-default"}, api.messages, "empty channel falls back to the default")
}

func TestGetUserName_FallbackChain(t *testing.T) {
	cases := []struct {
		name string
		user *slackapi.User
		want string
	}{
		{
			"profile display name wins",
			&slackapi.User{
				Name:     "uname",
				RealName: "User Real",
				Profile:  slackapi.UserProfile{DisplayName: "display", RealName: "Profile Real"},
			},
			"display",
		},
		{
			"profile real name second",
			&slackapi.User{
				Name:     "uname",
				RealName: "User Real",
				Profile:  slackapi.UserProfile{RealName: "Profile Real"},
			},
			"Profile Real",
		},
		{
			"user real name third",
			&slackapi.User{Name: "uname", RealName: "User Real"},
			"User Real",
		},
		{
			"login last",
			&slackapi.User{Name: "uname"},
			"uname",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient("", "", "", testLogger())
			c.SetAPI(&fakeBotAPI{user: tc.user})
			assert.Equal(t, tc.want, c.GetUserName(context.Background(), "U1"))
		})
	}
}

func TestGetUserName_LookupFailure(t *testing.T) {
	c := NewClient("", "", "", testLogger())
	c.SetAPI(&fakeBotAPI{userErr: assert.AnError})
	assert.Equal(t, "U1", c.GetUserName(context.Background(), "U1"))
}
