package jira

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

type recordedRequest struct {
	method string
	path   string
	body   []byte
}

type scriptedHTTP struct {
	responses map[string]string
	status    map[string]int
	requests  []recordedRequest
}

func (s *scriptedHTTP) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	s.requests = append(s.requests, recordedRequest{req.Method, req.URL.Path, body})

	key := req.Method + " " + req.URL.Path
	status := s.status[key]
	if status == 0 {
		status = 200
	}
	payload, ok := s.responses[key]
	if !ok {
		payload = `{}`
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(payload)),
	}, nil
}

func newTestClient(script *scriptedHTTP) *Client {
	c := NewClient("https://jira.example.com", "bot@example.com", "token", "TOS", testLogger())
	c.SetHTTPClient(script)
	return c
}

func TestCreateIssue(t *testing.T) {
	script := &scriptedHTTP{responses: map[string]string{
		"POST /rest/api/3/issue": `{"id":"1","key":"TOS-10"}`,
	}}
	c := newTestClient(script)

	issue, err := c.CreateIssue(context.Background(), "Build payments", "desc", "Task")
	require.NoError(t, err)
	assert.Equal(t, "TOS-10", issue.Key)

	require.Len(t, script.requests, 1)
	var payload struct {
		Fields IssueFields `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(script.requests[0].body, &payload))
	assert.Equal(t, "TOS", payload.Fields.Project.Key)
	assert.Equal(t, "Task", payload.Fields.IssueType.Name)
}

func TestCreateSubTask_ForcesSubTaskType(t *testing.T) {
	script := &scriptedHTTP{responses: map[string]string{
		"POST /rest/api/3/issue": `{"id":"2","key":"TOS-11"}`,
	}}
	c := newTestClient(script)

	_, err := c.CreateSubTask(context.Background(), "TOS-10", "Payments API", "")
	require.NoError(t, err)

	var payload struct {
		Fields IssueFields `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(script.requests[0].body, &payload))
	assert.Equal(t, "Sub-task", payload.Fields.IssueType.Name)
	require.NotNil(t, payload.Fields.Parent)
	assert.Equal(t, "TOS-10", payload.Fields.Parent.Key)
}

func TestTransition_ResolvesByNameCaseInsensitive(t *testing.T) {
	script := &scriptedHTTP{responses: map[string]string{
		"GET /rest/api/3/issue/TOS-10/transitions": `{"transitions":[
			{"id":"11","name":"To Do"},
			{"id":"21","name":"In Progress"},
			{"id":"31","name":"Done"}
		]}`,
	}}
	c := newTestClient(script)

	require.NoError(t, c.Transition(context.Background(), "TOS-10", "done"))

	require.Len(t, script.requests, 2)
	post := script.requests[1]
	assert.Equal(t, "POST", post.method)
	assert.Contains(t, string(post.body), `"id":"31"`)
}

func TestTransition_UnknownNameFails(t *testing.T) {
	script := &scriptedHTTP{responses: map[string]string{
		"GET /rest/api/3/issue/TOS-10/transitions": `{"transitions":[{"id":"11","name":"To Do"}]}`,
	}}
	c := newTestClient(script)

	err := c.Transition(context.Background(), "TOS-10", "Done")
	require.Error(t, err)
	assert.Len(t, script.requests, 1, "no POST when the transition is missing")
}

func TestAddComment_DocumentFormat(t *testing.T) {
	script := &scriptedHTTP{}
	c := newTestClient(script)

	require.NoError(t, c.AddComment(context.Background(), "TOS-10", "PR merged"))

	require.Len(t, script.requests, 1)
	body := string(script.requests[0].body)
	assert.Contains(t, body, `"type":"doc"`)
	assert.Contains(t, body, `"type":"paragraph"`)
	assert.Contains(t, body, `"PR merged"`)
}

func TestAPIErrorPropagates(t *testing.T) {
	script := &scriptedHTTP{status: map[string]int{"POST /rest/api/3/issue": 400}}
	c := newTestClient(script)

	_, err := c.CreateIssue(context.Background(), "x", "", "Task")
	assert.Error(t, err)
}
