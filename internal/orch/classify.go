package orch

import "strings"

// FailureClass buckets a CI failure by what should happen next.
type FailureClass string

const (
	// FailureAgentFixable covers failures an agent can repair: test
	// failures, lint errors, type errors, missing imports.
	FailureAgentFixable FailureClass = "agent_fixable"
	// FailureEnvironment covers failures no agent can repair: missing
	// secrets, image builds, dependency resolution. Never retried.
	FailureEnvironment FailureClass = "environment"
	// FailureFlaky covers intermittent failures. Retried once, then
	// escalated.
	FailureFlaky FailureClass = "flaky"
	// FailureUnknown is everything else.
	FailureUnknown FailureClass = "unknown"
)

var environmentMarkers = []string{
	"missing secret",
	"secret not found",
	"docker build",
	"docker: error",
	"could not resolve dependency",
	"unable to resolve dependency",
	"dependency resolution failed",
	"401 unauthorized",
	"403 forbidden",
	"permission denied",
	"no space left on device",
}

var agentFixableMarkers = []string{
	"error ts",
	"type error",
	"typeerror",
	"syntaxerror",
	"cannot find module",
	"missing import",
	"undefined:",
	"undeclared name",
	"assertionerror",
	"expected ",
	"tests failed",
	"test failed",
	"fail:",
	"lint",
	"eslint",
	"gofmt",
	"compilation failed",
	"build failed: exit status 2",
}

var flakyMarkers = []string{
	"etimedout",
	"econnreset",
	"econnrefused",
	"socket hang up",
	"network error",
	"temporary failure in name resolution",
	"timed out waiting",
	"timeout of ",
	"context deadline exceeded",
	"rate limit",
	"503 service unavailable",
}

// ClassifyCIFailure labels a CI log. Environment failures win over
// everything: a broken build container often drags test noise along
// with it. Agent-fixable markers win over flaky ones because a
// deterministic compiler error may sit next to an incidental timeout.
func ClassifyCIFailure(logText string) FailureClass {
	text := strings.ToLower(logText)

	for _, marker := range environmentMarkers {
		if strings.Contains(text, marker) {
			return FailureEnvironment
		}
	}
	for _, marker := range agentFixableMarkers {
		if strings.Contains(text, marker) {
			return FailureAgentFixable
		}
	}
	for _, marker := range flakyMarkers {
		if strings.Contains(text, marker) {
			return FailureFlaky
		}
	}
	return FailureUnknown
}
