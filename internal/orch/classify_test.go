package orch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCIFailure(t *testing.T) {
	cases := []struct {
		name string
		log  string
		want FailureClass
	}{
		{"typescript type error", "src/pay.ts(10,5): error TS2322: Type 'string' is not assignable", FailureAgentFixable},
		{"go compile error", "./main.go:14:2: undefined: paymentTotal", FailureAgentFixable},
		{"missing module", "Error: Cannot find module 'stripe'", FailureAgentFixable},
		{"test failure", "FAIL: TestCharge (0.03s)\n    charge_test.go:22: expected 100, got 90", FailureAgentFixable},
		{"lint", "eslint found 3 problems (3 errors, 0 warnings)", FailureAgentFixable},
		{"missing secret", "Error: missing secret STRIPE_API_KEY in environment", FailureEnvironment},
		{"docker build", "docker build failed: failed to solve with frontend dockerfile.v0", FailureEnvironment},
		{"dependency resolution", "npm ERR! could not resolve dependency: peer react@18", FailureEnvironment},
		{"auth", "remote: HTTP Basic: Access denied 401 Unauthorized", FailureEnvironment},
		{"network blip", "FetchError: request failed, reason: ECONNRESET", FailureFlaky},
		{"intermittent timeout", "Error: timeout of 30000ms exceeded while waiting for response", FailureFlaky},
		{"deadline", "context deadline exceeded", FailureFlaky},
		{"empty log", "", FailureUnknown},
		{"unclassifiable", "the build gremlins struck again", FailureUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyCIFailure(tc.log))
		})
	}
}
