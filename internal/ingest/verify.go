// Package ingest turns incoming webhook requests into domain events:
// a verifier authenticates each request, a parser maps the payload to
// zero or more events.
package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	gh "github.com/google/go-github/v60/github"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// Headers carries the request headers a verifier may need.
type Headers interface {
	Get(key string) string
}

// Verifier authenticates a raw webhook request. The only outcomes are
// nil (pass) and an error (fail).
type Verifier interface {
	Verify(headers Headers, body []byte) error
}

// replayWindow bounds how old (or how far in the future) a signed
// Slack timestamp may be.
const replayWindow = 5 * time.Minute

// SlackVerifier checks the v0 request signature scheme.
type SlackVerifier struct {
	Secret string
	// Now is the clock; tests override it.
	Now func() time.Time
}

// Verify computes HMAC-SHA-256 over "v0:{timestamp}:{body}" and
// compares it in constant time against X-Slack-Signature. Requests
// whose timestamp falls outside the replay window are rejected before
// any signature work.
func (v *SlackVerifier) Verify(headers Headers, body []byte) error {
	if v.Secret == "" {
		return fmt.Errorf("slack signing secret not configured: %w", cerrors.ErrAuthFailure)
	}

	tsHeader := headers.Get("X-Slack-Request-Timestamp")
	sigHeader := headers.Get("X-Slack-Signature")
	if tsHeader == "" || sigHeader == "" {
		return fmt.Errorf("missing signature headers: %w", cerrors.ErrAuthFailure)
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", tsHeader, cerrors.ErrAuthFailure)
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	age := time.Duration(now().Unix()-ts) * time.Second
	if age > replayWindow || age < -replayWindow {
		return cerrors.ErrReplayAttack
	}

	mac := hmac.New(sha256.New, []byte(v.Secret))
	fmt.Fprintf(mac, "v0:%d:", ts)
	mac.Write(body)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(sigHeader)) {
		return fmt.Errorf("signature mismatch: %w", cerrors.ErrAuthFailure)
	}
	return nil
}

// Sign produces the v0 signature for a timestamp and body. Tests use
// it to build correctly signed requests.
func (v *SlackVerifier) Sign(ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(v.Secret))
	fmt.Fprintf(mac, "v0:%d:", ts)
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// GitHubVerifier checks the hub signature scheme: HMAC-SHA-256 over
// the raw body.
type GitHubVerifier struct {
	Secret string
}

// Verify validates X-Hub-Signature-256 against the body.
func (v *GitHubVerifier) Verify(headers Headers, body []byte) error {
	if v.Secret == "" {
		return fmt.Errorf("github webhook secret not configured: %w", cerrors.ErrAuthFailure)
	}
	sig := headers.Get("X-Hub-Signature-256")
	if sig == "" {
		sig = headers.Get("X-Hub-Signature")
	}
	if sig == "" {
		return fmt.Errorf("missing signature header: %w", cerrors.ErrAuthFailure)
	}
	if err := gh.ValidateSignature(sig, body, []byte(v.Secret)); err != nil {
		return fmt.Errorf("signature mismatch: %w", cerrors.ErrAuthFailure)
	}
	return nil
}
