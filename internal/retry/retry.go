// Package retry provides bounded exponential backoff for calls to the
// pipeline's external systems. Policies are per system: the Atlassian
// APIs rate-limit with long budgets and tolerate patient clients,
// GitHub throttles mutations hard enough that giving up early just
// strands a design mid-transition, and chat delivery is best-effort.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	cerrors "github.com/p-blackswan/conductor/internal/errors"
)

// Policy bounds one retried call.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
}

// Atlassian is the policy for Jira and Confluence calls.
func Atlassian() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: true}
}

// GitHub is the policy for source-control mutations. Merges and issue
// writes hit secondary rate limits, so it backs off longer and tries
// one more time than the Atlassian policy.
func GitHub() Policy {
	return Policy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Jitter: true}
}

// Chat is the policy for notification delivery. Notifications are
// best-effort; one quick re-send is all they get.
func Chat() Policy {
	return Policy{MaxAttempts: 2, BaseDelay: 250 * time.Millisecond, MaxDelay: time.Second, Jitter: false}
}

// delay computes the backoff before the given 1-based attempt.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		d = d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
	}
	return d
}

// Do executes fn under the policy. Non-retryable errors (see
// errors.IsRetryable) surface immediately; retryable ones are retried
// until the attempt budget runs out, and the final error reports how
// many attempts were spent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !cerrors.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", p.MaxAttempts, lastErr)
}
