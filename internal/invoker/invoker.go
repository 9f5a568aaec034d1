// Package invoker executes single logical remote calls with a bounded
// per-attempt timeout and a retry policy.
//
// Failure classification follows the activity contract: api.FatalError
// aborts immediately; everything else (transport errors, timeouts,
// api.RetryableError) is retried with capped exponential backoff until the
// attempt ceiling is reached. The invoker never mutates workflow state;
// the engine does, after Invoke returns.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lendr/loanflow/pkg/api"
)

// DefaultAttemptTimeout bounds one attempt of one activity call.
const DefaultAttemptTimeout = 5 * time.Minute

// ErrAttemptsExhausted wraps the last retryable error once the attempt
// ceiling has been reached.
var ErrAttemptsExhausted = errors.New("activity attempts exhausted")

// ActivityFunc is one logical remote call.
type ActivityFunc func(ctx context.Context) (any, error)

// Invoker drives retries for activity calls.
type Invoker struct {
	timeout time.Duration
	policy  api.RetryPolicy
}

// New creates an Invoker. A zero attemptTimeout defaults to
// DefaultAttemptTimeout; a zero policy.MaxAttempts defaults to 1.
func New(attemptTimeout time.Duration, policy api.RetryPolicy) *Invoker {
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &Invoker{
		timeout: attemptTimeout,
		policy:  policy,
	}
}

// Invoke runs fn until it succeeds, fails fatally, exhausts the retry
// budget, or the parent context is cancelled.
func (iv *Invoker) Invoke(ctx context.Context, activity string, fn ActivityFunc) (any, error) {
	maxAttempts := iv.policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := iv.policy.InitialBackoff
	multiplier := iv.policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		attemptCtx, cancel := context.WithTimeout(ctx, iv.timeout)
		out, err := fn(attemptCtx)
		cancel()

		if err == nil {
			return out, nil
		}

		if api.IsFatal(err) {
			return nil, fmt.Errorf("%s: %w", activity, err)
		}
		if ctx.Err() != nil {
			// The parent was cancelled, not the attempt deadline.
			return nil, ctx.Err()
		}

		lastErr = err
		if attempt == maxAttempts {
			break
		}

		if backoff > 0 {
			delay := backoff
			if iv.policy.MaxBackoff > 0 && delay > iv.policy.MaxBackoff {
				delay = iv.policy.MaxBackoff
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			next := time.Duration(float64(backoff) * multiplier)
			if iv.policy.MaxBackoff > 0 && next > iv.policy.MaxBackoff {
				backoff = iv.policy.MaxBackoff
			} else {
				backoff = next
			}
		}
	}

	return nil, fmt.Errorf("%s after %d attempts: %w: %w", activity, maxAttempts, ErrAttemptsExhausted, lastErr)
}
