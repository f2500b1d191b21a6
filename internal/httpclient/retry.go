package httpclient

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxAttempts is the total number of attempts per request
	DefaultMaxAttempts = 3

	// DefaultBaseDelay is the unit every backoff delay is derived from
	DefaultBaseDelay = 2 * time.Second
)

// RetryPolicy is the shared resilience contract applied to every source client.
// Rate-limited responses back off exponentially (base * 2^n); server and network
// errors back off linearly (base * (n+1)), where n counts the retries so far.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// RetryNotify is called with the failed attempt's error and the delay before the next one
type RetryNotify func(err error, delay time.Duration)

// kindBackOff derives the next delay from the kind of the last failure
type kindBackOff struct {
	base     time.Duration
	retries  int
	lastKind ErrorKind
}

var _ backoff.BackOff = (*kindBackOff)(nil)

// NextBackOff implements backoff.BackOff
func (b *kindBackOff) NextBackOff() time.Duration {
	n := b.retries
	b.retries++
	if b.lastKind == KindRateLimited {
		return b.base * time.Duration(1<<n)
	}
	return b.base * time.Duration(n+1)
}

// Reset implements backoff.BackOff
func (b *kindBackOff) Reset() {
	b.retries = 0
}

// retryingClient wraps a Client with the retry policy
type retryingClient struct {
	next   Client
	policy RetryPolicy
	notify RetryNotify
}

// GetJSON implements Client
func (c *retryingClient) GetJSON(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	attempts := c.policy.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	policy := &kindBackOff{base: c.policy.BaseDelay}

	operation := func() ([]byte, error) {
		body, err := c.next.GetJSON(ctx, rawURL, params)
		if err == nil {
			return body, nil
		}

		var fe *FetchError
		if !errors.As(err, &fe) {
			return nil, backoff.Permanent(err)
		}
		if !fe.Retryable() {
			return nil, backoff.Permanent(fe)
		}
		policy.lastKind = fe.Kind
		return nil, fe
	}

	body, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.WarnContext(ctx, "Request failed, retrying",
				"url", rawURL,
				"error", err,
				"delay", delay)
			if c.notify != nil {
				c.notify(err, delay)
			}
		}),
	)
	if err == nil {
		return body, nil
	}

	// Unwrap backoff's permanent wrapper so callers always see a *FetchError
	var fe *FetchError
	if errors.As(err, &fe) {
		return nil, fe
	}
	return nil, err
}
