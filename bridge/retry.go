package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	cbus "github.com/next-trace/scg-allocation/contract/bus"
	berr "github.com/next-trace/scg-allocation/contract/errors"
)

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	MaxRetries      uint64        // retries after the first attempt
	InitialInterval time.Duration // first backoff delay
	MaxInterval     time.Duration // cap for a single delay
}

// DefaultRetryPolicy returns 3 retries starting at 100ms, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialInterval: 100 * time.Millisecond, MaxInterval: 2 * time.Second}
}

type retryingPublisher struct {
	next   cbus.ChannelPublisher
	policy RetryPolicy
}

// WithRetry wraps pub so failed sends are retried with exponential backoff and jitter.
// Serialization failures and context errors are not retried.
func WithRetry(pub cbus.ChannelPublisher, policy RetryPolicy) cbus.ChannelPublisher {
	return &retryingPublisher{next: pub, policy: policy}
}

func (r *retryingPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	op := func() error {
		err := r.next.Publish(ctx, channel, payload)
		if err == nil {
			return nil
		}

		if errors.Is(err, berr.ErrSerializationFailed) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}

		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 0

	if r.policy.InitialInterval > 0 {
		eb.InitialInterval = r.policy.InitialInterval
	}

	if r.policy.MaxInterval > 0 {
		eb.MaxInterval = r.policy.MaxInterval
	}

	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, r.policy.MaxRetries), ctx))
}
