package ai

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"consulta-go/internal/config"
)

// RetryPolicy bounds the LLM tier. Attempts stop at MaxAttempts, when the
// parent context ends, or when Retryable rejects an error.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Exponential bool
	Retryable   func(error) bool
}

// DefaultRetryPolicy makes three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Interval:    time.Second,
		Retryable:   IsRetryable,
	}
}

// RetryPolicyFromConfig builds the policy from LLM_* settings.
func RetryPolicyFromConfig(cfg *config.AIConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg == nil {
		return p
	}
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	p.Interval = cfg.RetryBackoff
	p.Exponential = cfg.ExponentialRetry
	return p
}

// IsRetryable rejects cancellation; every other failure, including a
// per-attempt deadline, earns another attempt.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Exponential {
		exp := backoff.NewExponentialBackOff()
		if p.Interval > 0 {
			exp.InitialInterval = p.Interval
		}
		exp.MaxElapsedTime = 0
		b = exp
	} else {
		b = backoff.NewConstantBackOff(p.Interval)
	}
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Do runs op until it succeeds or the policy gives up. It returns the number
// of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx, attempts)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, p.backOff(ctx))

	// backoff reports the context error when the parent ends between attempts
	return attempts, err
}
