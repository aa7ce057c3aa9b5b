package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// RetryPolicy bounds repeated execution attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the provider's tolerance: three attempts,
// exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
}

// RetryingExecutor wraps a SwapExecutor with exponential-backoff retries.
// Non-transient failures abort immediately; the attempt count of the final
// outcome is reported alongside the result.
type RetryingExecutor struct {
	inner  SwapExecutor
	policy RetryPolicy
	log    zerolog.Logger
}

// NewRetrying wraps inner with the given policy.
func NewRetrying(inner SwapExecutor, policy RetryPolicy, log zerolog.Logger) *RetryingExecutor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy().MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	return &RetryingExecutor{
		inner:  inner,
		policy: policy,
		log:    log.With().Str("component", "executor-retry").Logger(),
	}
}

// Execute satisfies SwapExecutor, retrying transient failures.
func (r *RetryingExecutor) Execute(ctx context.Context, signer Signer, req SwapRequest) (*SwapResult, error) {
	res, _, err := r.ExecuteWithAttempts(ctx, signer, req)
	return res, err
}

// ExecuteWithAttempts executes the swap and additionally reports how many
// attempts were made, for the trade record.
func (r *RetryingExecutor) ExecuteWithAttempts(ctx context.Context, signer Signer, req SwapRequest) (*SwapResult, int, error) {
	var (
		result   *SwapResult
		attempts int
	)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.policy.BaseDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0 // deterministic doubling
	bo.MaxElapsedTime = 0      // bounded by attempt count, not wall clock

	operation := func() error {
		attempts++
		res, err := r.inner.Execute(ctx, signer, req)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			r.log.Warn().Err(err).
				Int("attempt", attempts).
				Int("max_attempts", r.policy.MaxAttempts).
				Str("token_out", req.TokenOut).
				Msg("swap attempt failed")
			return err
		}
		result = res
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(r.policy.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, attempts, err
	}
	return result, attempts, nil
}
