package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedExecutor fails a fixed number of times before succeeding.
type scriptedExecutor struct {
	failures int
	failWith error
	calls    int
	lastReq  SwapRequest
}

func (s *scriptedExecutor) Execute(_ context.Context, _ Signer, req SwapRequest) (*SwapResult, error) {
	s.calls++
	s.lastReq = req
	if s.calls <= s.failures {
		return nil, s.failWith
	}
	return &SwapResult{
		Signature: "txsig",
		AmountIn:  req.AmountIn,
		AmountOut: req.AmountIn * 100,
	}, nil
}

type fakeSigner struct{}

func (fakeSigner) PublicKey() string              { return "pubkey" }
func (fakeSigner) Sign(tx []byte) ([]byte, error) { return tx, nil }

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond}
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	inner := &scriptedExecutor{failures: 2, failWith: ErrRateLimited}
	r := NewRetrying(inner, fastPolicy(3), zerolog.Nop())

	result, attempts, err := r.ExecuteWithAttempts(context.Background(), fakeSigner{}, SwapRequest{
		TokenIn: "a", TokenOut: "b", AmountIn: 1.0,
	})

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, "txsig", result.Signature)
}

func TestRetryExhaustsTransientFailures(t *testing.T) {
	inner := &scriptedExecutor{failures: 10, failWith: context.DeadlineExceeded}
	r := NewRetrying(inner, fastPolicy(3), zerolog.Nop())

	result, attempts, err := r.ExecuteWithAttempts(context.Background(), fakeSigner{}, SwapRequest{
		TokenIn: "a", TokenOut: "b", AmountIn: 1.0,
	})

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 3, attempts)
}

func TestRetryAbortsOnPermanentError(t *testing.T) {
	inner := &scriptedExecutor{failures: 10, failWith: ErrInvalidSigner}
	r := NewRetrying(inner, fastPolicy(3), zerolog.Nop())

	_, attempts, err := r.ExecuteWithAttempts(context.Background(), fakeSigner{}, SwapRequest{
		TokenIn: "a", TokenOut: "b", AmountIn: 1.0,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidSigner)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestRetryAbortsOnRejection(t *testing.T) {
	inner := &scriptedExecutor{failures: 10, failWith: ErrRejected}
	r := NewRetrying(inner, fastPolicy(3), zerolog.Nop())

	_, attempts, err := r.ExecuteWithAttempts(context.Background(), fakeSigner{}, SwapRequest{
		TokenIn: "a", TokenOut: "b", AmountIn: 1.0,
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"invalid signer", ErrInvalidSigner, false},
		{"rejected", ErrRejected, false},
		{"wrapped rejection", errors.Join(ErrRejected, errors.New("400")), false},
		{"rate limited", ErrRateLimited, true},
		{"no route", ErrNoRoute, true},
		{"timeout", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"unknown", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
