package executor

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/elly-po/copiAlpha-sub000/api"
)

// Signer is the already-decrypted signing capability handed in by the
// custody layer. The engine never sees key material.
type Signer interface {
	PublicKey() string
	Sign(tx []byte) ([]byte, error)
}

// SwapRequest describes one swap to execute.
type SwapRequest struct {
	TokenIn     string
	TokenOut    string
	AmountIn    float64
	SlippageBps int
}

// SwapResult is the confirmed outcome of a swap.
type SwapResult struct {
	Signature      string
	AmountIn       float64
	AmountOut      float64
	PriceImpactPct float64
}

// SwapExecutor executes a single swap on behalf of a signer.
type SwapExecutor interface {
	Execute(ctx context.Context, signer Signer, req SwapRequest) (*SwapResult, error)
}

// AggregatorExecutor executes swaps through the external aggregator:
// quote, build, sign, submit.
type AggregatorExecutor struct {
	client *api.Client
	log    zerolog.Logger
}

// NewAggregatorExecutor wraps an api.Client as a SwapExecutor.
func NewAggregatorExecutor(client *api.Client, log zerolog.Logger) *AggregatorExecutor {
	return &AggregatorExecutor{
		client: client,
		log:    log.With().Str("component", "executor").Logger(),
	}
}

// Execute performs one swap end to end. Classification of failures is left
// to the error helpers in this package; callers decide retry policy.
func (e *AggregatorExecutor) Execute(ctx context.Context, signer Signer, req SwapRequest) (*SwapResult, error) {
	if signer == nil || signer.PublicKey() == "" {
		return nil, ErrInvalidSigner
	}
	if req.AmountIn <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount %f", ErrRejected, req.AmountIn)
	}

	quote, err := e.client.Quote(ctx, req.TokenIn, req.TokenOut, req.AmountIn, req.SlippageBps)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	swap, err := e.client.Swap(ctx, quote, signer.PublicKey())
	if err != nil {
		return nil, classifyProviderError(err)
	}

	rawTx, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed swap transaction: %v", ErrRejected, err)
	}

	signedTx, err := signer.Sign(rawTx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigner, err)
	}

	submit, err := e.client.Submit(ctx, signedTx)
	if err != nil {
		return nil, classifyProviderError(err)
	}

	e.log.Debug().
		Str("signature", submit.Signature).
		Str("token_in", req.TokenIn).
		Str("token_out", req.TokenOut).
		Float64("amount_in", quote.InAmount).
		Float64("amount_out", quote.OutAmount).
		Msg("swap submitted")

	return &SwapResult{
		Signature:      submit.Signature,
		AmountIn:       quote.InAmount,
		AmountOut:      quote.OutAmount,
		PriceImpactPct: quote.PriceImpactPct,
	}, nil
}
