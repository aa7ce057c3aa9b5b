package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
)

// Client talks to the external swap aggregator and its price endpoint.
// Every request carries the configured timeout; repeated provider failures
// trip a circuit breaker so a degraded venue fails fast instead of queueing.
type Client struct {
	baseURL    string
	priceURL   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// QuoteResponse is the aggregator's route quote for a prospective swap.
type QuoteResponse struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       float64         `json:"inAmount,string"`
	OutAmount      float64         `json:"outAmount,string"`
	PriceImpactPct float64         `json:"priceImpactPct,string"`
	RoutePlan      json.RawMessage `json:"routePlan"`
}

// SwapResponse is the aggregator's prepared transaction for a quote.
type SwapResponse struct {
	SwapTransaction string `json:"swapTransaction"` // base64, to be signed by the caller
}

// SubmitResponse is the broadcast result for a signed transaction.
type SubmitResponse struct {
	Signature string `json:"signature"`
	Err       string `json:"err,omitempty"`
}

// NewClient builds an aggregator client.
func NewClient(baseURL, priceURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  baseURL,
		priceURL: priceURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "swap-aggregator",
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Quote fetches a route quote for swapping amountIn of inputMint into outputMint.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amountIn float64, slippageBps int) (*QuoteResponse, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", fmt.Sprintf("%.0f", amountIn))
	params.Set("slippageBps", fmt.Sprintf("%d", slippageBps))

	var quote QuoteResponse
	if err := c.getJSON(ctx, c.baseURL+"/quote?"+params.Encode(), &quote); err != nil {
		return nil, fmt.Errorf("quote %s->%s: %w", inputMint, outputMint, err)
	}
	return &quote, nil
}

// Swap asks the aggregator to build a swap transaction for the quote,
// payable by the given wallet.
func (c *Client) Swap(ctx context.Context, quote *QuoteResponse, walletAddress string) (*SwapResponse, error) {
	body := map[string]interface{}{
		"quoteResponse": quote,
		"userPublicKey": walletAddress,
	}

	var swap SwapResponse
	if err := c.postJSON(ctx, c.baseURL+"/swap", body, &swap); err != nil {
		return nil, fmt.Errorf("build swap for %s: %w", walletAddress, err)
	}
	if swap.SwapTransaction == "" {
		return nil, fmt.Errorf("build swap for %s: empty transaction", walletAddress)
	}
	return &swap, nil
}

// Submit broadcasts a signed transaction and returns its signature.
func (c *Client) Submit(ctx context.Context, signedTx []byte) (*SubmitResponse, error) {
	body := map[string]interface{}{
		"signedTransaction": signedTx,
	}

	var resp SubmitResponse
	if err := c.postJSON(ctx, c.baseURL+"/submit", body, &resp); err != nil {
		return nil, fmt.Errorf("submit transaction: %w", err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("submit transaction: %s", resp.Err)
	}
	return &resp, nil
}

// TokenPrice returns the indicative price of a token mint in SOL.
func (c *Client) TokenPrice(ctx context.Context, mint string) (float64, error) {
	var out struct {
		Data map[string]struct {
			Price float64 `json:"price"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, c.priceURL+"/price?ids="+url.QueryEscape(mint), &out); err != nil {
		return 0, fmt.Errorf("price for %s: %w", mint, err)
	}
	entry, ok := out.Data[mint]
	if !ok {
		return 0, fmt.Errorf("price for %s: no data", mint)
	}
	return entry.Price, nil
}

// WalletBalance returns the SOL balance of a wallet.
func (c *Client) WalletBalance(ctx context.Context, walletAddress string) (float64, error) {
	var out struct {
		Balance float64 `json:"balance"`
	}
	if err := c.getJSON(ctx, c.baseURL+"/balance?wallet="+url.QueryEscape(walletAddress), &out); err != nil {
		return 0, fmt.Errorf("balance for %s: %w", walletAddress, err)
	}
	return out.Balance, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, out)
}

func (c *Client) postJSON(ctx context.Context, rawURL string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, rawURL, payload, out)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, out interface{}) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &HTTPError{Status: resp.StatusCode, Body: string(data)}
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})
	return err
}

// HTTPError carries a non-200 provider response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// IsRateLimited reports whether the error is a provider 429.
func IsRateLimited(err error) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == http.StatusTooManyRequests
}
