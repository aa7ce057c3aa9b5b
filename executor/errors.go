package executor

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/elly-po/copiAlpha-sub000/api"
)

// Sentinel errors spanning the failure taxonomy. ErrInvalidSigner and
// ErrRejected are permanent; everything else is assumed transient.
var (
	// ErrInvalidSigner marks unusable signing material. Never retried.
	ErrInvalidSigner = errors.New("executor: invalid signing material")

	// ErrRejected marks a request the provider will never accept as-is.
	ErrRejected = errors.New("executor: request rejected")

	// ErrRateLimited marks a provider 429. Retried after backoff.
	ErrRateLimited = errors.New("executor: provider rate limited")

	// ErrNoRoute marks a quote with no route yet. Retried; routes appear
	// as pools index.
	ErrNoRoute = errors.New("executor: no route for pair")
)

// classifyProviderError maps raw api errors onto the taxonomy.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if api.IsRateLimited(err) {
		return errors.Join(ErrRateLimited, err)
	}
	var he *api.HTTPError
	if errors.As(err, &he) {
		switch he.Status {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return errors.Join(ErrRejected, err)
		case http.StatusNotFound:
			return errors.Join(ErrNoRoute, err)
		}
	}
	return err
}

// IsTransient reports whether a failed execution may be retried.
// Timeouts, rate limits, missing routes and open breakers are transient;
// signer failures and provider rejections are not.
func IsTransient(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrInvalidSigner), errors.Is(err, ErrRejected):
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrNoRoute):
		return true
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return true
	}
	return true
}
