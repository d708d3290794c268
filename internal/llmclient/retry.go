package llmclient

import (
	"context"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMaxRetryElapsed = 45 * time.Second
	defaultMaxInterval     = 10 * time.Second

	// statusOverloaded is returned by the Anthropic API under load.
	statusOverloaded = 529
)

// retryPolicy holds the exponential backoff parameters shared by providers.
type retryPolicy struct {
	initial    time.Duration
	maxElapsed time.Duration
}

func (p retryPolicy) run(ctx context.Context, op backoff.Operation) error {
	b := backoff.NewExponentialBackOff()
	if p.initial > 0 {
		b.InitialInterval = p.initial
	}
	b.MaxElapsedTime = p.maxElapsed
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = defaultMaxRetryElapsed
	}
	b.MaxInterval = defaultMaxInterval
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

// retryableStatus reports whether an HTTP status from a provider is transient.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		statusOverloaded:
		return true
	}
	return false
}
