// Package llm wraps external text-completion providers behind a single
// Gateway capability with a fixed failure taxonomy, retry policy and
// provider fallback ordering.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ResponseFormat asks the provider for a particular output shape
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

// Options are the per-call generation options
type Options struct {
	MaxTokens      int
	Temperature    float32
	ResponseFormat ResponseFormat
}

// Gateway is a synchronous text-completion capability
type Gateway interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Provider is a Gateway backed by one concrete vendor endpoint
type Provider interface {
	Gateway
	Name() string
}

// Failure classes returned by every Gateway. Callers test them with errors.Is.
var (
	ErrRateLimited        = errors.New("rate limited")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInvalidResponse    = errors.New("invalid response")
	ErrTimeout            = errors.New("timeout")

	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNoProviders      = errors.New("no llm providers configured")
)

// systemPrompt is shared by the chat-style providers
const systemPrompt = "You are an environmental monitoring analyst. You answer with a single JSON object and nothing else."

// classifyStatus maps an HTTP status code onto the failure taxonomy
func classifyStatus(code int, cause error) error {
	var class error
	switch {
	case code == http.StatusTooManyRequests:
		class = ErrRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		class = ErrTimeout
	case code >= 500:
		class = ErrServiceUnavailable
	default:
		class = ErrInvalidResponse
	}
	if cause == nil {
		return fmt.Errorf("%w: status %d", class, code)
	}
	return fmt.Errorf("%w: status %d: %v", class, code, cause)
}

// classifyTransportError maps a non-HTTP failure onto the taxonomy.
// Errors that already carry a class are returned unchanged.
func classifyTransportError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if isClassified(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: request cancelled: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}

func isClassified(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrInvalidResponse) ||
		errors.Is(err, ErrTimeout)
}

// Reason returns a short label for the failure class, used in logs and
// metric labels
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNoProviders):
		return "no_providers"
	default:
		return "error"
	}
}
