package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrProvider matches every *ProviderError via errors.Is.
var ErrProvider = errors.New("provider error")

// Kind classifies a provider failure.
type Kind string

const (
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindBadResponse Kind = "bad_response"
)

// Retryable reports whether repeating the call may succeed.
func (k Kind) Retryable() bool {
	return k == KindNetwork || k == KindRateLimited
}

// ProviderError describes a failed call to an embedding or generation
// provider.
type ProviderError struct {
	Provider   string
	Op         string
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// KindOf returns the Kind of the first *ProviderError in err's chain.
func KindOf(err error) (Kind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// kindForStatus maps an HTTP status code to a failure kind.
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return KindTimeout
	case code >= 500:
		return KindNetwork
	default:
		return KindBadResponse
	}
}

// kindForTransport classifies errors that carry no HTTP status.
func kindForTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

func badResponse(provider, op string, format string, args ...any) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Kind: KindBadResponse, Err: fmt.Errorf(format, args...)}
}

// withTimeout bounds ctx when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
