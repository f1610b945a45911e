package resilience

import (
	"context"
	"errors"
	"net"

	"github.com/sony/gobreaker/v2"

	"relaypoint/internal/types"
)

// Kind classifies an error for retry decisions. Transport adapters attach an
// AppError code to every failure; Classify maps codes (and well-known stdlib
// errors) onto the retryability taxonomy.
type Kind string

const (
	KindTimeout     Kind = "timeout"
	KindServerError Kind = "server_error"
	KindRateLimited Kind = "rate_limited"
	KindPermanent   Kind = "permanent_rejection"
	KindCircuitOpen Kind = "circuit_open"
	KindUnknown     Kind = "unknown"
)

// Classify maps an error chain to its retryability kind.
//
// Precedence: circuit-breaker states first (they must never be retried at
// this tier), then context/network timeouts, then AppError codes. Unknown
// errors are classified as KindUnknown, which no default policy retries --
// a failure we cannot classify is treated as permanent rather than guessed
// as transient.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindCircuitOpen
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeTransportTimeout:
			return KindTimeout
		case types.ErrCodeTransportServer:
			return KindServerError
		case types.ErrCodeTransportRateLimit:
			return KindRateLimited
		case types.ErrCodeTransportRejected:
			return KindPermanent
		case types.ErrCodeCircuitOpen:
			return KindCircuitOpen
		case types.ErrCodeInternalDB, types.ErrCodeInternalQueue:
			return KindServerError
		}
		if appErr.Code.IsValidation() {
			return KindPermanent
		}
	}

	return KindUnknown
}
