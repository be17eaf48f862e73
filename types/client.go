package types

import "context"

// UpstreamFetcher performs one lookup against the authoritative source.
// Implementations do not retry.
type UpstreamFetcher interface {
	Fetch(ctx context.Context, subject string) (Payload, error)
}

type CircuitBreakerState int32

const (
	CircuitBreakerClosed CircuitBreakerState = iota
	CircuitBreakerOpen
	CircuitBreakerHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitBreakerClosed:
		return "closed"
	case CircuitBreakerOpen:
		return "open"
	case CircuitBreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
