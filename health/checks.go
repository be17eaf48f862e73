package health

import (
	"context"

	"github.com/saiset-co/sai-weather/types"
)

type pinger interface {
	Ping(ctx context.Context) error
	Type() string
}

// StoreChecker reports the store unhealthy when it cannot be pinged. Reads
// fall through to the upstream in that state, so nothing is served from cache.
func StoreChecker(store pinger) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		details := map[string]interface{}{"type": store.Type()}

		if err := store.Ping(ctx); err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
				Details: details,
			}
		}

		return types.HealthCheck{Status: types.StatusHealthy, Details: details}
	}
}

// BreakerChecker maps the upstream circuit breaker state onto a health
// status. An open breaker degrades the service: cached entries are still
// served until they expire.
func BreakerChecker(state func() types.CircuitBreakerState) types.HealthChecker {
	return func(context.Context) types.HealthCheck {
		current := state()
		details := map[string]interface{}{"circuit_breaker": current.String()}

		switch current {
		case types.CircuitBreakerClosed:
			return types.HealthCheck{Status: types.StatusHealthy, Details: details}
		case types.CircuitBreakerHalfOpen:
			return types.HealthCheck{Status: types.StatusDegraded, Message: "upstream recovering", Details: details}
		default:
			return types.HealthCheck{Status: types.StatusDegraded, Message: "upstream circuit open", Details: details}
		}
	}
}
