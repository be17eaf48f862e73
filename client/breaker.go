package client

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
)

const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultHalfOpenRequests = 1
)

type CircuitBreaker struct {
	config    *types.CircuitBreakerConfig
	logger    types.Logger
	name      string
	state     atomic.Int32
	failures  atomic.Int32
	successes atomic.Int32
	lastFail  atomic.Int64
	mutex     sync.Mutex
	now       func() time.Time
}

func NewCircuitBreaker(config *types.CircuitBreakerConfig, logger types.Logger, name string) *CircuitBreaker {
	cbConfig := &types.CircuitBreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		RecoveryTimeout:  DefaultRecoveryTimeout,
		HalfOpenRequests: DefaultHalfOpenRequests,
	}

	if config != nil {
		cbConfig.Enabled = config.Enabled
		if config.FailureThreshold > 0 {
			cbConfig.FailureThreshold = config.FailureThreshold
		}
		if config.RecoveryTimeout > 0 {
			cbConfig.RecoveryTimeout = config.RecoveryTimeout
		}
		if config.HalfOpenRequests > 0 {
			cbConfig.HalfOpenRequests = config.HalfOpenRequests
		}
	}

	cb := &CircuitBreaker{
		config: cbConfig,
		logger: logger,
		name:   name,
		now:    time.Now,
	}
	cb.state.Store(int32(types.CircuitBreakerClosed))

	return cb
}

func (cb *CircuitBreaker) Enabled() bool {
	return cb != nil && cb.config.Enabled
}

// CanExecute reports whether a call may go out. An open breaker lets a probe
// through once the recovery timeout has passed since the last failure.
func (cb *CircuitBreaker) CanExecute() bool {
	if !cb.Enabled() {
		return true
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.State() {
	case types.CircuitBreakerOpen:
		if cb.now().Sub(time.Unix(0, cb.lastFail.Load())) >= cb.config.RecoveryTimeout {
			cb.transitionTo(types.CircuitBreakerHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.Enabled() {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.State() {
	case types.CircuitBreakerClosed:
		cb.failures.Store(0)
	case types.CircuitBreakerHalfOpen:
		successes := cb.successes.Add(1)
		cb.logger.Debug("Success recorded in half-open state",
			zap.String("breaker", cb.name),
			zap.Int32("successes", successes),
			zap.Int("required", cb.config.HalfOpenRequests))

		if successes >= int32(cb.config.HalfOpenRequests) {
			cb.transitionTo(types.CircuitBreakerClosed)
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if !cb.Enabled() {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.lastFail.Store(cb.now().UnixNano())

	switch cb.State() {
	case types.CircuitBreakerClosed:
		failures := cb.failures.Add(1)
		if failures >= int32(cb.config.FailureThreshold) {
			cb.transitionTo(types.CircuitBreakerOpen)
		}
	case types.CircuitBreakerHalfOpen:
		cb.transitionTo(types.CircuitBreakerOpen)
	}
}

func (cb *CircuitBreaker) State() types.CircuitBreakerState {
	if cb == nil {
		return types.CircuitBreakerClosed
	}
	return types.CircuitBreakerState(cb.state.Load())
}

func (cb *CircuitBreaker) Failures() int32 {
	return cb.failures.Load()
}

func (cb *CircuitBreaker) Reset() {
	if !cb.Enabled() {
		return
	}

	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.transitionTo(types.CircuitBreakerClosed)
}

func (cb *CircuitBreaker) transitionTo(next types.CircuitBreakerState) {
	prev := types.CircuitBreakerState(cb.state.Swap(int32(next)))
	cb.successes.Store(0)
	if next == types.CircuitBreakerClosed {
		cb.failures.Store(0)
	}

	if prev == next {
		return
	}

	fields := []zap.Field{
		zap.String("breaker", cb.name),
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	}

	if next == types.CircuitBreakerOpen {
		cb.logger.Warn("Circuit breaker opened", append(fields, zap.Int("threshold", cb.config.FailureThreshold))...)
		return
	}

	cb.logger.Info("Circuit breaker state changed", fields...)
}

// IsCircuitBreakerFailure reports whether a response indicates the upstream is
// struggling, as opposed to rejecting this particular request.
func IsCircuitBreakerFailure(statusCode int, err error) bool {
	if err != nil {
		return true
	}

	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
