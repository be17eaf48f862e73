package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrRouteExists          = errors.New("route exists")
	ErrPathNotFound         = errors.New("path not found")
	ErrHandlerIsNil         = errors.New("handler is nil")
)

var (
	ErrMiddlewareExists      = errors.New("middleware exists")
	ErrMiddlewareInvalidType = errors.New("middleware invalid type")
)

var (
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrStoreTypeUnknown  = errors.New("store type unknown")
	ErrStoreKeyEmpty     = errors.New("store key empty")
	ErrStoreEntryCorrupt = errors.New("store entry corrupt")
)

var (
	ErrUpstreamFailed     = errors.New("upstream failed")
	ErrUpstreamStatus     = errors.New("upstream unexpected status")
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")
)

var (
	ErrFetchFailed  = errors.New("fetch failed")
	ErrSubjectEmpty = errors.New("subject empty")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
)

var (
	ErrMetricsIsDisabled = errors.New("metrics manager is disabled")
)

var (
	ErrHealthCheckFailed = errors.New("health check failed")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

var (
	ErrTLSConfigInvalid = errors.New("tls config invalid")
)

var (
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidState     = errors.New("invalid state")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
