package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-weather/logger"
	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

type staticConfig struct{ cfg *types.ServiceConfig }

func (s staticConfig) Load() error                     { return nil }
func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

type captureRouter struct {
	handlers map[string]types.FastHTTPHandler
}

func (r *captureRouter) Add(method, path string, handler types.FastHTTPHandler, _ *types.RouteConfig) {
	r.handlers[utils.RouteKey(method, path)] = handler
}

func (r *captureRouter) GET(path string, handler types.FastHTTPHandler) types.RouteBuilder {
	r.Add("GET", path, handler, nil)
	return nil
}

func (r *captureRouter) Routes() map[string]*types.RouteInfo { return nil }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }
func (p fakePinger) Type() string               { return "memory" }

func newTestManager(t *testing.T, timeout time.Duration) *Manager {
	t.Helper()

	hm := NewManager(context.Background(), staticConfig{cfg: &types.ServiceConfig{
		Name:    "sai-weather",
		Version: "1.2.3",
		Server:  &types.ServerConfig{HTTP: &types.HTTPConfig{Host: "0.0.0.0", Port: 3000}},
		Health:  &types.HealthConfig{Enabled: true, Timeout: timeout},
	}}, logger.NewNop())

	require.NoError(t, hm.Start())
	t.Cleanup(func() { _ = hm.Stop() })

	return hm
}

func TestCheckAggregatesStatuses(t *testing.T) {
	hm := newTestManager(t, time.Second)

	hm.RegisterChecker("store", StoreChecker(fakePinger{}))
	hm.RegisterChecker("upstream", BreakerChecker(func() types.CircuitBreakerState { return types.CircuitBreakerOpen }))

	report := hm.Check(context.Background())

	require.Equal(t, types.StatusDegraded, report.Status)
	require.Equal(t, 2, report.Summary.Total)
	require.Equal(t, 1, report.Summary.Healthy)
	require.Equal(t, 1, report.Summary.Degraded)
	require.Equal(t, "store", report.Checks["store"].Name)
	require.Equal(t, "open", report.Checks["upstream"].Details["circuit_breaker"])
	require.Equal(t, "1.2.3", report.Service.Version)
}

func TestCheckUnhealthyStore(t *testing.T) {
	hm := newTestManager(t, time.Second)
	hm.RegisterChecker("store", StoreChecker(fakePinger{err: errors.New("connection refused")}))

	report := hm.Check(context.Background())

	require.Equal(t, types.StatusUnhealthy, report.Status)
	require.Equal(t, "connection refused", report.Checks["store"].Message)
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	hm := newTestManager(t, 50*time.Millisecond)

	hm.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		time.Sleep(time.Second)
		return types.HealthCheck{Status: types.StatusHealthy}
	})
	hm.RegisterChecker("broken", func(context.Context) types.HealthCheck {
		panic("nil store")
	})

	start := time.Now()
	report := hm.Check(context.Background())

	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.Equal(t, types.StatusUnhealthy, report.Status)
	require.Equal(t, "Health check timeout", report.Checks["slow"].Message)
	require.Contains(t, report.Checks["broken"].Message, "panicked")
}

func TestHealthRoutes(t *testing.T) {
	hm := newTestManager(t, time.Second)
	hm.RegisterChecker("store", StoreChecker(fakePinger{err: errors.New("down")}))

	router := &captureRouter{handlers: make(map[string]types.FastHTTPHandler)}
	hm.RegisterRoutes(router)

	ctx := &fasthttp.RequestCtx{}
	router.handlers["GET /health"](ctx)
	require.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), `"status":"unhealthy"`)

	ctx = &fasthttp.RequestCtx{}
	router.handlers["GET /version"](ctx)
	require.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	require.Contains(t, string(ctx.Response.Body()), `"version":"1.2.3"`)
}

func TestBreakerCheckerStates(t *testing.T) {
	check := func(state types.CircuitBreakerState) types.HealthStatus {
		return BreakerChecker(func() types.CircuitBreakerState { return state })(context.Background()).Status
	}

	require.Equal(t, types.StatusHealthy, check(types.CircuitBreakerClosed))
	require.Equal(t, types.StatusDegraded, check(types.CircuitBreakerHalfOpen))
	require.Equal(t, types.StatusDegraded, check(types.CircuitBreakerOpen))
}
