package server

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-weather/logger"
	"github.com/saiset-co/sai-weather/types"
)

type staticConfig struct{ cfg *types.ServiceConfig }

func (s staticConfig) Load() error                     { return nil }
func (s staticConfig) GetConfig() *types.ServiceConfig { return s.cfg }

func newTestServer(t *testing.T, router *Router, requestTimeout time.Duration) *FastHTTPServer {
	t.Helper()

	cfg := staticConfig{cfg: &types.ServiceConfig{
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{
				Host:           "127.0.0.1",
				Port:           0,
				ReadTimeout:    5,
				WriteTimeout:   5,
				RequestTimeout: requestTimeout,
			},
		},
	}}

	srv, err := NewHTTPServer(context.Background(), cfg, logger.NewNop(), nil, nil, nil, router)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		if srv.IsRunning() {
			_ = srv.Stop()
		}
	})

	return srv
}

func get(t *testing.T, srv *FastHTTPServer, method, path string) *fasthttp.Response {
	t.Helper()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.Header.SetMethod(method)
	req.SetRequestURI(fmt.Sprintf("http://%s%s", srv.Addr(), path))

	resp := &fasthttp.Response{}
	require.NoError(t, fasthttp.DoTimeout(req, resp, 2*time.Second))
	return resp
}

func TestServerRoutesStaticPaths(t *testing.T) {
	router := NewRouter()
	router.GET("/ping", func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("pong " + string(ctx.QueryArgs().Peek("who")))
	})

	srv := newTestServer(t, router, 0)

	resp := get(t, srv, "GET", "/ping?who=me")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	require.Equal(t, "pong me", string(resp.Body()))

	resp = get(t, srv, "GET", "/ping/")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
}

func TestServerNotFoundAndMethodNotAllowed(t *testing.T) {
	router := NewRouter()
	router.GET("/ping", func(ctx *fasthttp.RequestCtx) {})

	srv := newTestServer(t, router, 0)

	resp := get(t, srv, "GET", "/missing")
	require.Equal(t, fasthttp.StatusNotFound, resp.StatusCode())
	require.Contains(t, string(resp.Body()), "route not found")

	resp = get(t, srv, "POST", "/ping")
	require.Equal(t, fasthttp.StatusMethodNotAllowed, resp.StatusCode())
	require.Equal(t, "GET", string(resp.Header.Peek("Allow")))
}

func TestServerRouteTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	router := NewRouter()
	router.GET("/slow", func(ctx *fasthttp.RequestCtx) {
		select {
		case <-release:
		case <-time.After(time.Second):
		}
	}).WithTimeout(50 * time.Millisecond)

	srv := newTestServer(t, router, 0)

	resp := get(t, srv, "GET", "/slow")
	require.Equal(t, fasthttp.StatusGatewayTimeout, resp.StatusCode())
}

type recordingMiddlewares struct {
	calls    int
	disabled []string
}

func (r *recordingMiddlewares) RegisterMiddlewares() error      { return nil }
func (r *recordingMiddlewares) Register(types.Middleware) error { return nil }

func (r *recordingMiddlewares) Execute(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig) {
	r.calls++
	r.disabled = config.DisabledMiddlewares
	handler(ctx)
}

func TestServerRunsMiddlewaresWithRouteConfig(t *testing.T) {
	router := NewRouter()
	router.GET("/quiet", func(ctx *fasthttp.RequestCtx) {}).WithoutMiddlewares("logging")

	mw := &recordingMiddlewares{}
	cfg := staticConfig{cfg: &types.ServiceConfig{
		Server: &types.ServerConfig{HTTP: &types.HTTPConfig{Host: "127.0.0.1"}},
	}}

	srv, err := NewHTTPServer(context.Background(), cfg, logger.NewNop(), nil, mw, nil, router)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop() }()

	resp := get(t, srv, "GET", "/quiet")
	require.Equal(t, fasthttp.StatusOK, resp.StatusCode())
	require.Equal(t, 1, mw.calls)
	require.Equal(t, []string{"logging"}, mw.disabled)
}

func TestServerLifecycle(t *testing.T) {
	srv := newTestServer(t, NewRouter(), 0)

	require.True(t, srv.IsRunning())
	require.ErrorIs(t, srv.Start(), types.ErrServerAlreadyRunning)
	require.NoError(t, srv.Stop())
	require.False(t, srv.IsRunning())
	require.ErrorIs(t, srv.Stop(), types.ErrServerNotRunning)
}

func TestServerStopsRightAfterStart(t *testing.T) {
	cfg := staticConfig{cfg: &types.ServiceConfig{
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{Host: "127.0.0.1", ShutdownTimeout: 1},
		},
	}}

	for i := 0; i < 20; i++ {
		srv, err := NewHTTPServer(context.Background(), cfg, logger.NewNop(), nil, nil, nil, NewRouter())
		require.NoError(t, err)
		require.NoError(t, srv.Start())
		require.NoError(t, srv.Stop(), "round %d", i)

		select {
		case <-srv.serveDone:
		case <-time.After(time.Second):
			t.Fatalf("round %d: serve loop still running", i)
		}
	}
}

func TestServerRequiresTLSManager(t *testing.T) {
	cfg := staticConfig{cfg: &types.ServiceConfig{
		Server: &types.ServerConfig{
			HTTP: &types.HTTPConfig{Host: "127.0.0.1"},
			TLS:  &types.TLSConfig{Enabled: true},
		},
	}}

	_, err := NewHTTPServer(context.Background(), cfg, logger.NewNop(), nil, nil, nil, NewRouter())
	require.ErrorIs(t, err, types.ErrTLSConfigInvalid)
}

func TestRouterRoutesAndLookup(t *testing.T) {
	router := NewRouter()
	router.Add("GET", "weather/", func(ctx *fasthttp.RequestCtx) {}, nil)
	router.Add("BREW", "/coffee", func(ctx *fasthttp.RequestCtx) {}, nil)

	routes := router.Routes()
	require.Len(t, routes, 1)
	require.Contains(t, routes, "GET /weather")
	require.NotNil(t, routes["GET /weather"].Config)

	info, _ := router.Lookup("GET", "/weather")
	require.NotNil(t, info)

	info, allowed := router.Lookup("DELETE", "/weather")
	require.Nil(t, info)
	require.Equal(t, []string{"GET"}, allowed)
}
