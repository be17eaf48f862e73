package client

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/saiset-co/sai-weather/logger"
	"github.com/saiset-co/sai-weather/types"
)

type upstreamStub struct {
	calls   atomic.Int32
	lastURI atomic.Value
}

func startUpstream(t *testing.T, handler func(ctx *fasthttp.RequestCtx)) (*fasthttputil.InmemoryListener, *upstreamStub) {
	t.Helper()

	stub := &upstreamStub{}
	ln := fasthttputil.NewInmemoryListener()

	go func() {
		_ = fasthttp.Serve(ln, func(ctx *fasthttp.RequestCtx) {
			stub.calls.Add(1)
			stub.lastURI.Store(string(ctx.RequestURI()))
			handler(ctx)
		})
	}()

	t.Cleanup(func() { _ = ln.Close() })

	return ln, stub
}

func newTestClient(t *testing.T, ln *fasthttputil.InmemoryListener, cb *types.CircuitBreakerConfig) *WeatherClient {
	t.Helper()

	c, err := NewWeatherClient(logger.NewNop(), &types.UpstreamConfig{
		BaseURL:        "http://weather.test/",
		APIKey:         "secret",
		Timeout:        time.Second,
		CircuitBreaker: cb,
	})
	require.NoError(t, err)

	c.client.Dial = func(addr string) (net.Conn, error) {
		return ln.Dial()
	}

	return c
}

func TestFetchSendsExpectedQuery(t *testing.T) {
	var query struct{ key, q, aqi, path string }

	ln, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		args := ctx.QueryArgs()
		query.key = string(args.Peek("key"))
		query.q = string(args.Peek("q"))
		query.aqi = string(args.Peek("aqi"))
		query.path = string(ctx.Path())
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"location":{"name":"Paris"},"current":{"temp_c":18}}`)
	})

	c := newTestClient(t, ln, nil)

	payload, err := c.Fetch(context.Background(), "paris")
	require.NoError(t, err)
	require.JSONEq(t, `{"location":{"name":"Paris"},"current":{"temp_c":18}}`, string(payload))

	require.Equal(t, "/v1/current.json", query.path)
	require.Equal(t, "secret", query.key)
	require.Equal(t, "paris", query.q)
	require.Equal(t, "no", query.aqi)
}

func TestFetchEncodesSubject(t *testing.T) {
	var got string

	ln, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		got = string(ctx.QueryArgs().Peek("q"))
		ctx.SetBodyString(`{}`)
	})

	c := newTestClient(t, ln, nil)

	_, err := c.Fetch(context.Background(), "new york&x=1")
	require.NoError(t, err)
	require.Equal(t, "new york&x=1", got)
}

func TestFetchPassesThroughNotFound(t *testing.T) {
	const body = `{"error":{"code":1006,"message":"No matching location found."}}`

	ln, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(body)
	})

	c := newTestClient(t, ln, nil)

	payload, err := c.Fetch(context.Background(), "atlantis")
	require.NoError(t, err)
	require.JSONEq(t, body, string(payload))
}

func TestFetchServerErrorIsUpstreamFailure(t *testing.T) {
	ln, stub := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	})

	c := newTestClient(t, ln, nil)

	_, err := c.Fetch(context.Background(), "paris")
	require.ErrorIs(t, err, types.ErrUpstreamFailed)
	require.ErrorIs(t, err, types.ErrUpstreamStatus)
	require.Equal(t, int32(1), stub.calls.Load(), "no retry")
}

func TestFetchUnauthorizedIsUpstreamFailure(t *testing.T) {
	ln, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
		ctx.SetBodyString(`{"error":{"code":2006,"message":"API key is invalid."}}`)
	})

	c := newTestClient(t, ln, nil)

	_, err := c.Fetch(context.Background(), "paris")
	require.ErrorIs(t, err, types.ErrUpstreamFailed)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	ln, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		<-release
	})
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, ln, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Fetch(ctx, "paris")
	require.ErrorIs(t, err, types.ErrUpstreamFailed)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestFetchCancelledContext(t *testing.T) {
	ln, stub := startUpstream(t, func(ctx *fasthttp.RequestCtx) {})
	c := newTestClient(t, ln, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Fetch(ctx, "paris")
	require.ErrorIs(t, err, types.ErrUpstreamFailed)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, stub.calls.Load())
}

func TestFetchDoesNotRetryDroppedConnections(t *testing.T) {
	ln := fasthttputil.NewInmemoryListener()
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				buf := make([]byte, 4096)
				_, _ = conn.Read(buf)
				_ = conn.Close()
			}()
		}
	}()

	c := newTestClient(t, ln, nil)

	var dials atomic.Int32
	c.client.Dial = func(addr string) (net.Conn, error) {
		dials.Add(1)
		return ln.Dial()
	}

	_, err := c.Fetch(context.Background(), "paris")
	require.ErrorIs(t, err, types.ErrUpstreamFailed)
	require.Equal(t, int32(1), dials.Load())
}

func TestFetchEmptySubject(t *testing.T) {
	ln, _ := startUpstream(t, func(ctx *fasthttp.RequestCtx) {})
	c := newTestClient(t, ln, nil)

	_, err := c.Fetch(context.Background(), "")
	require.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestFetchOpensBreaker(t *testing.T) {
	ln, stub := startUpstream(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
	})

	c := newTestClient(t, ln, &types.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
	})

	for i := 0; i < 2; i++ {
		_, err := c.Fetch(context.Background(), "paris")
		require.ErrorIs(t, err, types.ErrUpstreamStatus)
	}

	require.Equal(t, types.CircuitBreakerOpen, c.Breaker().State())

	_, err := c.Fetch(context.Background(), "paris")
	require.ErrorIs(t, err, types.ErrUpstreamFailed)
	require.ErrorIs(t, err, types.ErrCircuitBreakerOpen)
	require.Equal(t, int32(2), stub.calls.Load())
}
