package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type compressionParams struct {
	Algorithm string `json:"algorithm"`
	Level     int    `json:"level"`
	Threshold int    `json:"threshold"`
}

func TestUnmarshalConfigKeepsDefaults(t *testing.T) {
	params := map[string]interface{}{"algorithm": "gzip"}
	cfg := &compressionParams{Algorithm: "br", Level: 6, Threshold: 1024}

	require.NoError(t, UnmarshalConfig(params, cfg))
	require.Equal(t, compressionParams{Algorithm: "gzip", Level: 6, Threshold: 1024}, *cfg)
}

func TestUnmarshalConfigNilAndTyped(t *testing.T) {
	cfg := &compressionParams{Level: 3}
	require.NoError(t, UnmarshalConfig(nil, cfg))
	require.Equal(t, 3, cfg.Level)

	require.NoError(t, UnmarshalConfig(&compressionParams{Level: 9}, cfg))
	require.Equal(t, 9, cfg.Level)
}

func TestMarshalHasNoTrailingNewline(t *testing.T) {
	data, err := Marshal(map[string]int{"totalRequests": 2})
	require.NoError(t, err)
	require.Equal(t, `{"totalRequests":2}`, string(data))
}

func TestWriteJSONPropagatesRequestID(t *testing.T) {
	var ctx fasthttp.RequestCtx
	ctx.Request.Header.Set(RequestIDHeader, "req-1")

	WriteJSON(&ctx, fasthttp.StatusAccepted, map[string]string{"status": "ok"})

	require.Equal(t, fasthttp.StatusAccepted, ctx.Response.StatusCode())
	require.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	require.Equal(t, "req-1", string(ctx.Response.Header.Peek(RequestIDHeader)))
	require.JSONEq(t, `{"status":"ok"}`, string(ctx.Response.Body()))
}

func TestWriteError(t *testing.T) {
	var ctx fasthttp.RequestCtx

	WriteError(&ctx, fasthttp.StatusBadGateway, "upstream unavailable")

	require.Equal(t, fasthttp.StatusBadGateway, ctx.Response.StatusCode())
	require.JSONEq(t, `{"error":"Bad Gateway","message":"upstream unavailable"}`, string(ctx.Response.Body()))
}

func TestBytesToString(t *testing.T) {
	require.Equal(t, "", BytesToString(nil))
	require.Equal(t, "weather", BytesToString([]byte("weather")))
}
