package middleware

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

var (
	trueBytes        = []byte("true")
	asteriskBytes    = []byte("*")
	optionsBytes     = []byte(fasthttp.MethodOptions)
	varyOrigin       = []byte("Origin")
	varyPreflight    = []byte("Origin, Access-Control-Request-Method, Access-Control-Request-Headers")
	corsRejectedBody = []byte(`{"error":"Forbidden","message":"origin not allowed"}`)
)

type CORSMiddleware struct {
	logger           types.Logger
	metrics          types.MetricsManager
	corsConfig       *CORSConfig
	weight           int
	allowsAll        bool
	allowedOrigins   map[string]struct{}
	wildcardDomains  []string
	allowedMethods   []byte
	allowedHeaders   []byte
	exposedHeaders   []byte
	maxAge           []byte
	allowCredentials bool
}

type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

func NewCORSMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *CORSMiddleware {
	corsConfig := &CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{fasthttp.MethodGet, fasthttp.MethodOptions},
		AllowedHeaders: []string{"Content-Type", utils.RequestIDHeader},
		ExposedHeaders: []string{utils.RequestIDHeader},
		MaxAge:         86400,
	}

	item := config.GetConfig().Middlewares.CORS
	if err := utils.UnmarshalConfig(item.Params, corsConfig); err != nil {
		logger.Error("Failed to unmarshal CORS middleware config", zap.Error(err))
	}

	c := &CORSMiddleware{
		logger:           logger,
		metrics:          metrics,
		corsConfig:       corsConfig,
		weight:           item.Weight,
		allowCredentials: corsConfig.AllowCredentials,
	}

	c.precompile()

	return c
}

func (c *CORSMiddleware) Name() string { return "cors" }
func (c *CORSMiddleware) Weight() int  { return c.weight }

func (c *CORSMiddleware) Handle(ctx *fasthttp.RequestCtx, next types.FastHTTPHandler, _ *types.RouteConfig) {
	origin := ctx.Request.Header.Peek("Origin")
	if len(origin) == 0 {
		next(ctx)
		return
	}

	if !c.isOriginAllowed(utils.BytesToString(origin)) {
		c.logger.Warn("CORS request blocked",
			zap.ByteString("origin", origin),
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()))

		if c.metrics != nil {
			c.metrics.Counter("http_cors_rejected_total", nil).Inc()
		}

		ctx.SetStatusCode(fasthttp.StatusForbidden)
		ctx.SetContentType("application/json")
		ctx.SetBody(corsRejectedBody)
		return
	}

	if bytes.Equal(ctx.Method(), optionsBytes) && len(ctx.Request.Header.Peek("Access-Control-Request-Method")) > 0 {
		c.writePreflight(ctx, origin)
		return
	}

	c.setAllowOrigin(ctx, origin)

	if len(c.exposedHeaders) > 0 {
		ctx.Response.Header.SetBytesV("Access-Control-Expose-Headers", c.exposedHeaders)
	}

	ctx.Response.Header.AddBytesV("Vary", varyOrigin)

	next(ctx)
}

func (c *CORSMiddleware) isOriginAllowed(origin string) bool {
	if c.allowsAll {
		return true
	}

	if _, ok := c.allowedOrigins[origin]; ok {
		return true
	}

	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}

	for _, domain := range c.wildcardDomains {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}

	return false
}

func (c *CORSMiddleware) setAllowOrigin(ctx *fasthttp.RequestCtx, origin []byte) {
	// a credentialed response may not use the wildcard
	if c.allowsAll && !c.allowCredentials {
		ctx.Response.Header.SetBytesV("Access-Control-Allow-Origin", asteriskBytes)
	} else {
		ctx.Response.Header.SetBytesV("Access-Control-Allow-Origin", origin)
	}

	if c.allowCredentials {
		ctx.Response.Header.SetBytesV("Access-Control-Allow-Credentials", trueBytes)
	}
}

func (c *CORSMiddleware) writePreflight(ctx *fasthttp.RequestCtx, origin []byte) {
	ctx.SetStatusCode(fasthttp.StatusNoContent)

	c.setAllowOrigin(ctx, origin)
	ctx.Response.Header.SetBytesV("Access-Control-Allow-Methods", c.allowedMethods)
	ctx.Response.Header.SetBytesV("Access-Control-Allow-Headers", c.allowedHeaders)
	ctx.Response.Header.SetBytesV("Access-Control-Max-Age", c.maxAge)
	ctx.Response.Header.SetBytesV("Vary", varyPreflight)
	ctx.SetBody(nil)
}

func (c *CORSMiddleware) precompile() {
	c.allowedOrigins = make(map[string]struct{}, len(c.corsConfig.AllowedOrigins))

	for _, origin := range c.corsConfig.AllowedOrigins {
		switch {
		case origin == "*":
			c.allowsAll = true
		case strings.HasPrefix(origin, "*."):
			c.wildcardDomains = append(c.wildcardDomains, strings.TrimPrefix(origin, "*."))
		default:
			c.allowedOrigins[origin] = struct{}{}
		}
	}

	c.allowedMethods = []byte(strings.Join(c.corsConfig.AllowedMethods, ", "))
	c.allowedHeaders = []byte(strings.Join(c.corsConfig.AllowedHeaders, ", "))
	c.exposedHeaders = []byte(strings.Join(c.corsConfig.ExposedHeaders, ", "))
	c.maxAge = []byte(strconv.Itoa(c.corsConfig.MaxAge))
}
