package middleware

import (
	"bytes"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

const (
	shardCount    = 64
	sweepInterval = 5 * time.Minute
)

var (
	realIPHeader    = []byte("X-Real-IP")
	forwardedHeader = []byte("X-Forwarded-For")
)

// RateLimitMiddleware applies a fixed window limit per client address.
type RateLimitMiddleware struct {
	logger          types.Logger
	metrics         types.MetricsManager
	rateLimitConfig *RateLimitConfig
	window          time.Duration
	weight          int
	shards          [shardCount]*rateLimitShard
	retryAfter      string
	now             func() time.Time
}

type RateLimitConfig struct {
	Requests     int64  `json:"requests"`
	Window       string `json:"window"`
	TrustProxies bool   `json:"trust_proxies"`
}

type rateLimitShard struct {
	mu        sync.Mutex
	clients   map[string]*clientWindow
	lastSweep time.Time
}

type clientWindow struct {
	start time.Time
	count int64
}

func NewRateLimitMiddleware(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *RateLimitMiddleware {
	rateLimitConfig := &RateLimitConfig{
		Requests: 100,
		Window:   "1m",
	}

	item := config.GetConfig().Middlewares.RateLimit
	if err := utils.UnmarshalConfig(item.Params, rateLimitConfig); err != nil {
		logger.Error("Failed to unmarshal RateLimit middleware config", zap.Error(err))
	}

	if rateLimitConfig.Requests <= 0 {
		rateLimitConfig.Requests = 100
	}

	window, err := time.ParseDuration(rateLimitConfig.Window)
	if err != nil || window <= 0 {
		logger.Warn("Invalid rate limit window, using 1m", zap.String("window", rateLimitConfig.Window))
		window = time.Minute
	}

	rl := &RateLimitMiddleware{
		logger:          logger,
		metrics:         metrics,
		rateLimitConfig: rateLimitConfig,
		window:          window,
		weight:          item.Weight,
		retryAfter:      strconv.Itoa(int((window + time.Second - 1) / time.Second)),
		now:             time.Now,
	}

	for i := range rl.shards {
		rl.shards[i] = &rateLimitShard{clients: make(map[string]*clientWindow)}
	}

	return rl
}

func (rl *RateLimitMiddleware) Name() string { return "rate_limit" }
func (rl *RateLimitMiddleware) Weight() int  { return rl.weight }

func (rl *RateLimitMiddleware) Handle(ctx *fasthttp.RequestCtx, next types.FastHTTPHandler, _ *types.RouteConfig) {
	client := rl.clientAddress(ctx)

	if !rl.allow(client) {
		if rl.metrics != nil {
			rl.metrics.Counter("http_rate_limited_total", nil).Inc()
		}

		rl.logger.Debug("Request rate limited",
			zap.String("client", client),
			zap.ByteString("path", ctx.Path()))

		ctx.Response.Header.Set("Retry-After", rl.retryAfter)
		ctx.Response.Header.Set("X-RateLimit-Limit", strconv.FormatInt(rl.rateLimitConfig.Requests, 10))
		utils.WriteError(ctx, fasthttp.StatusTooManyRequests, "too many requests")
		return
	}

	next(ctx)
}

func (rl *RateLimitMiddleware) clientAddress(ctx *fasthttp.RequestCtx) string {
	if rl.rateLimitConfig.TrustProxies {
		if realIP := ctx.Request.Header.PeekBytes(realIPHeader); len(realIP) > 0 {
			return string(bytes.TrimSpace(realIP))
		}

		if forwarded := ctx.Request.Header.PeekBytes(forwardedHeader); len(forwarded) > 0 {
			if comma := bytes.IndexByte(forwarded, ','); comma > 0 {
				forwarded = forwarded[:comma]
			}
			return string(bytes.TrimSpace(forwarded))
		}
	}

	return ctx.RemoteIP().String()
}

func (rl *RateLimitMiddleware) allow(client string) bool {
	shard := rl.shardFor(client)
	now := rl.now()

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if now.Sub(shard.lastSweep) > sweepInterval {
		shard.sweep(now, rl.window)
	}

	window, exists := shard.clients[client]
	if !exists || now.Sub(window.start) >= rl.window {
		shard.clients[client] = &clientWindow{start: now, count: 1}
		return true
	}

	if window.count >= rl.rateLimitConfig.Requests {
		return false
	}

	window.count++
	return true
}

func (rl *RateLimitMiddleware) shardFor(client string) *rateLimitShard {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(client))
	return rl.shards[hasher.Sum32()%shardCount]
}

func (s *rateLimitShard) sweep(now time.Time, window time.Duration) {
	for client, w := range s.clients {
		if now.Sub(w.start) >= window {
			delete(s.clients, client)
		}
	}
	s.lastSweep = now
}
