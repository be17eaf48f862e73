package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const DefaultShutdownTimeout = 5 * time.Second

var requestDurationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

type compiledRoute struct {
	handler fasthttp.RequestHandler
	config  *types.RouteConfig
}

type FastHTTPServer struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	middlewares     types.MiddlewareManager
	router          *Router
	server          *fasthttp.Server
	listener        net.Listener
	httpConfig      *types.HTTPConfig
	tlsConfig       *types.TLSConfig
	tlsManager      types.TLSManager
	state           atomic.Value
	shutdownTimeout time.Duration
	compiled        map[string]*compiledRoute
	routingMu       sync.RWMutex
	serveDone       chan struct{}
}

func NewHTTPServer(
	ctx context.Context,
	config types.ConfigManager,
	logger types.Logger,
	metrics types.MetricsManager,
	middlewares types.MiddlewareManager,
	tlsManager types.TLSManager,
	router *Router,
) (*FastHTTPServer, error) {
	serverConfig := config.GetConfig().Server
	if serverConfig == nil || serverConfig.HTTP == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "server.http")
	}

	tlsConfig := serverConfig.TLS
	if tlsConfig == nil {
		tlsConfig = &types.TLSConfig{}
	}
	if tlsConfig.Enabled && tlsManager == nil {
		return nil, types.Errorf(types.ErrTLSConfigInvalid, "tls enabled without a tls manager")
	}

	shutdownTimeout := DefaultShutdownTimeout
	if serverConfig.HTTP.ShutdownTimeout > 0 {
		shutdownTimeout = time.Duration(serverConfig.HTTP.ShutdownTimeout) * time.Second
	}

	serverCtx, cancel := context.WithCancel(ctx)

	server := &FastHTTPServer{
		ctx:             serverCtx,
		cancel:          cancel,
		logger:          logger,
		metrics:         metrics,
		middlewares:     middlewares,
		tlsManager:      tlsManager,
		router:          router,
		httpConfig:      serverConfig.HTTP,
		tlsConfig:       tlsConfig,
		shutdownTimeout: shutdownTimeout,
		compiled:        make(map[string]*compiledRoute),
	}

	server.state.Store(StateStopped)

	return server, nil
}

func (h *FastHTTPServer) Start() error {
	if !h.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	h.compileRoutes()

	h.server = &fasthttp.Server{
		Handler:                      h.mainHandler,
		Name:                         "sai-weather",
		ReadTimeout:                  time.Duration(h.httpConfig.ReadTimeout) * time.Second,
		WriteTimeout:                 time.Duration(h.httpConfig.WriteTimeout) * time.Second,
		IdleTimeout:                  time.Duration(h.httpConfig.IdleTimeout) * time.Second,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	addr := fmt.Sprintf("%s:%d", h.httpConfig.Host, h.httpConfig.Port)

	var err error
	if h.tlsConfig.Enabled {
		h.listener, err = h.tlsManager.Listen(addr)
	} else {
		h.listener, err = net.Listen("tcp", addr)
	}
	if err != nil {
		h.setState(StateStopped)
		return types.Errorf(types.ErrServerStartFailed, "listen %s: %v", addr, err)
	}

	h.serveDone = make(chan struct{})

	go func() {
		defer close(h.serveDone)

		if err := h.server.Serve(h.listener); err != nil && h.getState() != StateStopping {
			h.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	h.setState(StateRunning)

	h.logger.Info("HTTP server started successfully",
		zap.String("address", h.listener.Addr().String()),
		zap.Bool("tls", h.tlsConfig.Enabled),
		zap.Int("routes", len(h.compiled)))

	return nil
}

func (h *FastHTTPServer) Stop() error {
	if !h.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		h.setState(StateStopped)
		h.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := h.server.ShutdownWithContext(gCtx)

		// Serve may not have registered the listener yet, in which case
		// Shutdown had nothing to close and Accept would block forever.
		select {
		case <-h.serveDone:
		default:
			_ = h.listener.Close()
		}

		return err
	})

	g.Go(func() error {
		select {
		case <-h.serveDone:
			return nil
		case <-gCtx.Done():
			return gCtx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		h.logger.Warn("HTTP server did not stop gracefully", zap.Error(err))
		return types.WrapError(err, "http server shutdown")
	}

	h.logger.Info("HTTP server stopped gracefully")

	return nil
}

func (h *FastHTTPServer) IsRunning() bool {
	return h.getState() == StateRunning
}

// Addr is the bound listener address, useful when the configured port is 0.
func (h *FastHTTPServer) Addr() string {
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

func (h *FastHTTPServer) getState() State {
	return h.state.Load().(State)
}

func (h *FastHTTPServer) setState(newState State) {
	h.state.Store(newState)
}

func (h *FastHTTPServer) transitionState(from, to State) bool {
	return h.state.CompareAndSwap(from, to)
}

func (h *FastHTTPServer) compileRoutes() {
	routes := h.router.Routes()

	h.routingMu.Lock()
	defer h.routingMu.Unlock()

	h.compiled = make(map[string]*compiledRoute, len(routes))
	for key, info := range routes {
		h.compiled[key] = &compiledRoute{
			handler: h.wrapTimeout(info),
			config:  info.Config,
		}
	}
}

func (h *FastHTTPServer) wrapTimeout(info *types.RouteInfo) fasthttp.RequestHandler {
	handler := fasthttp.RequestHandler(info.Handler)

	timeout := info.Config.Timeout
	if timeout <= 0 {
		timeout = h.httpConfig.RequestTimeout
	}
	if timeout <= 0 {
		return handler
	}

	return fasthttp.TimeoutWithCodeHandler(handler, timeout, `{"error":"Gateway Timeout","message":"request timed out"}`, fasthttp.StatusGatewayTimeout)
}

func (h *FastHTTPServer) mainHandler(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	method := string(ctx.Method())
	path := normalizePath(string(ctx.Path()))
	key := utils.RouteKey(method, path)

	h.routingMu.RLock()
	route := h.compiled[key]
	h.routingMu.RUnlock()

	if route == nil {
		if _, allowed := h.router.Lookup(method, path); len(allowed) > 0 {
			ctx.Response.Header.Set("Allow", strings.Join(allowed, ", "))
			utils.WriteError(ctx, fasthttp.StatusMethodNotAllowed, "method not allowed")
		} else {
			utils.WriteError(ctx, fasthttp.StatusNotFound, "route not found")
		}
		h.recordRequest(method, "unmatched", ctx.Response.StatusCode(), start)
		return
	}

	h.executeHandler(ctx, route)
	h.recordRequest(method, path, ctx.Response.StatusCode(), start)
}

func (h *FastHTTPServer) executeHandler(ctx *fasthttp.RequestCtx, route *compiledRoute) {
	if h.middlewares == nil {
		route.handler(ctx)
		return
	}

	h.middlewares.Execute(ctx, types.FastHTTPHandler(route.handler), route.config)
}

func (h *FastHTTPServer) recordRequest(method, path string, status int, start time.Time) {
	if h.metrics == nil {
		return
	}

	h.metrics.Counter("http_requests_total", map[string]string{
		"method": method,
		"path":   path,
		"status": fmt.Sprintf("%d", status),
	}).Inc()

	h.metrics.Histogram("http_request_duration_seconds", requestDurationBuckets, map[string]string{
		"method": method,
		"path":   path,
	}).ObserveDuration(start)
}
