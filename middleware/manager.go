package middleware

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
)

const MaxMiddlewares = 64

type chainFunc func(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig)

type Manager struct {
	config      types.ConfigManager
	logger      types.Logger
	metrics     types.MetricsManager
	registered  map[string]types.Middleware
	ordered     []types.Middleware
	nameToIndex map[string]int
	allMask     uint64
	chains      map[uint64]chainFunc
	chainsMu    sync.RWMutex
	mu          sync.Mutex
	initialized int32
}

func NewManager(config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) *Manager {
	return &Manager{
		config:      config,
		logger:      logger,
		metrics:     metrics,
		registered:  make(map[string]types.Middleware),
		nameToIndex: make(map[string]int),
		chains:      make(map[uint64]chainFunc),
	}
}

// RegisterMiddlewares registers the built-in middlewares enabled in the
// configuration and freezes the chain order.
func (m *Manager) RegisterMiddlewares() error {
	config := m.config.GetConfig().Middlewares
	if config == nil {
		return m.finalizeConfiguration()
	}

	if config.Recovery != nil && config.Recovery.Enabled {
		if err := m.Register(NewRecoveryMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Recovery middleware registered")
	}

	if config.CORS != nil && config.CORS.Enabled {
		if err := m.Register(NewCORSMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("CORS middleware registered")
	}

	if config.Logging != nil && config.Logging.Enabled {
		if err := m.Register(NewLoggingMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Logging middleware registered")
	}

	if config.RateLimit != nil && config.RateLimit.Enabled {
		if err := m.Register(NewRateLimitMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Rate limit middleware registered")
	}

	if config.Compression != nil && config.Compression.Enabled {
		if err := m.Register(NewCompressionMiddleware(m.config, m.logger, m.metrics)); err != nil {
			return err
		}
		m.logger.Info("Compression middleware registered")
	}

	return m.finalizeConfiguration()
}

func (m *Manager) Register(middleware types.Middleware) error {
	if middleware == nil {
		return types.ErrMiddlewareInvalidType
	}

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.Errorf(types.ErrInvalidState, "cannot register middleware %q after finalization", middleware.Name())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.registered) >= MaxMiddlewares {
		return types.Errorf(types.ErrInvalidParameter, "maximum middleware count exceeded: %d", MaxMiddlewares)
	}

	name := middleware.Name()
	if _, exists := m.registered[name]; exists {
		return types.Errorf(types.ErrMiddlewareExists, "name: %s", name)
	}

	m.registered[name] = middleware
	return nil
}

func (m *Manager) finalizeConfiguration() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if atomic.LoadInt32(&m.initialized) == 1 {
		return types.Errorf(types.ErrInvalidState, "middleware configuration already finalized")
	}

	weights := make(map[int]string, len(m.registered))
	for name, middleware := range m.registered {
		if existing, exists := weights[middleware.Weight()]; exists {
			return types.Errorf(types.ErrInvalidParameter, "duplicate weight %d for middlewares %q and %q",
				middleware.Weight(), existing, name)
		}
		weights[middleware.Weight()] = name
	}

	m.ordered = make([]types.Middleware, 0, len(m.registered))
	for _, middleware := range m.registered {
		m.ordered = append(m.ordered, middleware)
	}

	sort.Slice(m.ordered, func(i, j int) bool {
		return m.ordered[i].Weight() < m.ordered[j].Weight()
	})

	m.allMask = 0
	for i, middleware := range m.ordered {
		m.nameToIndex[middleware.Name()] = i
		m.allMask |= 1 << uint(i)
	}

	atomic.StoreInt32(&m.initialized, 1)

	names := make([]string, len(m.ordered))
	for i, middleware := range m.ordered {
		names[i] = middleware.Name()
	}
	m.logger.Debug("Middleware chain finalized", zap.Strings("order", names))

	return nil
}

// Execute runs handler behind every registered middleware except those the
// route disables. Lower weights run first.
func (m *Manager) Execute(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig) {
	if atomic.LoadInt32(&m.initialized) == 0 {
		handler(ctx)
		return
	}

	mask := m.routeMask(config)
	if mask == 0 {
		handler(ctx)
		return
	}

	m.chain(mask)(ctx, handler, config)
}

func (m *Manager) routeMask(config *types.RouteConfig) uint64 {
	mask := m.allMask
	if config == nil {
		return mask
	}

	for _, name := range config.DisabledMiddlewares {
		if index, exists := m.nameToIndex[name]; exists {
			mask &^= 1 << uint(index)
		}
	}

	return mask
}

func (m *Manager) chain(mask uint64) chainFunc {
	m.chainsMu.RLock()
	compiled, ok := m.chains[mask]
	m.chainsMu.RUnlock()

	if ok {
		return compiled
	}

	active := make([]types.Middleware, 0, len(m.ordered))
	for i, middleware := range m.ordered {
		if mask&(1<<uint(i)) != 0 {
			active = append(active, middleware)
		}
	}

	compiled = compileChain(active)

	m.chainsMu.Lock()
	m.chains[mask] = compiled
	m.chainsMu.Unlock()

	return compiled
}

func compileChain(middlewares []types.Middleware) chainFunc {
	return func(ctx *fasthttp.RequestCtx, handler types.FastHTTPHandler, config *types.RouteConfig) {
		var index int

		var next types.FastHTTPHandler
		next = func(ctx *fasthttp.RequestCtx) {
			if index >= len(middlewares) {
				handler(ctx)
				return
			}

			mw := middlewares[index]
			index++
			mw.Handle(ctx, next, config)
		}

		next(ctx)
	}
}
