package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/cache"
	"github.com/saiset-co/sai-weather/client"
	"github.com/saiset-co/sai-weather/config"
	"github.com/saiset-co/sai-weather/cron"
	"github.com/saiset-co/sai-weather/health"
	"github.com/saiset-co/sai-weather/logger"
	"github.com/saiset-co/sai-weather/metrics"
	"github.com/saiset-co/sai-weather/middleware"
	"github.com/saiset-co/sai-weather/readthrough"
	"github.com/saiset-co/sai-weather/recompute"
	"github.com/saiset-co/sai-weather/server"
	"github.com/saiset-co/sai-weather/tls"
	"github.com/saiset-co/sai-weather/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const (
	DefaultRequestTimeout = 10 * time.Second
	reportJobName         = "counters-report"
)

type Option func(*Service)

// WithFetcher replaces the weatherapi.com client as the upstream.
func WithFetcher(fetcher types.UpstreamFetcher) Option {
	return func(s *Service) {
		s.fetcher = fetcher
	}
}

func WithLogger(logger types.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	config          types.ConfigManager
	logger          types.Logger
	metrics         types.MetricsManager
	store           types.StoreManager
	client          *client.WeatherClient
	fetcher         types.UpstreamFetcher
	accessor        *readthrough.Accessor
	middlewares     *middleware.Manager
	router          *server.Router
	health          *health.Manager
	cron            *cron.Manager
	tls             *tls.CertManager
	http            *server.FastHTTPServer
	started         []types.LifecycleManager
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	startTimeout    time.Duration
}

// NewService loads the configuration at configPath and wires every component.
func NewService(ctx context.Context, configPath string, opts ...Option) (*Service, error) {
	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return New(ctx, configManager, opts...)
}

func New(ctx context.Context, configManager types.ConfigManager, opts ...Option) (*Service, error) {
	cfg := configManager.GetConfig()
	if cfg == nil {
		return nil, types.ErrConfigIsNil
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		config:          configManager,
		done:            make(chan struct{}),
		requestTimeout:  DefaultRequestTimeout,
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.state.Store(StateStopped)

	if err := s.build(cfg); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) build(cfg *types.ServiceConfig) error {
	var err error

	if s.logger == nil {
		s.logger, err = logger.NewLogger(cfg.Logger)
		if err != nil {
			return types.WrapError(err, "failed to create logger")
		}
	}

	if cfg.Server != nil && cfg.Server.HTTP != nil && cfg.Server.HTTP.RequestTimeout > 0 {
		s.requestTimeout = cfg.Server.HTTP.RequestTimeout
	}

	s.metrics, err = metrics.NewManager(s.ctx, s.config, s.logger)
	if err != nil {
		return err
	}

	s.store, err = cache.NewStore(s.ctx, s.config, s.logger, s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to create store")
	}

	s.client, err = client.NewWeatherClient(s.logger, cfg.Upstream)
	if err != nil {
		return types.WrapError(err, "failed to create upstream client")
	}

	if s.fetcher == nil {
		s.fetcher = s.client
	}

	s.accessor = readthrough.NewAccessor(s.logger, s.metrics, s.store, s.fetcher, newPolicy(cfg.Refresh), cfg.Refresh)

	s.middlewares = middleware.NewManager(s.config, s.logger, s.metrics)
	if err := s.middlewares.RegisterMiddlewares(); err != nil {
		return types.WrapError(err, "failed to register middlewares")
	}

	s.router = server.NewRouter()
	s.registerRoutes()
	s.metrics.RegisterRoutes(s.router)

	if cfg.Health != nil && cfg.Health.Enabled {
		s.health = health.NewManager(s.ctx, s.config, s.logger)
		s.health.RegisterChecker("store", health.StoreChecker(s.store))
		s.health.RegisterChecker("upstream", health.BreakerChecker(s.client.Breaker().State))
		s.health.RegisterRoutes(s.router)
	}

	if cfg.Cron != nil && cfg.Cron.Enabled {
		s.cron, err = cron.NewManager(s.ctx, s.config, s.logger, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to create cron manager")
		}
		if err := s.cron.Add(reportJobName, cfg.Cron.ReportSpec, s.reportCounters); err != nil {
			return types.WrapError(err, "failed to schedule counters report")
		}
	}

	var tlsManager types.TLSManager
	if cfg.Server != nil && cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		s.tls, err = tls.NewCertManager(s.ctx, s.logger, s.config)
		if err != nil {
			return types.WrapError(err, "failed to create tls manager")
		}
		tlsManager = s.tls
	}

	s.http, err = server.NewHTTPServer(s.ctx, s.config, s.logger, s.metrics, s.middlewares, tlsManager, s.router)
	if err != nil {
		return types.WrapError(err, "failed to create http server")
	}

	return nil
}

func newPolicy(refresh *types.RefreshConfig) *recompute.Policy {
	if refresh == nil {
		return recompute.New(recompute.DefaultExpected, recompute.DefaultBeta)
	}

	var opts []recompute.Option
	if refresh.AdaptiveRecompute {
		opts = append(opts, recompute.WithAdaptive(recompute.DefaultSmoothing))
	}

	return recompute.New(refresh.ExpectedRecompute, refresh.Beta, opts...)
}

// Accessor exposes the read-through cache for embedding in other servers.
func (s *Service) Accessor() *readthrough.Accessor {
	return s.accessor
}

func (s *Service) Addr() string {
	return s.http.Addr()
}

// Run starts the service and blocks until Stop is called, the parent context
// ends or SIGINT/SIGTERM/SIGQUIT arrives.
func (s *Service) Run() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServiceIsRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.String("stack", string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service")

	if err := s.startComponents(); err != nil {
		if stopErr := s.stopComponents(); stopErr != nil {
			s.logger.Error("Error while rolling back start", zap.Error(stopErr))
		}
		s.setState(StateStopped)
		return err
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully", zap.String("address", s.http.Addr()))

	<-s.done

	stopErr := s.stopComponents()
	if stopErr != nil {
		s.logger.Error("Error during service shutdown", zap.Error(stopErr))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger.Info("Service stopped")
	return stopErr
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) {
	s.state.Store(newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) components() []types.LifecycleManager {
	components := []types.LifecycleManager{s.metrics, s.store}

	if lm, ok := s.config.(types.LifecycleManager); ok {
		components = append([]types.LifecycleManager{lm}, components...)
	}
	if s.health != nil {
		components = append(components, s.health)
	}
	if s.cron != nil {
		components = append(components, s.cron)
	}
	if s.tls != nil {
		components = append(components, s.tls)
	}

	return append(components, s.http)
}

func (s *Service) startComponents() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	for _, component := range s.components() {
		if err := ctx.Err(); err != nil {
			return types.WrapError(err, "service start interrupted")
		}

		if err := component.Start(); err != nil {
			return types.Errorf(types.ErrComponentStartFailed, "%T: %v", component, err)
		}

		s.started = append(s.started, component)
	}

	return nil
}

// stopComponents stops whatever was started, in reverse order.
func (s *Service) stopComponents() error {
	var result *multierror.Error

	deadline := time.After(s.shutdownTimeout)

	for i := len(s.started) - 1; i >= 0; i-- {
		component := s.started[i]

		stopped := make(chan error, 1)
		go func() { stopped <- component.Stop() }()

		select {
		case err := <-stopped:
			if err != nil {
				s.logger.Error("Failed to stop component", zap.String("component", fmt.Sprintf("%T", component)), zap.Error(err))
				result = multierror.Append(result, types.Errorf(types.ErrComponentStopFailed, "%T: %v", component, err))
			}
		case <-deadline:
			s.logger.Warn("Component shutdown timeout, remaining components were not stopped")
			result = multierror.Append(result, types.Errorf(types.ErrComponentStopFailed, "shutdown timeout after %v", s.shutdownTimeout))
			s.started = nil
			return result.ErrorOrNil()
		}
	}

	s.started = nil

	if err := result.ErrorOrNil(); err != nil {
		return err
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}
		case <-s.ctx.Done():
		}
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}
