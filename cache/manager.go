package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
)

var customStoreCreators = sync.Map{}

func RegisterStore(storeType string, creator types.StoreManagerCreator) {
	customStoreCreators.Store(storeType, creator)
}

func NewStore(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.StoreManager, error) {
	storeConfig := config.GetConfig().Store
	if storeConfig == nil {
		return nil, types.Errorf(types.ErrConfigIsNil, "store")
	}

	var impl types.StoreManager
	var err error

	switch storeConfig.Type {
	case "memory":
		impl, err = NewMemoryStore(ctx, logger, storeConfig.Memory)
	case "redis":
		impl, err = NewRedisStore(ctx, logger, storeConfig.Redis)
	case "memcache":
		impl, err = NewMemcacheStore(logger, storeConfig.Memcache)
	default:
		if creator, exists := customStoreCreators.Load(storeConfig.Type); exists {
			impl, err = creator.(types.StoreManagerCreator)(ctx, storeConfig)
		} else {
			return nil, types.Errorf(types.ErrStoreTypeUnknown, "type: %s", storeConfig.Type)
		}
	}

	if err != nil {
		return nil, err
	}

	logger.Info("Store initialized", zap.String("type", storeConfig.Type))

	if metrics == nil {
		return impl, nil
	}

	return newInstrumentedStore(impl, metrics), nil
}

func storeError(op, key string, err error) error {
	return fmt.Errorf("%w: %s %q: %w", types.ErrStoreUnavailable, op, key, err)
}

type instrumentedStore struct {
	impl    types.StoreManager
	metrics types.MetricsManager
}

func newInstrumentedStore(impl types.StoreManager, metrics types.MetricsManager) types.StoreManager {
	return &instrumentedStore{
		impl:    impl,
		metrics: metrics,
	}
}

func (s *instrumentedStore) Type() string { return s.impl.Type() }

func (s *instrumentedStore) Get(ctx context.Context, key string) (types.Payload, bool, error) {
	start := time.Now()
	value, exists, err := s.impl.Get(ctx, key)
	s.recordMetric("get", lookupResult(exists, err), time.Since(start))

	return value, exists, err
}

func (s *instrumentedStore) GetWithTTL(ctx context.Context, key string) (types.Payload, time.Duration, bool, error) {
	start := time.Now()
	value, remaining, exists, err := s.impl.GetWithTTL(ctx, key)
	s.recordMetric("get_with_ttl", lookupResult(exists, err), time.Since(start))

	return value, remaining, exists, err
}

func (s *instrumentedStore) Set(ctx context.Context, key string, value types.Payload, ttl time.Duration) error {
	start := time.Now()
	err := s.impl.Set(ctx, key, value, ttl)

	result := "success"
	if err != nil {
		result = "error"
	}
	s.recordMetric("set", result, time.Since(start))

	return err
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	return s.impl.Ping(ctx)
}

func (s *instrumentedStore) Start() error {
	return s.impl.Start()
}

func (s *instrumentedStore) Stop() error {
	return s.impl.Stop()
}

func (s *instrumentedStore) IsRunning() bool {
	return s.impl.IsRunning()
}

func (s *instrumentedStore) recordMetric(operation, result string, duration time.Duration) {
	s.metrics.Counter("store_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	s.metrics.Histogram("store_operation_duration_seconds",
		[]float64{0.0001, 0.001, 0.01, 0.1, 1.0},
		map[string]string{"operation": operation},
	).Observe(duration.Seconds())
}

func lookupResult(exists bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case exists:
		return "hit"
	default:
		return "miss"
	}
}
