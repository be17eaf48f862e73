package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
)

type RedisStore struct {
	ctx     context.Context
	logger  types.Logger
	config  *types.RedisConfig
	client  *redis.Client
	started int32
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.RedisConfig) (*RedisStore, error) {
	redisConfig := &types.RedisConfig{
		Host:               "localhost",
		Port:               6379,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
	}

	if config != nil {
		mergeRedisConfig(redisConfig, config)
	}

	store := &RedisStore{
		ctx:    ctx,
		logger: logger,
		config: redisConfig,
	}

	store.initRedisClient()

	if err := store.ping(); err != nil {
		_ = store.client.Close()
		return nil, storeError("ping", store.addr(), err)
	}

	return store, nil
}

func mergeRedisConfig(dst, src *types.RedisConfig) {
	if src.Host != "" {
		dst.Host = src.Host
	}
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.PoolSize != 0 {
		dst.PoolSize = src.PoolSize
	}
	if src.MinIdleConnections != 0 {
		dst.MinIdleConnections = src.MinIdleConnections
	}
	if src.DialTimeout != 0 {
		dst.DialTimeout = src.DialTimeout
	}
	if src.ReadTimeout != 0 {
		dst.ReadTimeout = src.ReadTimeout
	}
	if src.WriteTimeout != 0 {
		dst.WriteTimeout = src.WriteTimeout
	}
	dst.Password = src.Password
	dst.DB = src.DB
	dst.MaxRetries = src.MaxRetries
	dst.KeyPrefix = src.KeyPrefix
}

func (r *RedisStore) Type() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) (types.Payload, bool, error) {
	if key == "" {
		return nil, false, nil
	}

	value, err := r.client.Get(ctx, r.buildFullKey(key)).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, storeError("get", key, err)
	}

	return value, true, nil
}

// GetWithTTL reads the value and its remaining lifetime in one MULTI/EXEC so
// both describe the same version of the key. Keys without an expiry are
// reported as absent.
func (r *RedisStore) GetWithTTL(ctx context.Context, key string) (types.Payload, time.Duration, bool, error) {
	if key == "" {
		return nil, 0, false, nil
	}

	fullKey := r.buildFullKey(key)

	var getCmd *redis.StringCmd
	var ttlCmd *redis.DurationCmd

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		getCmd = pipe.Get(ctx, fullKey)
		ttlCmd = pipe.PTTL(ctx, fullKey)
		return nil
	})
	if err != nil && !types.IsError(err, redis.Nil) {
		return nil, 0, false, storeError("get", key, err)
	}

	value, err := getCmd.Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, 0, false, nil
		}
		return nil, 0, false, storeError("get", key, err)
	}

	remaining, err := ttlCmd.Result()
	if err != nil {
		return nil, 0, false, storeError("pttl", key, err)
	}

	if remaining <= 0 {
		r.logger.Debug("Redis key has no expiry, treating as absent", zap.String("key", key))
		return nil, 0, false, nil
	}

	return value, remaining, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value types.Payload, ttl time.Duration) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	if ttl < 0 {
		ttl = 0
	}

	if err := r.client.Set(ctx, r.buildFullKey(key), []byte(value), ttl).Err(); err != nil {
		return storeError("set", key, err)
	}

	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return storeError("ping", r.addr(), err)
	}
	return nil
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	r.logger.Info("Redis store started",
		zap.String("addr", r.addr()),
		zap.Int("db", r.config.DB),
		zap.String("key_prefix", r.config.KeyPrefix))

	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	if err := r.client.Close(); err != nil {
		r.logger.Error("Failed to close Redis client", zap.Error(err))
		return types.WrapError(err, "failed to close redis client")
	}

	r.logger.Info("Redis store stopped")

	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) initRedisClient() {
	r.client = redis.NewClient(&redis.Options{
		Addr:         r.addr(),
		Password:     r.config.Password,
		DB:           r.config.DB,
		PoolSize:     r.config.PoolSize,
		MinIdleConns: r.config.MinIdleConnections,
		MaxRetries:   redisMaxRetries(r.config.MaxRetries),
		DialTimeout:  r.config.DialTimeout,
		ReadTimeout:  r.config.ReadTimeout,
		WriteTimeout: r.config.WriteTimeout,
	})
}

// redisMaxRetries keeps an unset max_retries at zero retries; go-redis reads
// 0 as its default of 3 and -1 as none.
func redisMaxRetries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func (r *RedisStore) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) addr() string {
	return fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)
}

func (r *RedisStore) buildFullKey(key string) string {
	if r.config.KeyPrefix != "" {
		return fmt.Sprintf("%s:%s", r.config.KeyPrefix, key)
	}
	return key
}
