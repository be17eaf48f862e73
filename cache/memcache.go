package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
	"github.com/saiset-co/sai-weather/utils"
)

const (
	maxMemcacheKeyLength = 250
	// memcache reads expirations above 30 days as absolute unix timestamps
	maxRelativeExpiration = 30 * 24 * 60 * 60
)

// memcacheEnvelope carries the expiry next to the value because memcache
// cannot report the remaining lifetime of an item.
type memcacheEnvelope struct {
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"e"`
}

type MemcacheStore struct {
	logger  types.Logger
	config  *types.MemcacheConfig
	client  *memcache.Client
	now     func() time.Time
	started int32
}

func NewMemcacheStore(logger types.Logger, config *types.MemcacheConfig) (*MemcacheStore, error) {
	mcConfig := &types.MemcacheConfig{
		Servers:      []string{"localhost:11211"},
		Timeout:      500 * time.Millisecond,
		MaxIdleConns: 4,
	}

	if config != nil {
		if len(config.Servers) > 0 {
			mcConfig.Servers = config.Servers
		}
		if config.Timeout > 0 {
			mcConfig.Timeout = config.Timeout
		}
		if config.MaxIdleConns > 0 {
			mcConfig.MaxIdleConns = config.MaxIdleConns
		}
	}

	client := memcache.New(mcConfig.Servers...)
	client.Timeout = mcConfig.Timeout
	client.MaxIdleConns = mcConfig.MaxIdleConns

	return &MemcacheStore{
		logger: logger,
		config: mcConfig,
		client: client,
		now:    time.Now,
	}, nil
}

func (m *MemcacheStore) Type() string { return "memcache" }

func (m *MemcacheStore) Get(ctx context.Context, key string) (types.Payload, bool, error) {
	envelope, exists, err := m.load(ctx, key)
	if err != nil || !exists {
		return nil, false, err
	}

	if envelope.ExpiresAt != 0 && m.remaining(envelope) <= 0 {
		return nil, false, nil
	}

	return envelope.Value, true, nil
}

func (m *MemcacheStore) GetWithTTL(ctx context.Context, key string) (types.Payload, time.Duration, bool, error) {
	envelope, exists, err := m.load(ctx, key)
	if err != nil || !exists || envelope.ExpiresAt == 0 {
		return nil, 0, false, err
	}

	remaining := m.remaining(envelope)
	if remaining <= 0 {
		return nil, 0, false, nil
	}

	return envelope.Value, remaining, true, nil
}

func (m *MemcacheStore) Set(ctx context.Context, key string, value types.Payload, ttl time.Duration) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}
	if err := ctx.Err(); err != nil {
		return storeError("set", key, err)
	}

	now := m.now()
	envelope := memcacheEnvelope{Value: value}
	if ttl > 0 {
		envelope.ExpiresAt = now.Add(ttl).UnixMilli()
	}

	data, err := utils.Marshal(envelope)
	if err != nil {
		return types.WrapError(err, "failed to encode memcache envelope")
	}

	err = m.client.Set(&memcache.Item{
		Key:        memcacheKey(key),
		Value:      data,
		Expiration: memcacheExpiration(now, ttl),
	})
	if err != nil {
		return storeError("set", key, err)
	}

	return nil
}

func (m *MemcacheStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.client.Ping(); err != nil {
		return storeError("ping", strings.Join(m.config.Servers, ","), err)
	}
	return nil
}

func (m *MemcacheStore) Start() error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	m.logger.Info("Memcache store started", zap.Strings("servers", m.config.Servers))
	return nil
}

func (m *MemcacheStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	m.logger.Info("Memcache store stopped")
	return nil
}

func (m *MemcacheStore) IsRunning() bool {
	return atomic.LoadInt32(&m.started) == 1
}

func (m *MemcacheStore) load(ctx context.Context, key string) (memcacheEnvelope, bool, error) {
	var envelope memcacheEnvelope

	if key == "" {
		return envelope, false, nil
	}
	if err := ctx.Err(); err != nil {
		return envelope, false, storeError("get", key, err)
	}

	item, err := m.client.Get(memcacheKey(key))
	if err != nil {
		if types.IsError(err, memcache.ErrCacheMiss) {
			return envelope, false, nil
		}
		return envelope, false, storeError("get", key, err)
	}

	if err := utils.Unmarshal(item.Value, &envelope); err != nil {
		m.logger.Warn("Dropping undecodable memcache entry", zap.String("key", key), zap.Error(err))
		return envelope, false, nil
	}

	return envelope, true, nil
}

func (m *MemcacheStore) remaining(envelope memcacheEnvelope) time.Duration {
	return time.UnixMilli(envelope.ExpiresAt).Sub(m.now())
}

func memcacheExpiration(now time.Time, ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}

	seconds := int64((ttl + time.Second - 1) / time.Second)
	if seconds > maxRelativeExpiration {
		return int32(now.Unix() + seconds)
	}

	return int32(seconds)
}

// memcacheKey hashes keys the text protocol would reject.
func memcacheKey(key string) string {
	if len(key) <= maxMemcacheKeyLength && legalMemcacheKey(key) {
		return key
	}

	sum := sha256.Sum256([]byte(key))
	return "h:" + hex.EncodeToString(sum[:])
}

func legalMemcacheKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}
