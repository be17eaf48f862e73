package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-weather/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const DefaultCleanupInterval = time.Minute

type memoryEntry struct {
	value     types.Payload
	expiresAt time.Time
}

type MemoryStore struct {
	parent          context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.MemoryConfig
	data            map[string]memoryEntry
	mu              sync.RWMutex
	now             func() time.Time
	state           atomic.Value
	cleanupDone     chan struct{}
	shutdownTimeout time.Duration
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.MemoryConfig) (*MemoryStore, error) {
	memConfig := &types.MemoryConfig{
		CleanupInterval: DefaultCleanupInterval,
	}
	if config != nil && config.CleanupInterval > 0 {
		memConfig.CleanupInterval = config.CleanupInterval
	}

	store := &MemoryStore{
		parent:          ctx,
		logger:          logger,
		config:          memConfig,
		data:            make(map[string]memoryEntry),
		now:             time.Now,
		shutdownTimeout: 5 * time.Second,
	}

	store.state.Store(StateStopped)

	return store, nil
}

func (m *MemoryStore) Type() string { return "memory" }

func (m *MemoryStore) Get(ctx context.Context, key string) (types.Payload, bool, error) {
	value, _, exists, err := m.lookup(ctx, key)
	return value, exists, err
}

func (m *MemoryStore) GetWithTTL(ctx context.Context, key string) (types.Payload, time.Duration, bool, error) {
	value, expiresAt, exists, err := m.lookup(ctx, key)
	if err != nil || !exists || expiresAt.IsZero() {
		return nil, 0, false, err
	}

	remaining := expiresAt.Sub(m.now())
	if remaining <= 0 {
		return nil, 0, false, nil
	}

	return value, remaining, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value types.Payload, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return storeError("set", key, err)
	}
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	entry := memoryEntry{value: clonePayload(value)}
	if ttl > 0 {
		entry.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()

	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}

func (m *MemoryStore) lookup(ctx context.Context, key string) (types.Payload, time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, time.Time{}, false, storeError("get", key, err)
	}
	if key == "" {
		return nil, time.Time{}, false, nil
	}

	now := m.now()

	m.mu.RLock()
	entry, exists := m.data[key]
	m.mu.RUnlock()

	if !exists {
		return nil, time.Time{}, false, nil
	}

	if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
		m.mu.Lock()
		if current, ok := m.data[key]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()

		return nil, time.Time{}, false, nil
	}

	return clonePayload(entry.value), entry.expiresAt, true, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	ctx, cancel := context.WithCancel(m.parent)
	m.cancel = cancel
	m.cleanupDone = make(chan struct{})

	go m.cleanupRoutine(ctx, m.cleanupDone)

	m.setState(StateRunning)
	m.logger.Info("Memory store started", zap.Duration("cleanup_interval", m.config.CleanupInterval))

	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer m.setState(StateStopped)

	m.cancel()

	select {
	case <-m.cleanupDone:
		m.logger.Debug("Cleanup routine stopped")
	case <-time.After(m.shutdownTimeout):
		m.logger.Warn("Cleanup routine stop timeout")
	}

	m.mu.Lock()
	entries := len(m.data)
	m.data = make(map[string]memoryEntry)
	m.mu.Unlock()

	m.logger.Info("Memory store stopped", zap.Int("dropped_entries", entries))

	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == StateRunning
}

func (m *MemoryStore) cleanupRoutine(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := m.removeExpired(); removed > 0 {
				m.logger.Debug("Expired entries removed", zap.Int("count", removed))
			}
		}
	}
}

func (m *MemoryStore) removeExpired() int {
	now := m.now()
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, entry := range m.data {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(m.data, key)
			removed++
		}
	}

	return removed
}

func (m *MemoryStore) getState() State {
	return m.state.Load().(State)
}

func (m *MemoryStore) setState(newState State) {
	m.state.Store(newState)
}

func (m *MemoryStore) transitionState(from, to State) bool {
	return m.state.CompareAndSwap(from, to)
}

func clonePayload(p types.Payload) types.Payload {
	if p == nil {
		return nil
	}
	out := make(types.Payload, len(p))
	copy(out, p)
	return out
}
