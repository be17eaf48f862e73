package types

import (
	"context"
	"time"
)

// Payload is the raw upstream response body. The cache never looks inside it.
type Payload []byte

// ExpiringStore is a key/value store whose entries carry a remaining lifetime.
// A missing key is reported through the bool result, never as an error.
type ExpiringStore interface {
	Get(ctx context.Context, key string) (Payload, bool, error)
	GetWithTTL(ctx context.Context, key string) (Payload, time.Duration, bool, error)
	Set(ctx context.Context, key string, value Payload, ttl time.Duration) error
}

type StoreManager interface {
	LifecycleManager
	ExpiringStore
	Ping(ctx context.Context) error
	Type() string
}

type StoreManagerCreator func(ctx context.Context, config *StoreConfig) (StoreManager, error)
