package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shopsync/backend/internal/domain/integration"
	"github.com/shopsync/backend/internal/infrastructure/config"
)

// Lease backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// LeaseStoreFactory creates lease stores based on configuration
type LeaseStoreFactory struct {
	redisConfig           config.RedisConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// LeaseStoreFactoryOption is a functional option for configuring the factory
type LeaseStoreFactoryOption func(*LeaseStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) LeaseStoreFactoryOption {
	return func(f *LeaseStoreFactory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether to fall back to the in-memory store
// when Redis is unavailable. Default is false.
func WithInMemoryFallback(allow bool) LeaseStoreFactoryOption {
	return func(f *LeaseStoreFactory) {
		f.allowInMemoryFallback = allow
	}
}

// NewLeaseStoreFactory creates a new factory
func NewLeaseStoreFactory(cfg config.RedisConfig, opts ...LeaseStoreFactoryOption) *LeaseStoreFactory {
	f := &LeaseStoreFactory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore creates the store for backend. An in-memory store does not
// share leases across processes, so two instances could sync one tenant at once.
func (f *LeaseStoreFactory) CreateStore(ctx context.Context, backend string) (integration.LeaseStore, error) {
	switch backend {
	case "", BackendMemory:
		f.logger.Info("Using in-memory lease store")
		return NewInMemoryLeaseStore(), nil
	case BackendRedis:
		store, err := NewRedisLeaseStore(ctx, f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
		if err == nil {
			f.logger.Info("Using Redis lease store", zap.String("addr", f.redisConfig.Addr()))
			return store, nil
		}
		if !f.allowInMemoryFallback {
			return nil, fmt.Errorf("failed to create Redis lease store: %w", err)
		}
		f.logger.Warn("Redis unavailable, falling back to in-memory lease store", zap.Error(err))
		return NewInMemoryLeaseStore(), nil
	default:
		return nil, fmt.Errorf("unknown lease backend %q", backend)
	}
}
