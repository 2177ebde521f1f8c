package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/erp/ingestion/internal/domain/catalog"
	"github.com/erp/ingestion/internal/infrastructure/config"
)

const memorySweepInterval = 5 * time.Minute

// FactoryOption configures NewSeenHashCache
type FactoryOption func(*factory)

type factory struct {
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// WithLogger sets the logger used to report the chosen backend
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *factory) {
		f.logger = logger
	}
}

// WithInMemoryFallback controls whether an unreachable Redis falls back to an
// in-memory cache. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *factory) {
		f.allowInMemoryFallback = allow
	}
}

// NewSeenHashCache returns a Redis cache when cfg names a host and an
// in-memory one otherwise.
func NewSeenHashCache(ctx context.Context, cfg config.RedisConfig, opts ...FactoryOption) (catalog.SeenHashCache, error) {
	f := &factory{logger: zap.NewNop(), allowInMemoryFallback: true}
	for _, opt := range opts {
		opt(f)
	}

	if !cfg.Enabled() {
		f.logger.Info("Redis not configured, using in-memory seen-hash cache")
		return NewInMemorySeenHashCache(memorySweepInterval), nil
	}

	c, err := NewRedisSeenHashCache(ctx, cfg)
	if err == nil {
		f.logger.Info("Using Redis seen-hash cache", zap.String("addr", cfg.Addr()))
		return c, nil
	}
	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("seen-hash cache: %w", err)
	}

	// Safe because catalog registration still dedupes on the hash column
	f.logger.Warn("Redis unavailable, falling back to in-memory seen-hash cache", zap.Error(err))
	return NewInMemorySeenHashCache(memorySweepInterval), nil
}
