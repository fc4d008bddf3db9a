package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/config"
)

// Open connects to the configured backend and pings it. When that fails and
// the fallback is "memory", the failure is logged and an in-memory store is
// returned instead. A configured Redis URL replaces the token registry.
func Open(ctx context.Context, cfg config.StorageConfig, log *zap.Logger) (Store, error) {
	s, err := openBackend(ctx, cfg)
	if err != nil {
		if cfg.Fallback != config.BackendMemory {
			return nil, err
		}
		log.Warn("storage backend unavailable, serving from memory",
			zap.String("backend", cfg.Backend), zap.Error(err))
		s = NewMemoryStore()
	}

	if cfg.RedisURL == "" {
		return s, nil
	}
	tokens, err := NewRedisTokenStore(ctx, cfg.RedisURL)
	if err != nil {
		log.Warn("redis token registry unavailable, keeping backend registry", zap.Error(err))
		return s, nil
	}
	log.Info("token registry served from redis")
	return WithTokenStore(s, tokens, tokens.Close), nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile:
		s, err = NewFileStore(cfg.DataDir)
	case config.BackendSQLite:
		s, err = NewSQLiteStore(ctx, cfg.DatabaseURL)
	case config.BackendMongo:
		s, err = NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.BackendFirestore:
		s, err = NewFirestoreStore(ctx, cfg.FirestoreProject)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Backend, err)
	}
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%s store not ready: %w", cfg.Backend, err)
	}
	return s, nil
}
