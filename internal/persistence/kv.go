package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/deskworks/ticket-desk/internal/config"
)

// ErrKeyNotFound is returned by KV.Get when the key holds no value.
var ErrKeyNotFound = errors.New("kv: key not found")

// KV is a byte oriented key/value store.
//
// CompareAndSwap writes next only if the current value equals prev. A nil
// prev means the key must not exist yet. A mismatch is reported as
// (false, nil); errors are reserved for backend failures.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// OpenKV builds the backend selected by cfg.Store.Backend.
func OpenKV(ctx context.Context, cfg config.Config, logger *zap.Logger) (KV, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory store; tickets are lost on restart")
		return NewMemoryKV(), nil
	case config.BackendFile:
		return NewFileKV(cfg.Store.FileDir)
	case config.BackendRedis:
		return NewRedisKV(ctx, cfg.Redis, logger), nil
	case config.BackendPostgres:
		pg, err := NewPostgresKV(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Postgres.RunMigrations {
			if err := pg.Migrate(ctx, logger); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
