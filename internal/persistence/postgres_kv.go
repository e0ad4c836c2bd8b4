package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/deskworks/ticket-desk/internal/config"
)

// PostgresKV implements KV on the kv_store table.
type PostgresKV struct {
	pool *pgxpool.Pool
}

// NewPostgresKV opens a pool for cfg.DSN and checks it with a ping.
// Call Migrate before first use on a fresh database.
func NewPostgresKV(ctx context.Context, cfg config.PostgresConfig, logger *zap.Logger) (*PostgresKV, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.ConnMaxIdleSec > 0 {
		poolCfg.MaxConnIdleTime = time.Duration(cfg.ConnMaxIdleSec) * time.Second
	}
	if cfg.ConnMaxLifeSec > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.ConnMaxLifeSec) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("connected to postgres", zap.Int32("max_conns", poolCfg.MaxConns))
	return &PostgresKV{pool: pool}, nil
}

// Migrate applies the bundled schema migrations.
func (k *PostgresKV) Migrate(ctx context.Context, logger *zap.Logger) error {
	return runMigrations(ctx, k.pool, logger)
}

func (k *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT value FROM kv_store WHERE key=$1`
	var val []byte
	if err := k.pool.QueryRow(ctx, query, key).Scan(&val); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	if val == nil {
		val = []byte{}
	}
	return val, nil
}

func (k *PostgresKV) CompareAndSwap(ctx context.Context, key string, prev, next []byte) (bool, error) {
	if prev == nil {
		const insert = `
        INSERT INTO kv_store (key, value, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (key) DO NOTHING`
		cmd, err := k.pool.Exec(ctx, insert, key, next)
		if err != nil {
			return false, err
		}
		return cmd.RowsAffected() == 1, nil
	}

	const update = `
        UPDATE kv_store SET value=$3, updated_at=NOW()
        WHERE key=$1 AND value=$2`
	cmd, err := k.pool.Exec(ctx, update, key, prev, next)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (k *PostgresKV) Ping(ctx context.Context) error {
	return k.pool.Ping(ctx)
}

func (k *PostgresKV) Close() error {
	k.pool.Close()
	return nil
}

// deleteKeys is used by tests to reset rows between runs.
func (k *PostgresKV) deleteKeys(ctx context.Context, keys ...string) error {
	_, err := k.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = ANY($1)`, keys)
	return err
}
