package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/quotaguard"
	"github.com/ineyio/quotaguard/store"
	qgpg "github.com/ineyio/quotaguard/store/postgres"
	qgredis "github.com/ineyio/quotaguard/store/redis"
	qgsqlite "github.com/ineyio/quotaguard/store/sqlite"
)

const defaultSQLitePath = "quotaguard.db"

// openStore connects the counter store selected by cfg. The returned close
// function releases the connection.
func openStore(ctx context.Context, cfg quotaguard.StoreConfig) (quotaguard.CounterStore, func() error, error) {
	switch cfg.Driver {
	case "", "memory":
		return store.NewMemoryStore(), func() error { return nil }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis %s: %w", cfg.Addr, err)
		}
		return qgredis.New(client), client.Close, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		s := qgpg.New(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, func() error { pool.Close(); return nil }, nil

	case "sqlite":
		path := cfg.DSN
		if path == "" {
			path = defaultSQLitePath
		}
		s, err := qgsqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("%w: unknown store driver %q", quotaguard.ErrInvalidConfig, cfg.Driver)
}
