package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/pagelock/pkg/config"
	"github.com/pixperk/pagelock/pkg/storage"
	"github.com/redis/go-redis/v9"
)

// builds the lease store the config selects
func openStore(ctx context.Context, cfg *config.Config, logger hclog.Logger) (storage.LeaseStore, error) {
	switch cfg.Storage.Backend {
	case storage.BackendMemory:
		logger.Warn("memory storage only serializes within this process, leases are lost on restart")
		return storage.NewMemoryStore(), nil

	case storage.BackendBolt:
		store, err := storage.NewBoltStore(cfg.Storage.Bolt.Path)
		if err != nil {
			return nil, err
		}
		logger.Info("opened bolt lease store", "path", store.Path())
		return store, nil

	case storage.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ping redis %s: %w", cfg.Storage.Redis.Addr, err)
		}
		logger.Info("connected to redis lease store", "addr", cfg.Storage.Redis.Addr, "prefix", cfg.Storage.Redis.Prefix)
		return storage.NewRedisStore(client, cfg.Storage.Redis.Prefix), nil

	case storage.BackendSQL:
		store, err := storage.NewSQLStore(ctx, cfg.Storage.SQL, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("connected to sql lease store", "table", cfg.Storage.SQL.Table)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
