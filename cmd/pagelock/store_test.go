package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/pagelock/pkg/config"
	"github.com/pixperk/pagelock/pkg/storage"
	"github.com/pixperk/pagelock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStoreBackends(t *testing.T) {
	ctx := context.Background()
	logger := hclog.NewNullLogger()
	mr := miniredis.RunT(t)

	cfg := config.Default()
	cfg.SetDataDir(t.TempDir())

	for _, backend := range []string{storage.BackendMemory, storage.BackendBolt, storage.BackendRedis} {
		t.Run(backend, func(t *testing.T) {
			cfg.Storage.Backend = backend
			cfg.Storage.Redis.Addr = mr.Addr()

			store, err := openStore(ctx, cfg, logger)
			require.NoError(t, err)
			defer store.Close()

			now := time.Date(2024, 6, 3, 9, 15, 0, 0, time.UTC)
			require.NoError(t, store.Insert(ctx, types.Lease{
				Name:      "pageX",
				SessionID: "sessA",
				CreatedAt: now,
				ExpiresAt: now.Add(types.TTL),
			}))
			n, err := store.CountActive(ctx, "pageX", "sessA", now)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestOpenStoreRedisUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = storage.BackendRedis
	cfg.Storage.Redis.Addr = "127.0.0.1:1"

	_, err := openStore(context.Background(), cfg, hclog.NewNullLogger())
	assert.Error(t, err)
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "etcd"

	_, err := openStore(context.Background(), cfg, hclog.NewNullLogger())
	assert.ErrorContains(t, err, "unknown storage backend")
}
