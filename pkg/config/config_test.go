package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pixperk/pagelock/pkg/guard"
	"github.com/pixperk/pagelock/pkg/storage"
	"github.com/pixperk/pagelock/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmptyGivesDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	require.NoError(t, err)

	assert.Equal(t, DefaultGRPCAddr, cfg.GRPCAddr)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, types.TTL, cfg.TTL)
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, filepath.Join(DefaultDataDir, guard.FileName), cfg.LockFile)
	assert.Equal(t, DefaultDataDir, cfg.Storage.Bolt.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(strings.NewReader(`
node_id: 6f1c1d1e-8c3a-4a43-b0a4-0f6b3f9d7c11
grpc_addr: ":19000"
data_dir: /var/lib/pagelock
ttl: 45s
log_level: debug
log_json: true
storage:
  backend: redis
  redis:
    addr: redis:6379
    db: 2
    prefix: locks
tracing:
  enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, ":19000", cfg.GRPCAddr)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, 45*time.Second, cfg.TTL)
	assert.Equal(t, "/var/lib/pagelock/"+guard.FileName, cfg.LockFile)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	assert.Equal(t, "locks", cfg.Storage.Redis.Prefix)
	assert.True(t, cfg.LogJSON)
	assert.True(t, cfg.Tracing.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(strings.NewReader("no_such_key: 1\n"))
	assert.Error(t, err)
}

func TestSetDataDirMovesDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.applyDerived()

	cfg.SetDataDir("/srv/locks")
	assert.Equal(t, "/srv/locks/"+guard.FileName, cfg.LockFile)
	assert.Equal(t, "/srv/locks", cfg.Storage.Bolt.Path)

	//explicit paths are kept
	cfg.LockFile = "/run/pagelock.lock"
	cfg.SetDataDir("/elsewhere")
	assert.Equal(t, "/run/pagelock.lock", cfg.LockFile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no listeners", func(c *Config) { c.GRPCAddr, c.HTTPAddr = "", "" }},
		{"zero ttl", func(c *Config) { c.TTL = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "etcd" }},
		{"sql without url", func(c *Config) { c.Storage.Backend = storage.BackendSQL }},
		{"redis without addr", func(c *Config) {
			c.Storage.Backend = storage.BackendRedis
			c.Storage.Redis.Addr = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.applyDerived()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), types.ErrInvalidArgument)
		})
	}
}
