package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/pagelock/pkg/guard"
	"github.com/pixperk/pagelock/pkg/storage"
	"github.com/pixperk/pagelock/pkg/types"
	"gopkg.in/yaml.v3"
)

const (
	DefaultGRPCAddr = ":9000"
	DefaultHTTPAddr = ":8080"
	DefaultDataDir  = "./data"
)

type BoltConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type StorageConfig struct {
	Backend string            `yaml:"backend"`
	Bolt    BoltConfig        `yaml:"bolt"`
	Redis   RedisConfig       `yaml:"redis"`
	SQL     storage.SQLConfig `yaml:"sql"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

type Config struct {
	NodeID   string        `yaml:"node_id"`
	GRPCAddr string        `yaml:"grpc_addr"`
	HTTPAddr string        `yaml:"http_addr"`
	DataDir  string        `yaml:"data_dir"`
	LockFile string        `yaml:"lock_file"`
	TTL      time.Duration `yaml:"ttl"`
	LogLevel string        `yaml:"log_level"`
	LogJSON  bool          `yaml:"log_json"`
	Storage  StorageConfig `yaml:"storage"`
	Tracing  TracingConfig `yaml:"tracing"`
}

func Default() *Config {
	return &Config{
		GRPCAddr: DefaultGRPCAddr,
		HTTPAddr: DefaultHTTPAddr,
		DataDir:  DefaultDataDir,
		TTL:      types.TTL,
		LogLevel: "info",
		Storage: StorageConfig{
			Backend: storage.BackendMemory,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: storage.DefaultRedisPrefix,
			},
			SQL: storage.SQLConfig{
				Table:                 storage.DefaultSQLTable,
				MaxOpenConnections:    10,
				MaxIdleConnections:    5,
				ConnectionMaxLifetime: 60 * time.Second,
			},
		},
	}
}

// decodes YAML over the defaults
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDerived()
	return cfg, nil
}

func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// fills paths that default relative to the data dir
func (c *Config) applyDerived() {
	if c.LockFile == "" {
		c.LockFile = filepath.Join(c.DataDir, guard.FileName)
	}
	if c.Storage.Bolt.Path == "" {
		c.Storage.Bolt.Path = c.DataDir
	}
}

// re-derives paths after flag overrides touched the data dir
func (c *Config) SetDataDir(dir string) {
	if c.LockFile == filepath.Join(c.DataDir, guard.FileName) {
		c.LockFile = ""
	}
	if c.Storage.Bolt.Path == c.DataDir {
		c.Storage.Bolt.Path = ""
	}
	c.DataDir = dir
	c.applyDerived()
}

func (c *Config) Validate() error {
	if c.GRPCAddr == "" && c.HTTPAddr == "" {
		return fmt.Errorf("%w: at least one of grpc_addr and http_addr is required", types.ErrInvalidArgument)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", types.ErrInvalidArgument, c.TTL)
	}
	if c.LockFile == "" {
		return fmt.Errorf("%w: lock_file is required", types.ErrInvalidArgument)
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("%w: unknown log_level %q", types.ErrInvalidArgument, c.LogLevel)
	}

	switch c.Storage.Backend {
	case storage.BackendMemory:
	case storage.BackendBolt:
		if c.Storage.Bolt.Path == "" {
			return fmt.Errorf("%w: storage.bolt.path is required", types.ErrInvalidArgument)
		}
	case storage.BackendRedis:
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("%w: storage.redis.addr is required", types.ErrInvalidArgument)
		}
	case storage.BackendSQL:
		if c.Storage.SQL.URL == "" {
			return fmt.Errorf("%w: storage.sql.url is required", types.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", types.ErrInvalidArgument, c.Storage.Backend)
	}
	return nil
}
