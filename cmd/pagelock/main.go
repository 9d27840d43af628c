package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	pb "github.com/pixperk/pagelock/api/v1"
	"github.com/pixperk/pagelock/pkg/config"
	"github.com/pixperk/pagelock/pkg/gateway"
	"github.com/pixperk/pagelock/pkg/guard"
	"github.com/pixperk/pagelock/pkg/manager"
	"github.com/pixperk/pagelock/pkg/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to a YAML config file")
		nodeID     = flag.String("node-id", "", "Unique node ID (generates UUID if empty)")
		grpcAddr   = flag.String("grpc-addr", config.DefaultGRPCAddr, "gRPC server address")
		httpAddr   = flag.String("http-addr", config.DefaultHTTPAddr, "HTTP gateway address")
		dataDir    = flag.String("data-dir", config.DefaultDataDir, "Data directory for the lock file and bolt storage")
		lockFile   = flag.String("lock-file", "", "Critical section lock file (defaults to <data-dir>/"+guard.FileName+")")
		backend    = flag.String("storage", "", "Lease storage backend: memory, bolt, redis or sql")
		logLevel   = flag.String("log-level", "", "Log level: trace, debug, info, warn or error")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	} else {
		cfg.SetDataDir(cfg.DataDir)
	}

	//flags given explicitly win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "node-id":
			cfg.NodeID = *nodeID
		case "grpc-addr":
			cfg.GRPCAddr = *grpcAddr
		case "http-addr":
			cfg.HTTPAddr = *httpAddr
		case "data-dir":
			cfg.SetDataDir(*dataDir)
		case "lock-file":
			cfg.LockFile = *lockFile
		case "storage":
			cfg.Storage.Backend = *backend
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "pagelock",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("pagelock stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger hclog.Logger) error {
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()
		logger.Info("generated node id", "node_id", cfg.NodeID)
	} else if _, err := uuid.Parse(cfg.NodeID); err != nil {
		return fmt.Errorf("invalid node id: %w", err)
	}

	logger.Info("starting pagelock node",
		"node_id", cfg.NodeID,
		"grpc", cfg.GRPCAddr,
		"http", cfg.HTTPAddr,
		"lock_file", cfg.LockFile,
		"storage", cfg.Storage.Backend,
		"ttl", cfg.TTL,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := setupTracing()
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("failed to flush traces", "error", err)
			}
		}()
	}

	store, err := openStore(ctx, cfg, logger.Named("storage"))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.LockFile), 0755); err != nil {
		return fmt.Errorf("create lock file dir: %w", err)
	}
	g := guard.New(cfg.LockFile, guard.WithLogger(logger.Named("guard")))

	mgr := manager.New(store, g,
		manager.WithTTL(cfg.TTL),
		manager.WithLogger(logger.Named("manager")),
	)

	group, gctx := errgroup.WithContext(ctx)

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		listener, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}

		grpcServer = grpc.NewServer()
		pb.RegisterPageLockServiceServer(grpcServer, server.NewServer(mgr, cfg.NodeID, logger.Named("grpc")))

		group.Go(func() error {
			logger.Info("grpc server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server failed: %w", err)
			}
			return nil
		})
	}

	var gwServer *gateway.Server
	if cfg.HTTPAddr != "" {
		gwServer = gateway.NewServer(cfg.HTTPAddr, mgr, logger.Named("http"))
		group.Go(func() error {
			return gwServer.Start(gctx)
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		if gwServer != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := gwServer.Stop(sctx); err != nil {
				return fmt.Errorf("http gateway shutdown: %w", err)
			}
		}
		return nil
	})

	logger.Info("pagelock is ready")
	if err := group.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// exports spans to stdout, returns the provider's shutdown
func setupTracing() (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
