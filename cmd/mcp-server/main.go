// Command mcp-server exposes the experiment registry to MCP clients over stdio.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/galinamarkova/beeswax-api/internal/config"
	"github.com/galinamarkova/beeswax-api/internal/observability"
	"github.com/galinamarkova/beeswax-api/internal/registry"
)

func main() {
	cfg := config.Load()

	// stdout carries the protocol, so logs go to stderr
	logger, err := observability.InitLoggerWithOutput(zapcore.InfoLevel, cfg.ServiceName+"-mcp", "stderr")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(logger, cfg); err != nil {
		logger.Error("mcp server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN environment variable is required")
	}
	pg, err := registry.InitPostgres(ctx, cfg.PostgresDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	srv := &ExperimentServer{registry: pg, logger: logger}
	if cfg.RedisAddr != "" {
		cache, err := registry.InitRedis(ctx, cfg.RedisAddr, cfg.StatusCacheTTL)
		if err != nil {
			// the registry alone can still answer every tool
			logger.Warn("Redis unavailable, job status falls back to Postgres", zap.Error(err))
		} else {
			defer cache.Close()
			srv.cache = cache
		}
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "beeswax-cvr",
		Version: "1.0.0",
	}, nil)
	addTools(server, srv)

	var logBuffer bytes.Buffer
	transport := &mcp.LoggingTransport{
		Transport: &mcp.StdioTransport{},
		Writer:    &logBuffer,
	}

	logger.Info("MCP server running via stdio")
	if err := server.Run(ctx, transport); err != nil {
		logger.Debug("mcp traffic", zap.String("mcp_logs", logBuffer.String()))
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
