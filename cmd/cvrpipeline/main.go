// Command cvrpipeline prepares bidding data, trains and tunes a linear
// conversion-rate model on SageMaker, inspects its weights, deploys it and
// evaluates it on held-out rows. Each stage is a subcommand; run chains them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/config"
	"github.com/galinamarkova/beeswax-api/internal/observability"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg, os.Args[1:]); err != nil {
		logger.Error("pipeline error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(logger, cfg)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
