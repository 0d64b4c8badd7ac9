package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"conductor/cmd/conductor/cmd"
	"conductor/core/logger"

	"go.uber.org/zap"
)

func main() {
	ctx := logger.WithComponentName(context.Background(), "main")

	defer func() {
		// Sync fails on some terminals; nothing useful can be done at exit.
		_ = logger.Logger.Sync()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info(ctx, "Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	}()

	cmd.Execute(ctx)
}
