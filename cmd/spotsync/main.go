package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clientcmd "github.com/rzbill/spotsync/internal/cmd/client"
	logpkg "github.com/rzbill/spotsync/pkg/log"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := clientcmd.NewRoot().ExecuteContext(ctx); err != nil {
		logger := logpkg.NewLogger(
			logpkg.WithFormatter(&logpkg.TextFormatter{}),
			logpkg.WithOutput(logpkg.NewConsoleOutput()),
		)
		logger.Error("spotsync failed", logpkg.Err(err))
		cancel()
		os.Exit(1)
	}
}
