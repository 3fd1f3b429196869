package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"userachievements/internal/app"
	"userachievements/internal/config"
	"userachievements/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Dev: cfg.LogDev, Out: os.Stderr})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, app.Usage)
		return 2
	}
	if os.Args[1] == "help" {
		fmt.Fprint(os.Stdout, app.Usage)
		return 0
	}

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return 1
	}
	defer a.Close()

	err = a.Run(ctx, os.Args[1:], os.Stdout)
	if werr := a.WriteMetrics(); werr != nil {
		log.Warn("writing metrics textfile", zap.Error(werr))
	}
	switch {
	case errors.Is(err, app.ErrUsage):
		return 2
	case err != nil:
		log.Error("command failed", zap.String("command", os.Args[1]), zap.Error(err))
		return 1
	}
	return 0
}
