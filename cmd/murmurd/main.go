// murmurd is the processing daemon: it owns the job store, the worker pool,
// and the HTTP API that murmur (the CLI) talks to.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"murmur/internal/config"
	"murmur/internal/daemon"
	"murmur/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "murmurd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to the configuration file")
	flag.Parse()

	// Credentials may live in a .env next to the working directory.
	_ = godotenv.Load()

	cfg, resolvedPath, exists, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	if exists {
		logger.Info("loaded configuration", logging.String("path", resolvedPath))
	} else {
		logger.Info("no configuration file found, using defaults", logging.String("path", resolvedPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := daemon.New(cfg, logger)
	if err := d.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Scheduler.StopTimeout)*time.Second+5*time.Second)
	defer cancel()
	return d.Stop(stopCtx)
}
