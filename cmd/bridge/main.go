// Command bridge runs the Alpaca brokerage bridge as a standalone process.
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

	"github.com/tradewire/alpacabridge/config"
	"github.com/tradewire/alpacabridge/internal/adapter"
	"github.com/tradewire/alpacabridge/internal/journal"
	"github.com/tradewire/alpacabridge/internal/observability"
	"github.com/tradewire/alpacabridge/internal/telemetry"
)

const (
	defaultConfigPath = "config/bridge.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", defaultConfigPath, "Path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with credentials")
	flag.Parse()

	// Missing dotenv files are fine; the environment may carry everything.
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()
	cfg, loadedFromFile, err := config.LoadFile(*configPath, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", *configPath, err)
	}

	logger, err := observability.NewZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	observability.SetLogger(logger)
	if !loadedFromFile {
		observability.Log().Info("configuration file not found, using environment defaults",
			observability.Field{Key: "path", Value: *configPath})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "alpacabridge")
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			observability.Log().Warn("telemetry shutdown failed",
				observability.Field{Key: "error", Value: err.Error()})
		}
	}()

	opts := []adapter.Option{}
	if cfg.JournalDSN != "" {
		if err := journal.Migrate(ctx, cfg.JournalDSN); err != nil {
			return fmt.Errorf("migrate journal schema: %w", err)
		}
		store, err := journal.Open(ctx, cfg.JournalDSN)
		if err != nil {
			return fmt.Errorf("open order journal: %w", err)
		}
		defer store.Close()
		opts = append(opts, adapter.WithJournal(store))
	}

	bridge, err := adapter.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("build adapter: %w", err)
	}
	if err := bridge.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer bridge.Disconnect()

	observability.Log().Info("bridge running",
		observability.Field{Key: "environment", Value: string(cfg.Environment)})
	<-ctx.Done()
	observability.Log().Info("shutdown signal received")
	return nil
}
