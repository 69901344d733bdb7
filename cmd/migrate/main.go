// Command migrate applies the order-journal schema to a PostgreSQL database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tradewire/alpacabridge/internal/journal"
)

const defaultTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		dsn     = flag.String("database", "", "PostgreSQL DSN (defaults to BRIDGE_JOURNAL_DSN)")
		timeout = flag.Duration("timeout", defaultTimeout, "Maximum time to wait for the migration to apply")
		envFile = flag.String("env-file", ".env", "Optional dotenv file with the journal DSN")
	)
	flag.Parse()

	_ = godotenv.Load(*envFile)

	target := strings.TrimSpace(*dsn)
	if target == "" {
		target = strings.TrimSpace(os.Getenv("BRIDGE_JOURNAL_DSN"))
	}
	if target == "" {
		return errors.New("-database flag or BRIDGE_JOURNAL_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	return journal.Migrate(ctx, target)
}
