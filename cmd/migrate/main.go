// Command migrate applies the Keygate schema migrations. It is the same
// embedded migration set the server applies on boot, exposed standalone for
// deployments that run schema changes before rolling the service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/keygate-io/keygate/internal/db"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dbURL  = flag.String("db", "", "database URL (falls back to DATABASE_URL)")
		status = flag.Bool("status", false, "print the schema version and pending migrations, apply nothing")
		list   = flag.Bool("list", false, "print the embedded migration set and exit")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	if *list {
		if err := printMigrations(); err != nil {
			logger.Error().Err(err).Msg("cannot read embedded migrations")
			return 1
		}
		return 0
	}

	url := *dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		logger.Error().Msg("no database URL: pass -db or set DATABASE_URL")
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Migrations run single threaded; a small pool is plenty.
	cfg := db.DefaultConfig(url)
	cfg.MaxConns = 2
	cfg.MinConns = 1

	database, err := db.New(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("cannot connect to database")
		return 1
	}
	defer database.Close()

	if *status {
		if err := printStatus(ctx, database); err != nil {
			logger.Error().Err(err).Msg("cannot read schema status")
			return 1
		}
		return 0
	}

	if err := database.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		return 1
	}

	version, err := database.CurrentVersion(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("migrated, but could not read the resulting version")
		return 0
	}
	logger.Info().Int("version", version).Msg("schema up to date")
	return 0
}

// printStatus reports the applied schema version and how many embedded
// migrations it still trails.
func printStatus(ctx context.Context, database *db.DB) error {
	version, err := database.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := db.GetMigrations()
	if err != nil {
		return err
	}

	pending := 0
	for _, m := range migrations {
		if m.Version > version {
			pending++
		}
	}

	fmt.Printf("schema version: %d\n", version)
	if pending == 0 {
		fmt.Println("up to date")
	} else {
		fmt.Printf("pending migrations: %d\n", pending)
	}
	return nil
}

func printMigrations() error {
	migrations, err := db.GetMigrations()
	if err != nil {
		return err
	}
	for _, m := range migrations {
		fmt.Printf("%03d  %s\n", m.Version, m.Name)
	}
	return nil
}
