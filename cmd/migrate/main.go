package main

import (
	"MarketSim/internal/observability"
	"MarketSim/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <up|down>")
		fmt.Println("  up   - apply all pending migrations")
		fmt.Println("  down - roll back the last migration")
		fmt.Println()
		fmt.Println("Environment:")
		fmt.Println("  MARKETSIM_DB_DRIVER - postgres or sqlite3 (default: postgres)")
		fmt.Println("  MARKETSIM_DB_DSN    - connection string or SQLite path")
		fmt.Println("  MIGRATIONS_DIR      - read migrations from disk instead of the embedded set")
		os.Exit(1)
	}

	log := observability.NewLogger("migrate")

	driver := os.Getenv("MARKETSIM_DB_DRIVER")
	if driver == "" {
		driver = "postgres"
	}
	dialect, err := persistence.DialectFor(driver)
	if err != nil {
		log.Fatal().Err(err).Msg("unsupported driver")
	}

	dsn := os.Getenv("MARKETSIM_DB_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/marketsim?sslmode=disable"
		if dialect == persistence.SQLite {
			dsn = "marketsim.db"
		}
	}

	var migrations fs.FS = persistence.EmbeddedMigrations()
	if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
		migrations = os.DirFS(dir)
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx := context.Background()
	migrator := persistence.NewMigrator(db, dialect, migrations, log)

	switch os.Args[1] {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		rolled, err := migrator.Down(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		if !rolled {
			log.Info().Msg("nothing to roll back")
			return
		}
		log.Info().Msg("last migration rolled back")

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s (use 'up' or 'down')\n", os.Args[1])
		os.Exit(1)
	}
}
