package main

import (
	"database/sql"
	"flag"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"ms-tokenomy/internal/config"
	"ms-tokenomy/internal/database/migrations"
	"ms-tokenomy/internal/logger"
)

func main() {
	down := flag.Bool("down", false, "roll back all migrations")
	version := flag.Uint("to", 0, "migrate to a specific schema version")
	dir := flag.String("dir", "./migrations", "directory containing migration files")
	flag.Parse()

	log := logger.NewLogger()
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Database.DSN))
	sqldb := sql.OpenDB(connector)
	defer sqldb.Close()

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}
	bunDB := bun.NewDB(sqldb, pgdialect.New())

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: *dir,
		AutoMigrate:   true,
	})
	defer runner.Close()

	switch {
	case *down:
		if err := runner.MigrateDown(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration down failed: %v", err))
		}
		log.Info("DATABASE", "✅ All migrations rolled back")
	case *version > 0:
		if err := runner.MigrateTo(*version); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration to version %d failed: %v", *version, err))
		}
		log.Info("DATABASE", fmt.Sprintf("✅ Migrated to version %d", *version))
	default:
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migration failed: %v", err))
		}
		log.Info("DATABASE", "✅ Schema is up to date")
	}
}
