// Command migrate applies or rolls back the checkout schema.
//
//	migrate up | down | version
package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"go.uber.org/multierr"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/logger"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate up|down|version")
		os.Exit(2)
	}
	_ = godotenv.Load()

	// only the database and log sections are needed here, not the full service config
	var dbCfg config.DatabaseConfig
	var logCfg config.LogConfig
	if err := multierr.Combine(envconfig.Process("", &dbCfg), envconfig.Process("", &logCfg)); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Options{Dir: logCfg.Dir, Service: "migrate", Level: logCfg.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	if err := run(os.Args[1], dbCfg.DSN, log); err != nil {
		log.Fatal("MIGRATE", err.Error())
	}
}

func run(cmd, dsn string, log *logger.Logger) (err error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	runner := migrations.NewRunner(sqlDB, log)
	defer func() { err = multierr.Append(err, runner.Close()) }()

	switch cmd {
	case "up":
		return runner.MigrateUp()
	case "down":
		if err := runner.MigrateDown(); err != nil {
			return err
		}
		log.Info("MIGRATE", "All migrations rolled back")
		return nil
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			return err
		}
		log.Info("MIGRATE", fmt.Sprintf("Schema version %d (dirty=%t)", version, dirty))
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
