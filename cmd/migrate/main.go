package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"matchmaker-ledger/internal/config"
	"matchmaker-ledger/internal/logging"
	chstore "matchmaker-ledger/internal/storage/clickhouse"
	"matchmaker-ledger/internal/storage/migrations"
	pgstore "matchmaker-ledger/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("MATCHMAKER_CONFIG"), "Path to YAML config file")
	skipClickhouse := flag.Bool("skip-clickhouse", false, "Only migrate PostgreSQL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(ctx, cfg, *skipClickhouse, logger); err != nil {
		logger.Error("migration failed", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *config.Config, skipClickhouse bool, logger *zap.Logger) error {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info("postgres migrations applied", zap.Strings("versions", applied))

	if !cfg.ClickHouse.Enabled || skipClickhouse {
		return nil
	}
	conn, err := chstore.EnsureDatabase(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err = migrations.RunClickhouseMigrations(ctx, conn)
	if err != nil {
		return err
	}
	logger.Info("clickhouse migrations applied", zap.Strings("versions", applied))
	return nil
}
