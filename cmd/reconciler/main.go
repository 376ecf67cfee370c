package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/attachment"
	"matchmaker-ledger/internal/blobstore"
	"matchmaker-ledger/internal/config"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/identity"
	"matchmaker-ledger/internal/indexer"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/logging"
	"matchmaker-ledger/internal/observability"
	"matchmaker-ledger/internal/processor"
	"matchmaker-ledger/internal/reporting"
	"matchmaker-ledger/internal/storage"
	chstore "matchmaker-ledger/internal/storage/clickhouse"
	pgstore "matchmaker-ledger/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("MATCHMAKER_CONFIG"), "Path to YAML config file (env overrides still apply)")
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

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing exit", zap.Stringer("signal", sig))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	close(done)
	cancel()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("shutdown complete")
	case indexer.IsFatal(err):
		logger.Error("indexer halted, the mirror needs operator attention", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	default:
		logger.Error("reconciler failed", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, reg)

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	lock, err := pgstore.AcquireProcessLock(ctx, pool)
	if err != nil {
		if errors.Is(err, storage.ErrLocked) {
			return fmt.Errorf("another reconciler is running against this database: %w", err)
		}
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			logger.Warn("release process lock", zap.Error(err))
		}
	}()

	blobs := blobstore.NewClient(cfg.Blobstore.URL, blobstore.WithTimeout(cfg.Blobstore.Timeout))
	files := attachment.NewService(pgstore.NewAttachmentStore(pool), blobs, logger)
	ids := identity.NewClient(cfg.Identity.URL, identity.WithTimeout(cfg.Identity.Timeout), identity.WithLogger(logger))

	client, err := ledger.NewClient(ctx, cfg.LedgerClient(), files, logger, metrics)
	if err != nil {
		return err
	}
	defer client.Close()

	var archive storage.EventArchive
	if cfg.ClickHouse.Enabled {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		defer conn.Close()
		archive = chstore.NewEventArchive(conn)
	}

	registry, err := processor.NewRegistry()
	if err != nil {
		return err
	}

	applier := pgstore.NewApplier(pool)
	checkpoints := pgstore.NewCheckpointStore(pool)
	transactions := pgstore.NewTransactionStore(pool)

	ix, err := indexer.New(indexer.Options{
		Source:            client,
		Applier:           applier,
		Lookup:            applier,
		Checkpoints:       checkpoints,
		Transactions:      transactions,
		Registry:          registry,
		Archive:           archive,
		PollInterval:      cfg.Indexer.PollInterval,
		MaxBlocksPerApply: cfg.Indexer.MaxBlocksPerApply,
		FetchWorkers:      cfg.Indexer.FetchWorkers,
		StartHeight:       cfg.Indexer.StartHeight,
		Retry:             cfg.Indexer.Retry.Retry(),
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return err
	}
	defer ix.Close()

	ops := observability.NewServer(cfg.Metrics.Addr, reg, logger)
	ops.AddCheck("indexer", ix.Health)
	ops.AddCheck("postgres", pool.Ping)
	ops.AddCheck("identity", ids.Health)
	ops.AddCheck("blobstore", blobs.Health)
	ops.AddCheck("ledger", func(context.Context) error {
		if !client.Connected() {
			return fmt.Errorf("%w: ledger disconnected", domain.ErrUnavailable)
		}
		return nil
	})
	ops.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops server shutdown", zap.Error(err))
		}
	}()

	gen := reporting.NewGenerator(checkpoints, transactions, pgstore.NewDemandStore(pool), pgstore.NewMatch2Store(pool)).
		WithStaleAfter(cfg.Reporting.StaleAfter)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Reporting.Schedule, func() { scanStale(ctx, gen, client, metrics, logger) }); err != nil {
		return fmt.Errorf("schedule stale scan: %w", err)
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	return ix.Run(ctx)
}

// scanStale logs transactions the mirror has not settled in time and resyncs
// the signer nonce, which a gap left by an abandoned submission would stall.
func scanStale(ctx context.Context, gen *reporting.Generator, client *ledger.Client, metrics *observability.Metrics, logger *zap.Logger) {
	stale, err := gen.Stale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("stale transaction scan failed", zap.Error(err))
		}
		return
	}
	metrics.TransactionsStale.Set(float64(len(stale)))
	for _, tx := range stale {
		logger.Warn("transaction still submitted",
			zap.Stringer("id", tx.ID),
			zap.Stringer("local_id", tx.LocalID),
			zap.String("type", string(tx.TransactionType)),
			zap.String("hash", tx.Hash),
			zap.Time("submitted_at", tx.SubmittedAt))
	}
	if len(stale) == 0 {
		return
	}
	if err := client.Resync(ctx); err != nil && ctx.Err() == nil {
		logger.Warn("nonce resync failed", zap.Error(err))
	}
}
