package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"matchmaker-ledger/internal/config"
	"matchmaker-ledger/internal/reporting"
	chstore "matchmaker-ledger/internal/storage/clickhouse"
	pgstore "matchmaker-ledger/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("MATCHMAKER_CONFIG"), "Path to YAML config file")
	format := flag.String("format", "md", "Output format: md or csv (csv lists stale transactions only)")
	output := flag.String("output", "", "Output file (default stdout)")
	staleAfter := flag.Duration("stale-after", 0, "Override reporting.stale_after")
	flag.Parse()

	if *format != "md" && *format != "csv" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q\n", *format)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *staleAfter > 0 {
		cfg.Reporting.StaleAfter = *staleAfter
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	out, err := render(ctx, cfg, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating report: %v\n", err)
		os.Exit(1)
	}

	if *output == "" {
		fmt.Print(out)
		return
	}
	if err := os.WriteFile(*output, []byte(out), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *output, err)
		os.Exit(1)
	}
	fmt.Printf("Report written to %s\n", *output)
}

func render(ctx context.Context, cfg *config.Config, format string) (string, error) {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return "", fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	gen := reporting.NewGenerator(
		pgstore.NewCheckpointStore(pool),
		pgstore.NewTransactionStore(pool),
		pgstore.NewDemandStore(pool),
		pgstore.NewMatch2Store(pool),
	).WithStaleAfter(cfg.Reporting.StaleAfter)

	if cfg.ClickHouse.Enabled {
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return "", fmt.Errorf("connect to clickhouse: %w", err)
		}
		defer conn.Close()
		gen = gen.WithArchive(chstore.NewEventArchive(conn))
	}

	r, err := gen.Generate(ctx)
	if err != nil {
		return "", err
	}
	if format == "csv" {
		return reporting.RenderCSV(r.StaleTransactions), nil
	}
	return reporting.RenderMarkdown(r), nil
}
