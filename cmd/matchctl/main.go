// Command matchctl drives demand and match2 operations against the mirror
// and the ledger from the command line.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"matchmaker-ledger/internal/attachment"
	"matchmaker-ledger/internal/blobstore"
	"matchmaker-ledger/internal/config"
	"matchmaker-ledger/internal/domain"
	"matchmaker-ledger/internal/identity"
	"matchmaker-ledger/internal/ledger"
	"matchmaker-ledger/internal/lifecycle"
	"matchmaker-ledger/internal/logging"
	"matchmaker-ledger/internal/storage"
	pgstore "matchmaker-ledger/internal/storage/postgres"
)

type env struct {
	svc   *lifecycle.Service
	files *attachment.Service
	auth  string
}

type command struct {
	usage string
	args  int // minimum positional arguments
	run   func(ctx context.Context, e *env, args []string) (interface{}, error)
}

var commands = map[string]command{
	"attach": {"attach <file>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		content, err := os.ReadFile(args[0])
		if err != nil {
			return nil, err
		}
		return e.files.Create(ctx, filepath.Base(args[0]), content)
	}},
	"demand-create": {"demand-create <order|capacity> <parameters-attachment-id>", 2, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[1])
		if err != nil {
			return nil, err
		}
		return e.svc.CreateDemand(ctx, e.auth, domain.DemandSubtype(args[0]), id)
	}},
	"demand-submit": {"demand-submit <demand-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.CreateDemandOnChain(ctx, id)
	}},
	"demand-comment": {"demand-comment <demand-id> <attachment-id>", 2, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		ids, err := parseIDs(args[:2])
		if err != nil {
			return nil, err
		}
		return e.svc.CommentOnDemand(ctx, e.auth, ids[0], ids[1])
	}},
	"demand": {"demand <demand-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.GetDemand(ctx, e.auth, id)
	}},
	"demands": {"demands [order|capacity]", 0, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		var f storage.DemandFilter
		if len(args) > 0 {
			s := domain.DemandSubtype(args[0])
			f.Subtype = &s
		}
		return e.svc.ListDemands(ctx, e.auth, f)
	}},
	"comments": {"comments <demand-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.ListDemandComments(ctx, id)
	}},
	"match2-create": {"match2-create <order-demand-id> <capacity-demand-id> [replaces-match2-id]", 2, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		ids, err := parseIDs(args)
		if err != nil {
			return nil, err
		}
		var replaces *uuid.UUID
		if len(ids) > 2 {
			replaces = &ids[2]
		}
		return e.svc.CreateMatch2(ctx, e.auth, ids[0], ids[1], replaces)
	}},
	"match2-propose": {"match2-propose <match2-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.ProposeMatch2OnChain(ctx, id)
	}},
	"match2-accept": {"match2-accept <match2-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.AcceptMatch2OnChain(ctx, e.auth, id)
	}},
	"match2-reject": {"match2-reject <match2-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.RejectMatch2OnChain(ctx, e.auth, id)
	}},
	"match2-cancel": {"match2-cancel <match2-id> [reason-attachment-id]", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		ids, err := parseIDs(args)
		if err != nil {
			return nil, err
		}
		reason := uuid.Nil
		if len(ids) > 1 {
			reason = ids[1]
		}
		return e.svc.CancelMatch2OnChain(ctx, e.auth, ids[0], reason)
	}},
	"match2": {"match2 <match2-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.GetMatch2(ctx, e.auth, id)
	}},
	"match2s": {"match2s", 0, func(ctx context.Context, e *env, _ []string) (interface{}, error) {
		return e.svc.ListMatch2s(ctx, e.auth, storage.Match2Filter{})
	}},
	"tx": {"tx <transaction-id>", 1, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		id, err := domain.ParseID(args[0])
		if err != nil {
			return nil, err
		}
		return e.svc.GetTransaction(ctx, id)
	}},
	"txs": {"txs [local-id]", 0, func(ctx context.Context, e *env, args []string) (interface{}, error) {
		var f storage.TransactionFilter
		if len(args) > 0 {
			id, err := domain.ParseID(args[0])
			if err != nil {
				return nil, err
			}
			f.LocalID = &id
		}
		return e.svc.ListTransactions(ctx, f)
	}},
}

func main() {
	configPath := flag.String("config", os.Getenv("MATCHMAKER_CONFIG"), "Path to YAML config file")
	auth := flag.String("auth", os.Getenv("MATCHMAKER_AUTH"), "Bearer token forwarded to the identity service")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	args := flag.Args()[1:]
	if !ok || len(args) < cmd.args {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	// Keep stdout for command output.
	logger, err := logging.New("warn", "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out, err := run(ctx, cfg, *auth, cmd, args, logger)
	if err != nil {
		kind := domain.KindOf(err)
		fmt.Fprintf(os.Stderr, "Error (%s): %v\n", kind, err)
		switch kind {
		case domain.KindValidation, domain.KindConflict, domain.KindNotFound:
			os.Exit(3)
		}
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, auth string, cmd command, args []string, logger *zap.Logger) (interface{}, error) {
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	blobs := blobstore.NewClient(cfg.Blobstore.URL, blobstore.WithTimeout(cfg.Blobstore.Timeout))
	files := attachment.NewService(pgstore.NewAttachmentStore(pool), blobs, logger)

	client, err := ledger.NewClient(ctx, cfg.LedgerClient(), files, logger, nil)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	svc, err := lifecycle.New(lifecycle.Options{
		Ledger:             client,
		Identity:           identity.NewClient(cfg.Identity.URL, identity.WithTimeout(cfg.Identity.Timeout), identity.WithLogger(logger)),
		Attachments:        files,
		Demands:            pgstore.NewDemandStore(pool),
		Match2s:            pgstore.NewMatch2Store(pool),
		Transactions:       pgstore.NewTransactionStore(pool),
		Comments:           pgstore.NewDemandCommentStore(pool),
		AccelerateFinality: cfg.Submission.AccelerateFinality,
		DispatchTimeout:    cfg.Submission.DispatchTimeout,
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	out, runErr := cmd.run(ctx, &env{svc: svc, files: files, auth: auth}, args)

	// Wait for the submission to be dispatched, and watched when finality
	// acceleration is on, before the connection goes away.
	closeCtx, cancel := context.WithTimeout(ctx, cfg.Submission.DispatchTimeout+5*time.Second)
	defer cancel()
	if err := svc.Close(closeCtx); err != nil {
		logger.Warn("submission still in flight, the reconciler will settle it", zap.Error(err))
	}
	return out, runErr
}

func parseIDs(args []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, len(args))
	for i, a := range args {
		id, err := domain.ParseID(a)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: matchctl [-config file] [-auth token] <command> [args]\n\nCommands:\n")
	for _, name := range sortedCommands() {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func sortedCommands() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
